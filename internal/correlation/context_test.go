package correlation

import (
	"context"
	"testing"
)

func TestQueryIDRoundTrip(t *testing.T) {
	ctx := WithQueryID(context.Background(), "q-42")
	if got := QueryID(ctx); got != "q-42" {
		t.Errorf("QueryID = %q, want q-42", got)
	}
}

func TestQueryIDUnset(t *testing.T) {
	if got := QueryID(context.Background()); got != "" {
		t.Errorf("QueryID = %q, want empty", got)
	}
}

func TestWithQueryIDEmptyKeepsContext(t *testing.T) {
	parent := context.Background()
	if ctx := WithQueryID(parent, ""); ctx != parent {
		t.Error("empty id should return the parent context")
	}
}
