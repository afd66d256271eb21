package pwospf

import (
	"context"
	"testing"
	"time"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 10*time.Second)
}
