package router

import (
	"context"
	"testing"
	"time"

	"github.com/openfpga/routerd/internal/arp"
)

// arpRetryStep advances the fake clock just past one retry interval.
const arpRetryStep = arp.RequestInterval + time.Millisecond

func testContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 10*time.Second)
}
