package probe

import (
	"context"
	"net/netip"
	"time"
)

// Prober sends one echo request to addr and waits up to timeout for the reply.
// It returns the round trip time and true on a reply, false otherwise.
type Prober interface {
	Probe(ctx context.Context, addr netip.Addr, timeout time.Duration) (time.Duration, bool)
}

// ProberFunc adapts a plain function to the Prober interface
type ProberFunc func(ctx context.Context, addr netip.Addr, timeout time.Duration) (time.Duration, bool)

// Probe calls f
func (f ProberFunc) Probe(ctx context.Context, addr netip.Addr, timeout time.Duration) (time.Duration, bool) {
	return f(ctx, addr, timeout)
}
