package probe

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/projectdiscovery/gcache"
	mapsutil "github.com/projectdiscovery/utils/maps"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	// readTimeout bounds each blocking read so the receiver notices Close
	readTimeout = 500 * time.Millisecond
	// maxReplySize is large enough for any echo reply on an ethernet link
	maxReplySize = 1500
	// lateReplyCacheSize caps the number of timed-out probes remembered
	lateReplyCacheSize = 65536
)

var (
	// DefaultPayload is the data carried by every echo request
	DefaultPayload = []byte("HELLO-R-U-THERE")
	// DefaultLateReplyWindow is how long a timed-out probe is remembered
	DefaultLateReplyWindow = 5 * time.Second
)

// Stats are cumulative counters of a Client
type Stats struct {
	Sent        uint64
	Received    uint64
	SendErrors  uint64
	LateReplies uint64
}

// pendingKey identifies an outstanding echo request. The echo ID is not part
// of the key because datagram sockets rewrite it.
type pendingKey struct {
	addr netip.Addr
	seq  uint16
}

// pendingProbe tracks a sent echo request waiting for its reply
type pendingProbe struct {
	start time.Time
	reply chan time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithPrivileged selects raw ICMP sockets (true) or datagram ICMP sockets (false)
func WithPrivileged(privileged bool) Option {
	return func(c *Client) {
		c.privileged = privileged
	}
}

// WithPayload sets the echo request data
func WithPayload(payload []byte) Option {
	return func(c *Client) {
		c.payload = append([]byte(nil), payload...)
	}
}

// WithLateReplyWindow sets how long timed-out probes are remembered so that
// their late replies are counted
func WithLateReplyWindow(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.lateWindow = d
		}
	}
}

// Client probes addresses over a single shared ICMP connection. It is safe
// for concurrent use.
type Client struct {
	privileged bool
	payload    []byte
	lateWindow time.Duration
	id         int

	conn    net.PacketConn
	seq     atomic.Uint32
	pending *mapsutil.SyncLockMap[pendingKey, *pendingProbe]
	late    gcache.Cache[pendingKey, struct{}]

	sent        atomic.Uint64
	received    atomic.Uint64
	sendErrors  atomic.Uint64
	lateReplies atomic.Uint64

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient opens the shared ICMP connection and starts the receiver
func NewClient(opts ...Option) (*Client, error) {
	c := newClient(opts...)

	network := "udp4"
	if c.privileged {
		network = "ip4:icmp"
	}
	conn, err := icmp.ListenPacket(network, "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", network, err)
	}
	c.start(conn)
	return c, nil
}

func newClient(opts ...Option) *Client {
	c := &Client{
		privileged: DefaultPrivileged(),
		payload:    DefaultPayload,
		lateWindow: DefaultLateReplyWindow,
		id:         os.Getpid() & 0xffff,
		pending:    mapsutil.NewSyncLockMap[pendingKey, *pendingProbe](),
		closed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.late = gcache.New[pendingKey, struct{}](lateReplyCacheSize).
		LRU().
		Expiration(c.lateWindow).
		Build()
	return c
}

func (c *Client) start(conn net.PacketConn) {
	c.conn = conn
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.receive()
	}()
}

// Privileged reports whether the client uses a raw ICMP socket
func (c *Client) Privileged() bool {
	return c.privileged
}

// Probe implements Prober
func (c *Client) Probe(ctx context.Context, addr netip.Addr, timeout time.Duration) (time.Duration, bool) {
	select {
	case <-c.closed:
		return 0, false
	default:
	}

	key, pending := c.register(addr)

	if err := c.send(addr, key.seq); err != nil {
		c.pending.Delete(key)
		c.sendErrors.Add(1)
		return 0, false
	}
	c.sent.Add(1)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rtt := <-pending.reply:
		return rtt, true
	case <-timer.C:
	case <-ctx.Done():
	case <-c.closed:
	}

	c.pending.Delete(key)
	// the reply may have been delivered while the timer fired
	select {
	case rtt := <-pending.reply:
		return rtt, true
	default:
	}
	_ = c.late.Set(key, struct{}{})
	return 0, false
}

// register records a pending probe under a fresh sequence number
func (c *Client) register(addr netip.Addr) (pendingKey, *pendingProbe) {
	key := pendingKey{addr: addr, seq: uint16(c.seq.Add(1))}
	pending := &pendingProbe{
		start: time.Now(),
		reply: make(chan time.Duration, 1),
	}
	_ = c.pending.Set(key, pending)
	return key, pending
}

// send writes an echo request to addr
func (c *Client) send(addr netip.Addr, seq uint16) error {
	msg := &icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   c.id,
			Seq:  int(seq),
			Data: c.payload,
		},
	}
	b, err := msg.Marshal(nil)
	if err != nil {
		return fmt.Errorf("failed to marshal ICMP message: %w", err)
	}

	var dst net.Addr = &net.IPAddr{IP: addr.AsSlice()}
	if !c.privileged {
		dst = &net.UDPAddr{IP: addr.AsSlice()}
	}
	_, err = c.conn.WriteTo(b, dst)
	return err
}

// receive reads replies until the client is closed
func (c *Client) receive() {
	buf := make([]byte, maxReplySize)
	backoff := time.NewTimer(readTimeout)
	backoff.Stop()
	defer backoff.Stop()
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			backoff.Reset(readTimeout)
			select {
			case <-c.closed:
				return
			case <-backoff.C:
			}
			continue
		}

		n, peer, err := c.conn.ReadFrom(buf)
		if err != nil {
			continue
		}
		c.handle(buf[:n], peer, time.Now())
	}
}

// handle matches one received packet against the pending table
func (c *Client) handle(b []byte, peer net.Addr, now time.Time) {
	msg, err := icmp.ParseMessage(ipv4.ICMPTypeEchoReply.Protocol(), b)
	if err != nil || msg.Type != ipv4.ICMPTypeEchoReply {
		return
	}
	echo, ok := msg.Body.(*icmp.Echo)
	if !ok {
		return
	}
	// raw sockets see every reply on the host
	if c.privileged && echo.ID != c.id {
		return
	}
	from, ok := peerAddr(peer)
	if !ok {
		return
	}

	key := pendingKey{addr: from, seq: uint16(echo.Seq)}
	pending, exists := c.pending.Get(key)
	if !exists {
		if c.late.Has(key) {
			_ = c.late.Remove(key)
			c.lateReplies.Add(1)
		}
		return
	}
	c.pending.Delete(key)
	c.received.Add(1)

	select {
	case pending.reply <- now.Sub(pending.start):
	default:
	}
}

// peerAddr extracts the IPv4 source of a reply
func peerAddr(addr net.Addr) (netip.Addr, bool) {
	var ip net.IP
	switch a := addr.(type) {
	case *net.IPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	default:
		return netip.Addr{}, false
	}
	parsed, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, false
	}
	return parsed.Unmap(), true
}

// Stats returns a snapshot of the client counters
func (c *Client) Stats() Stats {
	return Stats{
		Sent:        c.sent.Load(),
		Received:    c.received.Load(),
		SendErrors:  c.sendErrors.Load(),
		LateReplies: c.lateReplies.Load(),
	}
}

// Close stops the receiver and closes the connection. Probes still waiting
// return false.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.wg.Wait()
	})
	return err
}
