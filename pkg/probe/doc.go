// Package probe sends ICMP echo requests and waits for their replies.
//
// A Client owns one ICMP connection shared by every probe. Outstanding
// requests are tracked by (address, sequence) and a single receiver goroutine
// matches replies back to the probe waiting on them:
//
//	client, err := probe.NewClient()
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	rtt, ok := client.Probe(ctx, netip.MustParseAddr("10.0.0.1"), 2*time.Second)
//
// Privilege Requirements:
//   - Raw ICMP sockets (ip4:icmp) require root on most systems
//   - Unprivileged mode uses datagram ICMP sockets (udp4), which on Linux must be
//     allowed by net.ipv4.ping_group_range
//
// A probe never returns an error: a send failure, a timeout or a cancelled
// context all report the address as unreachable.
package probe
