//go:build windows

package probe

// DefaultPrivileged is always true: Windows has no datagram ICMP sockets
func DefaultPrivileged() bool {
	return true
}
