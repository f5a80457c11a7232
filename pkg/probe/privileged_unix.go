//go:build !windows

package probe

import "golang.org/x/sys/unix"

// DefaultPrivileged reports whether raw ICMP sockets are expected to work
func DefaultPrivileged() bool {
	return unix.Geteuid() == 0
}
