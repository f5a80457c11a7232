package subnets

import (
	"errors"
	"fmt"
	"net/netip"
	"path/filepath"
	"strconv"
	"strings"

	"go4.org/netipx"
)

// ErrInvalidSubnet is returned when a CIDR string cannot be used as an IPv4 subnet
var ErrInvalidSubnet = errors.New("invalid subnet")

const (
	// nameSeparator joins prefixes in the canonical name
	nameSeparator = "_"
	// bitsSeparator replaces '/' between network and prefix length
	bitsSeparator = "-"
	// FileExtension is appended to the canonical name to form a result file name
	FileExtension = ".bin"
)

// Set is a normalized, immutable collection of disjoint IPv4 prefixes
type Set struct {
	prefixes []netip.Prefix
	count    uint64
}

// Parse parses CIDR strings (e.g. "10.0.0.0/24") and normalizes them into a Set
func Parse(cidrs []string) (*Set, error) {
	if len(cidrs) == 0 {
		return nil, fmt.Errorf("%w: no subnets given", ErrInvalidSubnet)
	}

	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSubnet, raw, err)
		}
		if !prefix.Addr().Is4() {
			return nil, fmt.Errorf("%w: %q is not an IPv4 subnet", ErrInvalidSubnet, raw)
		}
		prefixes = append(prefixes, prefix.Masked())
	}

	return FromPrefixes(prefixes)
}

// FromPrefixes normalizes already parsed IPv4 prefixes into a Set
func FromPrefixes(prefixes []netip.Prefix) (*Set, error) {
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("%w: no subnets given", ErrInvalidSubnet)
	}

	var builder netipx.IPSetBuilder
	for _, prefix := range prefixes {
		if !prefix.IsValid() || !prefix.Addr().Is4() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSubnet, prefix)
		}
		builder.AddPrefix(prefix.Masked())
	}

	ipset, err := builder.IPSet()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubnet, err)
	}

	set := &Set{prefixes: ipset.Prefixes()}
	for _, prefix := range set.prefixes {
		set.count += HostCount(prefix)
	}
	return set, nil
}

// FromName decodes a canonical name produced by Set.Name. A trailing
// FileExtension and any directory components are ignored.
func FromName(name string) (*Set, error) {
	name = strings.TrimSuffix(filepath.Base(name), FileExtension)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidSubnet)
	}

	parts := strings.Split(name, nameSeparator)
	cidrs := make([]string, 0, len(parts))
	for _, part := range parts {
		idx := strings.LastIndex(part, bitsSeparator)
		if idx <= 0 {
			return nil, fmt.Errorf("%w: %q has no prefix length", ErrInvalidSubnet, part)
		}
		cidrs = append(cidrs, part[:idx]+"/"+part[idx+1:])
	}
	return Parse(cidrs)
}

// FromPath decodes the set encoded in a result file path
func FromPath(path string) (*Set, error) {
	return FromName(filepath.Base(path))
}

// Prefixes returns a copy of the normalized prefixes in ascending order
func (s *Set) Prefixes() []netip.Prefix {
	out := make([]netip.Prefix, len(s.prefixes))
	copy(out, s.prefixes)
	return out
}

// Name returns the canonical encoding of the set, e.g. "10.0.0.0-30_10.1.0.0-16"
func (s *Set) Name() string {
	var sb strings.Builder
	for i, prefix := range s.prefixes {
		if i > 0 {
			sb.WriteString(nameSeparator)
		}
		sb.WriteString(prefix.Addr().String())
		sb.WriteString(bitsSeparator)
		sb.WriteString(strconv.Itoa(prefix.Bits()))
	}
	return sb.String()
}

// String implements fmt.Stringer using CIDR notation
func (s *Set) String() string {
	parts := make([]string, 0, len(s.prefixes))
	for _, prefix := range s.prefixes {
		parts = append(parts, prefix.String())
	}
	return strings.Join(parts, ",")
}

// Count returns the number of addresses in the address sequence
func (s *Set) Count() uint64 {
	return s.count
}

// Hosts returns a fresh iterator positioned at the first address of the sequence
func (s *Set) Hosts() *Iterator {
	it := &Iterator{prefixes: s.prefixes}
	it.load()
	return it
}

// HostCount returns the number of usable hosts in an IPv4 prefix. The network
// and broadcast addresses are excluded below /31; a /31 has two hosts and a
// /32 has one.
func HostCount(prefix netip.Prefix) uint64 {
	if !prefix.Addr().Is4() {
		return 0
	}
	hostBits := 32 - prefix.Bits()
	if hostBits < 2 {
		return uint64(1) << hostBits
	}
	return (uint64(1) << hostBits) - 2
}

// IsNetworkOrBroadcast checks if an address is the network or broadcast address
// of prefix. Point-to-point /31 and host /32 prefixes have neither.
func IsNetworkOrBroadcast(addr netip.Addr, prefix netip.Prefix) bool {
	if prefix.Bits() >= 31 {
		return false
	}
	prefix = prefix.Masked()
	if addr == prefix.Addr() {
		return true
	}
	return addr == netipx.PrefixLastIP(prefix)
}
