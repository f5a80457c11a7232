package subnets

import (
	"encoding/binary"
	"net/netip"

	"go4.org/netipx"
)

// Iterator walks the address sequence of a Set. It is not safe for concurrent use.
type Iterator struct {
	prefixes []netip.Prefix
	index    int    // current prefix
	next     uint32 // next host of the current prefix
	last     uint32 // last host of the current prefix
	empty    bool   // current prefix has no hosts left
}

// Next returns the next address, or false once the sequence is exhausted
func (it *Iterator) Next() (netip.Addr, bool) {
	for it.index < len(it.prefixes) {
		if !it.empty {
			addr := uint32ToAddr(it.next)
			if it.next == it.last {
				it.empty = true
			} else {
				it.next++
			}
			return addr, true
		}
		it.index++
		it.load()
	}
	return netip.Addr{}, false
}

// Skip advances the iterator by n addresses without visiting them. Skipping
// past the end leaves the iterator exhausted.
func (it *Iterator) Skip(n uint64) {
	for n > 0 && it.index < len(it.prefixes) {
		if it.empty {
			it.index++
			it.load()
			continue
		}
		left := uint64(it.last-it.next) + 1
		if n < left {
			it.next += uint32(n)
			return
		}
		n -= left
		it.empty = true
	}
}

// load positions the iterator at the first host of prefixes[index]
func (it *Iterator) load() {
	if it.index >= len(it.prefixes) {
		it.empty = true
		return
	}
	prefix := it.prefixes[it.index]
	first, last := prefix.Addr(), netipx.PrefixLastIP(prefix)
	it.next, it.last = addrToUint32(first), addrToUint32(last)
	if IsNetworkOrBroadcast(first, prefix) {
		it.next++
	}
	if IsNetworkOrBroadcast(last, prefix) {
		it.last--
	}
	it.empty = false
}

func addrToUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

func uint32ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
