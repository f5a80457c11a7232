// Package subnets expands a set of IPv4 CIDR blocks into the ordered address
// sequence swept by pingmap, and encodes the set as a file name.
//
// Input blocks are merged into the minimal sorted list of disjoint prefixes.
// The address sequence walks those prefixes in ascending order and yields every
// usable host of each one, skipping the network and broadcast addresses of
// blocks wider than /31. A /31 contributes both of its addresses and a /32 its
// single address.
//
// The name is the only schema a result file carries: each prefix is written as
// <network>-<bits> and prefixes are joined with '_'. Decoding the name with
// FromName rebuilds the same set and so the same address sequence, which is how
// a reader maps record i back to its address.
//
// Example:
//
//	set, err := subnets.Parse([]string{"10.0.0.0/30"})
//	// set.Name() == "10.0.0.0-30"
//	it := set.Hosts()
//	for addr, ok := it.Next(); ok; addr, ok = it.Next() {
//		// 10.0.0.1, 10.0.0.2
//	}
package subnets
