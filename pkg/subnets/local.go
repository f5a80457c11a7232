package subnets

import (
	"net"
	"net/netip"
)

// LocalNetworks returns the private IPv4 networks of the up, non-loopback
// interfaces of this host, each widened to a /24.
func LocalNetworks() ([]netip.Prefix, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var networks []netip.Prefix
	seen := make(map[netip.Prefix]struct{})

	for _, iface := range interfaces {
		// Skip loopback and down interfaces
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil || !ip.IsPrivate() {
				continue
			}

			local, ok := netip.AddrFromSlice(ip)
			if !ok {
				continue
			}
			network24 := netip.PrefixFrom(local, 24).Masked()
			if _, exists := seen[network24]; exists {
				continue
			}
			seen[network24] = struct{}{}
			networks = append(networks, network24)
		}
	}

	return networks, nil
}
