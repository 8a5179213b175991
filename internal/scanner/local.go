package scanner

import (
	"context"
	"net"
	"slices"
	"strconv"

	psnet "github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"
)

// LocalPrefixes returns the private IPv4 /24 prefixes of the host's
// interfaces that are up.
func LocalPrefixes(ctx context.Context) ([]string, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return prefixesOf(ifaces), nil
}

func prefixesOf(ifaces psnet.InterfaceStatList) []string {
	var prefixes []string
	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		for _, a := range iface.Addrs {
			ip, _, err := net.ParseCIDR(a.Addr)
			if err != nil {
				ip = net.ParseIP(a.Addr)
			}
			v4 := ip.To4()
			if v4 == nil || !v4.IsPrivate() {
				continue
			}
			p := strconv.Itoa(int(v4[0])) + "." + strconv.Itoa(int(v4[1])) + "." + strconv.Itoa(int(v4[2]))
			if !slices.Contains(prefixes, p) {
				prefixes = append(prefixes, p)
			}
		}
	}
	slices.Sort(prefixes)
	return prefixes
}

// ScanLocal runs one round on every local prefix and merges the results.
func (s *Scanner) ScanLocal(ctx context.Context, port int) ([]DiscoveredServer, error) {
	prefixes, err := LocalPrefixes(ctx)
	if err != nil {
		return nil, err
	}
	s.log.Debug("scanning local prefixes", zap.Strings("prefixes", prefixes))

	var all []DiscoveredServer
	for _, p := range prefixes {
		found, err := s.scanPrefix(ctx, p, port)
		if err != nil {
			return nil, err
		}
		all = append(all, found...)
	}
	return all, nil
}
