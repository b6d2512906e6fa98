// Package discovery finds unconfigured YouLess meters on the local network
// by scanning candidate /24 ranges and probing every host address.
package discovery

import (
	"net"
	"strconv"
)

// Subnet is one candidate /24 range, derived from a local interface address.
type Subnet struct {
	Base    string // first three octets, e.g. "192.168.1"
	Netmask string
}

// Subnets returns one candidate per non-loopback IPv4 interface address.
// It never fails; a host without usable IPv4 addresses yields an empty list.
func Subnets() []Subnet {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	return subnetsFromAddrs(addrs)
}

func subnetsFromAddrs(addrs []net.Addr) []Subnet {
	var subnets []Subnet
	seen := make(map[string]struct{})
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() {
			continue
		}
		base := joinBase(ip)
		if _, dup := seen[base]; dup {
			continue
		}
		seen[base] = struct{}{}
		subnets = append(subnets, Subnet{
			Base:    base,
			Netmask: net.IP(ipNet.Mask).String(),
		})
	}
	return subnets
}

func joinBase(ip net.IP) string {
	prefix := net.IPv4(ip[0], ip[1], ip[2], 0).String()
	// Trim the trailing ".0".
	return prefix[:len(prefix)-2]
}

// Hosts expands a subnet into its 254 probe targets, base.1 through base.254.
func (s Subnet) Hosts() []string {
	hosts := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		hosts = append(hosts, s.Base+"."+strconv.Itoa(i))
	}
	return hosts
}
