package network

import (
	"fmt"
	"net/netip"

	"github.com/jbweber/arclight/internal/metadata"
)

// reservedHostOctets marks the low addresses of the range (host octet < 5)
// that are permanently reserved for infrastructure and never allocated.
const reservedHostOctets = 5

// AllocateAddress returns the next free interface address of the managed
// network.
//
// The used set is rebuilt from scratch on every call: the gateway plus every
// address recorded in any defined domain's persisted ipv4 metadata. There is
// no separate tracking table. On top of that, the allocator never goes
// backwards within one process run (monotonic cursor), so an address handed
// out but not yet persisted by its owner cannot be handed out again.
func (m *Manager) AllocateAddress() (netip.Prefix, error) {
	used, err := m.usedAddresses()
	if err != nil {
		return netip.Prefix{}, err
	}

	for addr := m.network.Addr(); m.network.Contains(addr); addr = addr.Next() {
		if hostOctet(addr) < reservedHostOctets {
			continue
		}
		if m.lastFree.IsValid() && addr.Compare(m.lastFree) <= 0 {
			continue
		}
		if used[addr] {
			continue
		}
		m.lastFree = addr
		return netip.PrefixFrom(addr, m.network.Bits()), nil
	}

	return netip.Prefix{}, fmt.Errorf("no free address left in %s", m.network)
}

// usedAddresses builds the set of addresses that must not be allocated: the
// gateway and every address persisted in a defined domain's ipv4 metadata.
func (m *Manager) usedAddresses() (map[netip.Addr]bool, error) {
	used := map[netip.Addr]bool{m.gateway: true}

	domains, _, err := m.client.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}

	for _, dom := range domains {
		ipStr, err := metadata.Get(m.client, dom, "ipv4")
		if err != nil {
			return nil, err
		}
		if ipStr == "" {
			continue
		}
		addr, err := parseInterfaceAddr(ipStr)
		if err != nil {
			// A malformed persisted address cannot collide with
			// anything the allocator hands out.
			continue
		}
		used[addr] = true
	}

	return used, nil
}

// parseInterfaceAddr accepts both plain addresses and CIDR interface form.
func parseInterfaceAddr(s string) (netip.Addr, error) {
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return prefix.Addr(), nil
	}
	return netip.ParseAddr(s)
}

func hostOctet(addr netip.Addr) int {
	b := addr.As4()
	return int(b[3])
}
