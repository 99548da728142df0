// Package network owns the managed virtual network: lookup/create and
// activation, gateway and DNS derivation, IPv4 allocation, and DNS/DHCP
// host-entry reconciliation.
package network

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/arclight/internal/hypervisor"
)

// Client defines the libvirt operations needed for network management.
// In production this is satisfied by *libvirt.Libvirt directly.
type Client interface {
	NetworkLookupByName(Name string) (libvirt.Network, error)
	NetworkDefineXML(XML string) (libvirt.Network, error)
	NetworkCreate(Net libvirt.Network) error
	NetworkIsActive(Net libvirt.Network) (int32, error)
	NetworkGetXMLDesc(Net libvirt.Network, Flags uint32) (string, error)
	NetworkUpdateCompat(Net libvirt.Network, Command libvirt.NetworkUpdateCommand, Section libvirt.NetworkUpdateSection, ParentIndex int32, XML string, Flags libvirt.NetworkUpdateFlags) error
	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)
	DomainGetMetadata(Dom libvirt.Domain, Type int32, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) (string, error)
}

// Manager owns one managed network for the lifetime of a session. It is not
// safe for concurrent use: the allocator scan and the reconciliation passes
// assume single-writer access to the network.
type Manager struct {
	client Client

	// DNSOverride, when set before Ensure, decouples the DNS address from
	// the gateway. By default they coincide.
	DNSOverride netip.Addr

	name    string
	net     libvirt.Network
	gateway netip.Addr
	dns     netip.Addr
	network netip.Prefix

	// lastFree is the allocator's monotonic forward cursor. It prevents
	// handing out an address twice within one process run before the
	// owning domain has persisted it.
	lastFree netip.Addr
}

// NewManager creates a network manager. Ensure must be called before any
// allocation or reconciliation.
func NewManager(client Client) *Manager {
	return &Manager{client: client}
}

// Ensure looks up the managed network by name, defines it if absent with the
// first usable address of cidr as gateway, and activates it if inactive.
// It is idempotent and safe to call on every run. On return the gateway, DNS
// and network range are derived from the live network document.
func (m *Manager) Ensure(name, cidr string) error {
	m.name = name

	nw, err := m.client.NetworkLookupByName(name)
	if err != nil {
		if !hypervisor.HasErrorCode(err, libvirt.ErrNoNetwork) {
			return fmt.Errorf("failed to look up network %s: %w", name, err)
		}

		xmlDesc, buildErr := buildNetworkXML(name, cidr)
		if buildErr != nil {
			return buildErr
		}
		nw, err = m.client.NetworkDefineXML(xmlDesc)
		if err != nil {
			return fmt.Errorf("failed to define network %s: %w", name, err)
		}
	}

	active, err := m.client.NetworkIsActive(nw)
	if err != nil {
		return fmt.Errorf("failed to check network state: %w", err)
	}
	if active == 0 {
		if err := m.client.NetworkCreate(nw); err != nil {
			return fmt.Errorf("failed to activate network %s: %w", name, err)
		}
	}

	m.net = nw
	return m.deriveAddressing()
}

// deriveAddressing reads the live network document and caches the gateway,
// DNS address and network range.
func (m *Manager) deriveAddressing() error {
	doc, err := m.liveDocument()
	if err != nil {
		return err
	}

	if len(doc.IPs) == 0 {
		return fmt.Errorf("network %s has no IP element", m.name)
	}

	ip := doc.IPs[0]
	gw, err := netip.ParseAddr(ip.Address)
	if err != nil {
		return fmt.Errorf("failed to parse network address %q: %w", ip.Address, err)
	}

	bits, err := netmaskBits(ip.Netmask)
	if err != nil {
		return err
	}

	m.gateway = gw
	m.network = netip.PrefixFrom(gw, bits).Masked()
	m.dns = gw
	if m.DNSOverride.IsValid() {
		m.dns = m.DNSOverride
	}

	return nil
}

// liveDocument fetches and parses the current network descriptor.
func (m *Manager) liveDocument() (*libvirtxml.Network, error) {
	xmlDesc, err := m.client.NetworkGetXMLDesc(m.net, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read network XML: %w", err)
	}

	var doc libvirtxml.Network
	if err := doc.Unmarshal(xmlDesc); err != nil {
		return nil, fmt.Errorf("failed to parse network XML: %w", err)
	}

	return &doc, nil
}

// Name returns the managed network's name.
func (m *Manager) Name() string {
	return m.name
}

// Gateway returns the gateway address of the managed network.
func (m *Manager) Gateway() netip.Addr {
	return m.gateway
}

// DNS returns the DNS server address, which is the gateway unless overridden.
func (m *Manager) DNS() netip.Addr {
	return m.dns
}

// Network returns the managed network's range.
func (m *Manager) Network() netip.Prefix {
	return m.network
}

// Netmask returns the network's netmask in dotted-quad form.
func (m *Manager) Netmask() string {
	return net.IP(net.CIDRMask(m.network.Bits(), 32)).String()
}

// buildNetworkXML produces a NATed bridge network definition whose gateway is
// the first usable address of cidr.
func buildNetworkXML(name, cidr string) (string, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return "", fmt.Errorf("invalid network CIDR %q: %w", cidr, err)
	}

	gateway := prefix.Masked().Addr().Next()
	netmask := net.IP(net.CIDRMask(prefix.Bits(), 32)).String()

	doc := libvirtxml.Network{
		Name: name,
		Forward: &libvirtxml.NetworkForward{
			Mode: "nat",
		},
		Bridge: &libvirtxml.NetworkBridge{
			Name:  name,
			STP:   "on",
			Delay: "0",
		},
		IPs: []libvirtxml.NetworkIP{
			{
				Address: gateway.String(),
				Netmask: netmask,
			},
		},
	}

	xmlDesc, err := doc.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal network XML: %w", err)
	}

	return xmlDesc, nil
}

// netmaskBits converts a dotted-quad netmask to a prefix length.
func netmaskBits(netmask string) (int, error) {
	ip := net.ParseIP(netmask)
	if ip == nil {
		return 0, fmt.Errorf("invalid netmask %q", netmask)
	}
	bits, total := net.IPMask(ip.To4()).Size()
	if total != 32 {
		return 0, fmt.Errorf("invalid netmask %q", netmask)
	}
	return bits, nil
}
