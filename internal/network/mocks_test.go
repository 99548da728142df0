package network

import (
	"encoding/xml"
	"errors"
	"fmt"
	"sync"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"
)

var errTest = errors.New("test error")

// mockClient is an in-memory network backend. It keeps a live libvirtxml
// document and applies NetworkUpdateCompat mutations to it, which lets the
// reconciliation passes be tested against realistic descriptor churn.
type mockClient struct {
	mu sync.Mutex

	defined bool
	active  bool
	doc     libvirtxml.Network

	domains []libvirt.Domain
	meta    map[string]string

	defineCalls int
	createCalls int
	updateCalls int

	lookupErr error
	updateErr error
}

func newMockClient() *mockClient {
	return &mockClient{meta: map[string]string{}}
}

// withNetwork seeds the mock with an existing active network.
func (m *mockClient) withNetwork(name, gateway, netmask string) *mockClient {
	m.defined = true
	m.active = true
	m.doc = libvirtxml.Network{
		Name:   name,
		Bridge: &libvirtxml.NetworkBridge{Name: name},
		IPs: []libvirtxml.NetworkIP{
			{Address: gateway, Netmask: netmask},
		},
	}
	return m
}

// addDomainWithIP registers a defined domain with a persisted ipv4 metadata
// entry.
func (m *mockClient) addDomainWithIP(name, ip string) {
	dom := libvirt.Domain{Name: name}
	m.domains = append(m.domains, dom)
	if ip != "" {
		m.meta[name+"/ipv4"] = fmt.Sprintf(`<ipv4 name="%s"/>`, ip)
	}
}

func (m *mockClient) NetworkLookupByName(name string) (libvirt.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return libvirt.Network{}, m.lookupErr
	}
	if !m.defined {
		return libvirt.Network{}, libvirt.Error{Code: uint32(libvirt.ErrNoNetwork), Message: "network not found"}
	}
	return libvirt.Network{Name: m.doc.Name}, nil
}

func (m *mockClient) NetworkDefineXML(xmlDesc string) (libvirt.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defineCalls++
	var doc libvirtxml.Network
	if err := doc.Unmarshal(xmlDesc); err != nil {
		return libvirt.Network{}, err
	}
	m.doc = doc
	m.defined = true
	return libvirt.Network{Name: doc.Name}, nil
}

func (m *mockClient) NetworkCreate(net libvirt.Network) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.active = true
	return nil
}

func (m *mockClient) NetworkIsActive(net libvirt.Network) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return 1, nil
	}
	return 0, nil
}

func (m *mockClient) NetworkGetXMLDesc(net libvirt.Network, flags uint32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Marshal()
}

func (m *mockClient) NetworkUpdateCompat(net libvirt.Network, cmd libvirt.NetworkUpdateCommand, section libvirt.NetworkUpdateSection, parentIndex int32, xmlDesc string, flags libvirt.NetworkUpdateFlags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.updateErr != nil {
		return m.updateErr
	}

	switch section {
	case libvirt.NetworkSectionDNSHost:
		var entry dnsHostXML
		if err := xml.Unmarshal([]byte(xmlDesc), &entry); err != nil {
			return err
		}
		return m.applyDNSUpdate(cmd, entry)
	case libvirt.NetworkSectionIPDhcpHost:
		var entry dhcpHostXML
		if err := xml.Unmarshal([]byte(xmlDesc), &entry); err != nil {
			return err
		}
		return m.applyDHCPUpdate(cmd, entry)
	default:
		return fmt.Errorf("mock: unsupported section %d", section)
	}
}

func (m *mockClient) applyDNSUpdate(cmd libvirt.NetworkUpdateCommand, entry dnsHostXML) error {
	host := libvirtxml.NetworkDNSHost{IP: entry.IP}
	for _, name := range entry.Hostnames {
		host.Hostnames = append(host.Hostnames, libvirtxml.NetworkDNSHostHostname{Hostname: name})
	}

	switch cmd {
	case libvirt.NetworkUpdateCommandAddFirst:
		if m.doc.DNS == nil {
			m.doc.DNS = &libvirtxml.NetworkDNS{}
		}
		m.doc.DNS.Host = append([]libvirtxml.NetworkDNSHost{host}, m.doc.DNS.Host...)
		return nil
	case libvirt.NetworkUpdateCommandDelete:
		if m.doc.DNS == nil {
			return fmt.Errorf("mock: no dns section")
		}
		for i, existing := range m.doc.DNS.Host {
			if existing.IP == entry.IP {
				m.doc.DNS.Host = append(m.doc.DNS.Host[:i], m.doc.DNS.Host[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("mock: dns host %s not found", entry.IP)
	default:
		return fmt.Errorf("mock: unsupported dns command %d", cmd)
	}
}

func (m *mockClient) applyDHCPUpdate(cmd libvirt.NetworkUpdateCommand, entry dhcpHostXML) error {
	if len(m.doc.IPs) == 0 {
		return fmt.Errorf("mock: no ip element")
	}
	ip := &m.doc.IPs[0]

	switch cmd {
	case libvirt.NetworkUpdateCommandAddFirst:
		if ip.DHCP == nil {
			ip.DHCP = &libvirtxml.NetworkDHCP{}
		}
		host := libvirtxml.NetworkDHCPHost{MAC: entry.MAC, IP: entry.IP}
		ip.DHCP.Hosts = append([]libvirtxml.NetworkDHCPHost{host}, ip.DHCP.Hosts...)
		return nil
	case libvirt.NetworkUpdateCommandDelete:
		if ip.DHCP == nil {
			return fmt.Errorf("mock: no dhcp section")
		}
		for i, existing := range ip.DHCP.Hosts {
			if entry.MAC != "" && existing.MAC != entry.MAC {
				continue
			}
			if entry.IP != "" && existing.IP != entry.IP {
				continue
			}
			ip.DHCP.Hosts = append(ip.DHCP.Hosts[:i], ip.DHCP.Hosts[i+1:]...)
			return nil
		}
		return fmt.Errorf("mock: dhcp host %s/%s not found", entry.MAC, entry.IP)
	default:
		return fmt.Errorf("mock: unsupported dhcp command %d", cmd)
	}
}

func (m *mockClient) ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.domains, uint32(len(m.domains)), nil
}

func (m *mockClient) DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.meta[dom.Name+"/"+uri[0]]
	if !ok {
		return "", libvirt.Error{Code: uint32(libvirt.ErrNoDomainMetadata), Message: "metadata not found"}
	}
	return stored, nil
}

// dnsEntries returns the current DNS host entries for assertions.
func (m *mockClient) dnsEntries() []libvirtxml.NetworkDNSHost {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc.DNS == nil {
		return nil
	}
	return append([]libvirtxml.NetworkDNSHost(nil), m.doc.DNS.Host...)
}

// dhcpEntries returns the current DHCP host entries for assertions.
func (m *mockClient) dhcpEntries() []libvirtxml.NetworkDHCPHost {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.doc.IPs) == 0 || m.doc.IPs[0].DHCP == nil {
		return nil
	}
	return append([]libvirtxml.NetworkDHCPHost(nil), m.doc.IPs[0].DHCP.Hosts...)
}
