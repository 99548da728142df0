package network

import (
	"encoding/xml"
	"fmt"
	"net/netip"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"
)

// dnsHostXML is the wire form of one DNS host entry.
type dnsHostXML struct {
	XMLName   xml.Name `xml:"host"`
	IP        string   `xml:"ip,attr"`
	Hostnames []string `xml:"hostname"`
}

// dhcpHostXML is the wire form of one DHCP host entry.
type dhcpHostXML struct {
	XMLName xml.Name `xml:"host"`
	MAC     string   `xml:"mac,attr,omitempty"`
	IP      string   `xml:"ip,attr,omitempty"`
}

// AddDNSEntry inserts a DNS host entry for ip at the front of the live
// network definition. Empty names are dropped.
func (m *Manager) AddDNSEntry(ip netip.Addr, names []string) error {
	entry := dnsHostXML{IP: ip.String()}
	for _, name := range names {
		if name != "" {
			entry.Hostnames = append(entry.Hostnames, name)
		}
	}

	return m.update(libvirt.NetworkUpdateCommandAddFirst, libvirt.NetworkSectionDNSHost, entry)
}

// AddDHCPEntry inserts a DHCP host entry binding mac to ip at the front of
// the live network definition.
func (m *Manager) AddDHCPEntry(ip netip.Addr, mac string) error {
	entry := dhcpHostXML{MAC: mac, IP: ip.String()}

	return m.update(libvirt.NetworkUpdateCommandAddFirst, libvirt.NetworkSectionIPDhcpHost, entry)
}

// RetractEntries removes every stale host entry belonging to a domain: DNS
// entries matching its IP, DHCP entries matching its IP, and DHCP entries
// matching any of its MAC addresses. The three removal passes each re-read
// the live descriptor immediately before mutating, since entries may have
// shifted between passes. After re-registration this guarantees at most one
// entry per IP/MAC pair, even across repeated start/stop cycles.
func (m *Manager) RetractEntries(ip netip.Addr, macs []string) error {
	if !ip.IsValid() {
		return nil
	}
	ipStr := ip.String()

	doc, err := m.liveDocument()
	if err != nil {
		return err
	}
	if doc.DNS != nil {
		for _, host := range doc.DNS.Host {
			if host.IP != ipStr {
				continue
			}
			entry := dnsHostXML{IP: host.IP}
			for _, hn := range host.Hostnames {
				entry.Hostnames = append(entry.Hostnames, hn.Hostname)
			}
			if err := m.update(libvirt.NetworkUpdateCommandDelete, libvirt.NetworkSectionDNSHost, entry); err != nil {
				return err
			}
		}
	}

	doc, err = m.liveDocument()
	if err != nil {
		return err
	}
	for _, host := range dhcpHosts(doc) {
		if host.IP != ipStr {
			continue
		}
		if err := m.deleteDHCPHost(host); err != nil {
			return err
		}
	}

	doc, err = m.liveDocument()
	if err != nil {
		return err
	}
	macSet := map[string]bool{}
	for _, mac := range macs {
		macSet[mac] = true
	}
	for _, host := range dhcpHosts(doc) {
		if !macSet[host.MAC] {
			continue
		}
		if err := m.deleteDHCPHost(host); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) deleteDHCPHost(host libvirtxml.NetworkDHCPHost) error {
	entry := dhcpHostXML{MAC: host.MAC, IP: host.IP}
	return m.update(libvirt.NetworkUpdateCommandDelete, libvirt.NetworkSectionIPDhcpHost, entry)
}

// update applies one atomic add/delete to a section of the live network.
func (m *Manager) update(cmd libvirt.NetworkUpdateCommand, section libvirt.NetworkUpdateSection, entry interface{}) error {
	data, err := xml.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal host entry: %w", err)
	}

	err = m.client.NetworkUpdateCompat(m.net, cmd, section, 0, string(data), libvirt.NetworkUpdateAffectLive)
	if err != nil {
		return fmt.Errorf("failed to update network %s: %w", m.name, err)
	}

	return nil
}

// dhcpHosts flattens the DHCP host entries across the network's IP elements.
func dhcpHosts(doc *libvirtxml.Network) []libvirtxml.NetworkDHCPHost {
	var hosts []libvirtxml.NetworkDHCPHost
	for _, ip := range doc.IPs {
		if ip.DHCP == nil {
			continue
		}
		hosts = append(hosts, ip.DHCP.Hosts...)
	}
	return hosts
}
