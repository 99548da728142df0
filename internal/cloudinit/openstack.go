package cloudinit

import (
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/google/uuid"
)

// sharedNetworkID tags the network entries that belong to the managed
// network. Static additional addresses get a fresh identifier instead.
const sharedNetworkID = "da5bb487-5193-4a65-a3df-4a0055a8c0d7"

// configDriveMetaData is the meta_data.json document of the config-drive
// dialect.
type configDriveMetaData struct {
	AvailabilityZone string            `json:"availability_zone"`
	Files            []string          `json:"files"`
	Hostname         string            `json:"hostname"`
	LaunchIndex      int               `json:"launch_index"`
	LocalHostname    string            `json:"local-hostname"`
	Name             string            `json:"name"`
	Meta             map[string]string `json:"meta"`
	PublicKeys       map[string]string `json:"public_keys"`
	UUID             string            `json:"uuid"`
	AdminPass        string            `json:"admin_pass"`
}

type networkLink struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	EthernetMACAddress string `json:"ethernet_mac_address"`
}

type networkRoute struct {
	Network string `json:"network"`
	Netmask string `json:"netmask"`
	Gateway string `json:"gateway"`
}

type staticNetwork struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Link      string         `json:"link"`
	IPAddress string         `json:"ip_address"`
	Netmask   string         `json:"netmask"`
	Routes    []networkRoute `json:"routes"`
	NetworkID string         `json:"network_id"`
}

type dhcpNetwork struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Link      string `json:"link"`
	NetworkID string `json:"network_id"`
}

type networkService struct {
	Type    string `json:"type"`
	Address string `json:"address"`
}

// configDriveNetworkData is the network_data.json document: one link per MAC
// address and one network entry per configured address.
type configDriveNetworkData struct {
	Links    []networkLink    `json:"links"`
	Networks []interface{}    `json:"networks"`
	Services []networkService `json:"services"`
}

// metaDataJSON renders the instance metadata document.
func (s *Seed) metaDataJSON() ([]byte, error) {
	hostname := s.FQDN
	if hostname == "" {
		hostname = s.Name
	}

	doc := configDriveMetaData{
		AvailabilityZone: "nova",
		Files:            []string{},
		Hostname:         hostname,
		LaunchIndex:      0,
		LocalHostname:    s.Name,
		Name:             s.Name,
		Meta:             map[string]string{},
		PublicKeys:       map[string]string{"default": s.SSHKey},
		UUID:             s.UUID,
		AdminPass:        s.RootPassword,
	}

	data, err := json.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal meta_data.json: %w", err)
	}
	return data, nil
}

// networkDataJSON renders the network topology document. The primary address
// carries the default route and points at the first link; each additional
// address gets its own entry against the following links, either a plain
// DHCP marker or a fully routed static entry.
func (s *Seed) networkDataJSON() ([]byte, error) {
	links := make([]networkLink, 0, len(s.MACAddresses))
	for i, mac := range s.MACAddresses {
		links = append(links, networkLink{
			ID:                 fmt.Sprintf("interface%d", i),
			Type:               "phy",
			EthernetMACAddress: mac,
		})
	}

	networks := []interface{}{
		staticNetwork{
			ID:        "private-ipv4",
			Type:      "ipv4",
			Link:      "interface0",
			IPAddress: s.Address.Addr().String(),
			Netmask:   dottedNetmask(s.Network.Bits()),
			Routes: []networkRoute{
				{
					Network: "0.0.0.0",
					Netmask: "0.0.0.0",
					Gateway: s.Gateway.String(),
				},
			},
			NetworkID: sharedNetworkID,
		},
	}

	for i, addr := range s.AdditionalAddresses {
		if addr == "" {
			continue
		}
		id := fmt.Sprintf("private-ipv4-%d", i)
		link := fmt.Sprintf("interface%d", i+1)

		if addr == "dhcp" {
			networks = append(networks, dhcpNetwork{
				ID:        id,
				Type:      "ipv4_dhcp",
				Link:      link,
				NetworkID: sharedNetworkID,
			})
			continue
		}

		if !strings.Contains(addr, "/") {
			addr += "/24"
		}
		prefix, err := netip.ParsePrefix(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid additional address %q: %w", addr, err)
		}
		networks = append(networks, staticNetwork{
			ID:        id,
			Type:      "ipv4",
			Link:      link,
			IPAddress: prefix.Addr().String(),
			Netmask:   dottedNetmask(prefix.Bits()),
			Routes:    []networkRoute{},
			NetworkID: uuid.NewString(),
		})
	}

	doc := configDriveNetworkData{
		Links:    links,
		Networks: networks,
		Services: []networkService{
			{Type: "dns", Address: s.DNS.String()},
		},
	}

	data, err := json.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal network_data.json: %w", err)
	}
	return data, nil
}

// dottedNetmask converts a prefix length to dotted-quad form.
func dottedNetmask(bits int) string {
	return net.IP(net.CIDRMask(bits, 32)).String()
}
