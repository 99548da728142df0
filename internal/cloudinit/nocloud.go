package cloudinit

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// eniMetaData is the meta-data file of the NoCloud dialect: instance identity
// plus an interfaces(5)-style fragment for guests whose cloud-init predates
// the network-config formats.
const eniMetaData = `instance-id: %[1]s
local-hostname: %[1]s
network-interfaces: |
  auto eth0
  iface eth0 inet static
    address %[2]s
    network %[3]s
    gateway %[4]s
`

// networkConfigV1 is the network-config document, version 1 format.
type networkConfigV1 struct {
	Version int               `yaml:"version"`
	Config  []physicalNetwork `yaml:"config"`
}

type physicalNetwork struct {
	Type       string       `yaml:"type"`
	Name       string       `yaml:"name"`
	MACAddress string       `yaml:"mac_address"`
	Subnets    []subnetText `yaml:"subnets"`
}

type subnetText struct {
	Type           string   `yaml:"type"`
	Address        string   `yaml:"address"`
	Gateway        string   `yaml:"gateway"`
	DNSNameservers []string `yaml:"dns_nameservers"`
}

// noCloudMetaData renders the ENI-style meta-data file.
func (s *Seed) noCloudMetaData() string {
	return fmt.Sprintf(eniMetaData,
		s.Name,
		s.Address.Addr().String(),
		s.Network.String(),
		s.Gateway.String())
}

// noCloudNetworkConfig renders the network-config file. Only the primary
// interface is represented; additional addresses are not expressible in this
// dialect.
func (s *Seed) noCloudNetworkConfig() ([]byte, error) {
	doc := networkConfigV1{
		Version: 1,
		Config: []physicalNetwork{
			{
				Type:       "physical",
				Name:       "eth0",
				MACAddress: s.MACAddresses[0],
				Subnets: []subnetText{
					{
						Type:           "static",
						Address:        s.Address.String(),
						Gateway:        s.Gateway.String(),
						DNSNameservers: []string{s.DNS.String()},
					},
				},
			},
		},
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal network-config: %w", err)
	}
	return data, nil
}
