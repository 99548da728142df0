package domain

import (
	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/arclight/internal/metadata"
)

// Client defines the libvirt operations needed for domain management.
//
// In production, this is satisfied by *libvirt.Libvirt directly.
// In tests, this is satisfied by mock implementations.
type Client interface {
	metadata.Client

	// DomainDefineXML defines a persistent domain from XML
	DomainDefineXML(xml string) (libvirt.Domain, error)

	// DomainLookupByName looks up a domain by name
	DomainLookupByName(name string) (libvirt.Domain, error)

	// ConnectListAllDomains lists defined domains, active or not
	ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)

	// NodeGetInfo reports host hardware characteristics
	NodeGetInfo() (model [32]int8, memory uint64, cpus int32, mhz int32, nodes int32, sockets int32, cores int32, threads int32, err error)

	// DomainGetXMLDesc returns the domain's live definition
	DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error)

	// DomainAttachDeviceFlags attaches a device described by XML
	DomainAttachDeviceFlags(dom libvirt.Domain, xml string, flags uint32) error

	// DomainSetVcpusFlags adjusts the domain's vCPU count
	DomainSetVcpusFlags(dom libvirt.Domain, vcpus uint32, flags uint32) error

	// DomainSetMemoryFlags adjusts the domain's memory allocation
	DomainSetMemoryFlags(dom libvirt.Domain, memory uint64, flags uint32) error

	// DomainCreate starts a defined domain
	DomainCreate(dom libvirt.Domain) error

	// DomainGetState gets the state of a domain
	DomainGetState(dom libvirt.Domain, flags uint32) (state int32, reason int32, err error)
}
