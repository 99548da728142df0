package vm

import (
	"net/netip"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/arclight/internal/domain"
)

// Client defines the libvirt operations needed on top of domain management
// for the provisioning lifecycle.
//
// In production, this is satisfied by *libvirt.Libvirt directly.
// In tests, this is satisfied by mock implementations.
type Client interface {
	domain.Client

	// DomainDestroy force-stops a domain
	DomainDestroy(dom libvirt.Domain) error

	// DomainUndefineFlags undefines a domain together with its leftovers
	DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
}

// storageManager defines the storage operations needed for provisioning.
//
// In production, this is satisfied by *storage.Manager.
type storageManager interface {
	EnsurePool(name string) error
	Dir() string
	Refresh() error
	CreateVolume(name string, sizeGB uint64, backingImage string) (libvirt.StorageVol, error)
	VolumePath(vol libvirt.StorageVol) (string, error)
	LookupVolume(name string) (libvirt.StorageVol, error)
	DeleteVolume(vol libvirt.StorageVol) error
	WriteVolumeData(vol libvirt.StorageVol, data []byte) error
	BaseImagePath(distro string) string
	ListBaseImages() ([]string, error)
}

// networkManager defines the managed-network operations needed for
// provisioning.
//
// In production, this is satisfied by *network.Manager.
type networkManager interface {
	Ensure(name, cidr string) error
	Name() string
	Gateway() netip.Addr
	DNS() netip.Addr
	Network() netip.Prefix
	AllocateAddress() (netip.Prefix, error)
	AddDNSEntry(ip netip.Addr, names []string) error
	AddDHCPEntry(ip netip.Addr, mac string) error
	RetractEntries(ip netip.Addr, macs []string) error
}
