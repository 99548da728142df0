// Package vm orchestrates the provisioning lifecycle: end-to-end bring-up of
// a guest from a base image, seed generation and first boot, the
// DNS/DHCP registration dance, best-effort teardown and the reachability
// probe.
package vm

import (
	"fmt"
	"log"
	"os"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/arclight/internal/cloudinit"
	"github.com/jbweber/arclight/internal/config"
	"github.com/jbweber/arclight/internal/domain"
	"github.com/jbweber/arclight/internal/hypervisor"
	"github.com/jbweber/arclight/internal/network"
	"github.com/jbweber/arclight/internal/storage"
)

const (
	// DefaultPoolName is the storage pool the provisioner manages.
	DefaultPoolName = "arclight"

	// DefaultNetworkName is the managed bridged network.
	DefaultNetworkName = "arclight"

	// DefaultNetworkCIDR is the subnet addresses are allocated from.
	DefaultNetworkCIDR = "192.168.123.0/24"

	// seedVolumeSizeGB sizes the volume the seed image is uploaded into.
	seedVolumeSizeGB = 1
)

// Provisioner ties the domain, storage and network layers together for the
// lifecycle operations.
type Provisioner struct {
	Client  Client
	Storage storageManager
	Network networkManager

	// Host facts from capability probing.
	Arch       string
	DomainType string
	Emulator   string
	ISOTool    string

	PoolName    string
	NetworkName string
	NetworkCIDR string
}

// NewProvisioner wires a provisioner from a probed hypervisor session and
// the managers built on the same connection.
func NewProvisioner(session *hypervisor.Session, store *storage.Manager, net *network.Manager) *Provisioner {
	return &Provisioner{
		Client:      session.Libvirt(),
		Storage:     store,
		Network:     net,
		Arch:        session.Arch,
		DomainType:  session.DomainType,
		Emulator:    session.Emulator,
		ISOTool:     session.ISOTool,
		PoolName:    DefaultPoolName,
		NetworkName: DefaultNetworkName,
		NetworkCIDR: DefaultNetworkCIDR,
	}
}

// NIC requests an extra network interface beyond the managed primary one.
// IPv4 is empty, an address, or the "dhcp" marker; an empty Network falls
// back to the managed network, an empty Model to the configured default.
type NIC struct {
	Network string
	Model   string
	IPv4    string
}

// UpOptions describes one guest to bring up.
type UpOptions struct {
	Name   string
	Distro string

	// UserConfig is the per-guest configuration layer, merged over the
	// distro overrides and the built-in defaults.
	UserConfig config.Instance

	// DefaultUsername seeds the lowest configuration layer, normally the
	// invoking user's login name.
	DefaultUsername string

	// Provider forces the seed dialect ("nocloud") regardless of distro.
	Provider string

	RootDiskSizeGB uint64
	ExtraNICs      []NIC
}

// Up provisions and boots one guest: pool and network setup, domain
// definition, configuration plan, root disk chained to the base image, NIC
// attachment with an allocated address, seed media and first boot.
func (p *Provisioner) Up(opts UpOptions) (*domain.Domain, error) {
	if err := p.Storage.EnsurePool(p.PoolName); err != nil {
		return nil, err
	}
	if err := p.Network.Ensure(p.NetworkName, p.NetworkCIDR); err != nil {
		return nil, err
	}

	existing, err := domain.Lookup(p.Client, opts.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("domain %s already exists", opts.Name)
	}

	imagePath := p.Storage.BaseImagePath(opts.Distro)
	if _, err := os.Stat(imagePath); err != nil {
		available, listErr := p.Storage.ListBaseImages()
		if listErr != nil {
			return nil, fmt.Errorf("base image for %s not found at %s: %w", opts.Distro, imagePath, err)
		}
		return nil, fmt.Errorf("base image for %s not found at %s, available: %v", opts.Distro, imagePath, available)
	}

	log.Printf("Defining domain %s (%s)...", opts.Name, opts.Distro)
	d, err := domain.Define(p.Client, domain.DefineOptions{
		Name:       opts.Name,
		Distro:     opts.Distro,
		Arch:       p.Arch,
		DomainType: p.DomainType,
		Emulator:   p.Emulator,
	})
	if err != nil {
		return nil, err
	}

	distroLayer, err := config.LoadDistroOverrides(p.Storage.Dir(), opts.Distro)
	if err != nil {
		return nil, err
	}
	cfg := config.Resolve(config.Defaults(opts.DefaultUsername), distroLayer, opts.UserConfig)

	plan, err := domain.BuildPlan(&cfg)
	if err != nil {
		return nil, err
	}
	if err := d.Apply(plan); err != nil {
		return nil, err
	}

	log.Printf("Creating root disk for %s...", opts.Name)
	vol, err := p.Storage.CreateVolume(opts.Name, opts.RootDiskSizeGB, opts.Distro)
	if err != nil {
		return nil, err
	}
	volPath, err := p.Storage.VolumePath(vol)
	if err != nil {
		return nil, err
	}
	if _, err := d.AttachDisk(volPath, "disk", "qcow2"); err != nil {
		return nil, err
	}

	addr, err := p.Network.AllocateAddress()
	if err != nil {
		return nil, err
	}
	if err := d.AttachNetworkInterface(p.NetworkName, "", addr.String()); err != nil {
		return nil, err
	}
	for _, nic := range opts.ExtraNICs {
		name := nic.Network
		if name == "" {
			name = p.NetworkName
		}
		if err := d.AttachNetworkInterface(name, nic.Model, nic.IPv4); err != nil {
			return nil, err
		}
	}

	if err := p.Start(d, opts.Provider); err != nil {
		return nil, err
	}
	return d, nil
}

// Start builds the seed media for a configured domain, attaches it, boots
// the guest and registers its name and lease on the managed network.
func (p *Provisioner) Start(d *domain.Domain, provider string) error {
	distro, err := d.Distro()
	if err != nil {
		return err
	}
	dialect := cloudinit.SelectDialect(provider, distro)

	macs, err := d.MACAddresses()
	if err != nil {
		return err
	}
	addr, err := d.IPv4()
	if err != nil {
		return err
	}
	fqdn, err := d.FQDN()
	if err != nil {
		return err
	}
	rootPassword, err := d.RootPassword()
	if err != nil {
		return err
	}
	sshKey, err := d.SSHKey()
	if err != nil {
		return err
	}

	seed := &cloudinit.Seed{
		Dialect:             dialect,
		Name:                d.Name(),
		UUID:                d.UUID(),
		FQDN:                fqdn,
		SSHKey:              sshKey,
		RootPassword:        rootPassword,
		MACAddresses:        macs,
		Address:             addr,
		Gateway:             p.Network.Gateway(),
		DNS:                 p.Network.DNS(),
		Network:             p.Network.Network(),
		AdditionalAddresses: d.AdditionalAddresses(),
		UserData:            d.UserData,
	}

	log.Printf("Building %s seed for %s...", dialect, d.Name())
	image, err := seed.Build(p.ISOTool)
	if err != nil {
		return err
	}

	// A previous start cycle leaves its seed volume behind; replace it so
	// the media always matches the current configuration.
	if stale, err := p.Storage.LookupVolume(d.Name() + "-cidata.qcow2"); err == nil {
		if err := p.Storage.DeleteVolume(stale); err != nil {
			return err
		}
	} else if !hypervisor.HasErrorCode(err, libvirt.ErrNoStorageVol) {
		return err
	}

	vol, err := p.Storage.CreateVolume(d.Name()+"-cidata", seedVolumeSizeGB, "")
	if err != nil {
		return err
	}
	if err := p.Storage.WriteVolumeData(vol, image); err != nil {
		return err
	}
	volPath, err := p.Storage.VolumePath(vol)
	if err != nil {
		return err
	}
	attached, err := d.HasDiskAttached(volPath)
	if err != nil {
		return err
	}
	if !attached {
		if _, err := d.AttachDisk(volPath, "cdrom", "raw"); err != nil {
			return err
		}
	}

	log.Printf("Starting %s...", d.Name())
	if err := d.Create(); err != nil {
		return err
	}

	// Re-register from scratch so repeated start cycles leave exactly one
	// entry per domain.
	if err := p.Network.RetractEntries(addr.Addr(), macs); err != nil {
		return err
	}
	if err := p.Network.AddDNSEntry(addr.Addr(), []string{d.Name(), fqdn}); err != nil {
		return err
	}
	if err := p.Network.AddDHCPEntry(addr.Addr(), macs[0]); err != nil {
		return err
	}

	return nil
}
