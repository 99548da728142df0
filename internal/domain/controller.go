// Package domain defines guest domains and manipulates their hardware and
// persisted attributes: definition from host capabilities, the configuration
// plan/apply cycle, device attachment and the metadata-backed state
// accessors other packages read back.
package domain

import (
	"fmt"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/arclight/internal/cloudinit"
	"github.com/jbweber/arclight/internal/hypervisor"
	"github.com/jbweber/arclight/internal/metadata"
)

// Domain wraps one defined guest and the provisioning state accumulated for
// it before first boot.
type Domain struct {
	client Client
	dom    libvirt.Domain

	// UserData accumulates cloud-config directives while the domain is
	// configured; the seed builder renders it at start time.
	UserData *cloudinit.UserData

	nicModel       string
	additionalIPv4 []string
	nextBlockIndex int
}

// DefineOptions carries the host facts a new domain definition is built
// from, normally taken from a hypervisor.Session.
type DefineOptions struct {
	Name       string
	Distro     string
	Arch       string
	DomainType string
	Emulator   string
}

// defaultMemoryMB sizes the definition until the configuration plan is
// applied.
const defaultMemoryMB = 768

// Define creates a persistent domain from the host capabilities and records
// the distro it was provisioned from. An empty name gets a short random one.
func Define(client Client, opts DefineOptions) (*Domain, error) {
	name := opts.Name
	if name == "" {
		name = strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	}

	_, _, cpus, _, _, _, _, _, err := client.NodeGetInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to query host info: %w", err)
	}

	xmlDesc, err := buildDomainXML(name, opts, uint(cpus))
	if err != nil {
		return nil, err
	}

	dom, err := client.DomainDefineXML(xmlDesc)
	if err != nil {
		return nil, fmt.Errorf("failed to define domain %s: %w", name, err)
	}

	d := &Domain{
		client:   client,
		dom:      dom,
		UserData: cloudinit.NewUserData(),
	}

	if opts.Distro != "" {
		if err := metadata.Set(client, dom, "distro", opts.Distro); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Lookup fetches a defined domain by name. Absent domains yield nil without
// an error.
func Lookup(client Client, name string) (*Domain, error) {
	dom, err := client.DomainLookupByName(name)
	if err != nil {
		if hypervisor.HasErrorCode(err, libvirt.ErrNoDomain) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up domain %s: %w", name, err)
	}
	return &Domain{client: client, dom: dom, UserData: cloudinit.NewUserData()}, nil
}

// List enumerates every defined domain, running or not.
func List(client Client) ([]*Domain, error) {
	doms, _, err := client.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}

	domains := make([]*Domain, 0, len(doms))
	for _, dom := range doms {
		domains = append(domains, &Domain{client: client, dom: dom, UserData: cloudinit.NewUserData()})
	}
	return domains, nil
}

// Name returns the domain's libvirt name.
func (d *Domain) Name() string {
	return d.dom.Name
}

// UUID returns the domain's identifier in canonical form.
func (d *Domain) UUID() string {
	return uuid.UUID(d.dom.UUID).String()
}

// Create boots the defined domain.
func (d *Domain) Create() error {
	if err := d.client.DomainCreate(d.dom); err != nil {
		return fmt.Errorf("failed to start domain %s: %w", d.Name(), err)
	}
	return nil
}

// Raw exposes the underlying libvirt handle for operations owned by other
// packages, like teardown.
func (d *Domain) Raw() libvirt.Domain {
	return d.dom
}

// buildDomainXML produces the initial definition: host architecture, chosen
// virtualization type, all host CPUs and a placeholder memory size. Disks
// and interfaces are attached afterwards.
func buildDomainXML(name string, opts DefineOptions, cpus uint) (string, error) {
	port := uint(0)

	doc := libvirtxml.Domain{
		Type: opts.DomainType,
		Name: name,
		Memory: &libvirtxml.DomainMemory{
			Value: defaultMemoryMB,
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Value: cpus,
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch: opts.Arch,
				Type: "hvm",
			},
			BootDevices: []libvirtxml.DomainBootDevice{
				{Dev: "hd"},
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode: "host-model",
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Devices: &libvirtxml.DomainDeviceList{
			Emulator: opts.Emulator,
			Serials: []libvirtxml.DomainSerial{
				{
					Source: &libvirtxml.DomainChardevSource{
						Pty: &libvirtxml.DomainChardevSourcePty{},
					},
					Target: &libvirtxml.DomainSerialTarget{
						Port: &port,
					},
				},
			},
			Consoles: []libvirtxml.DomainConsole{
				{
					Source: &libvirtxml.DomainChardevSource{
						Pty: &libvirtxml.DomainChardevSourcePty{},
					},
					Target: &libvirtxml.DomainConsoleTarget{
						Type: "serial",
						Port: &port,
					},
				},
			},
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
			RNGs: []libvirtxml.DomainRNG{
				{
					Model: "virtio",
					Backend: &libvirtxml.DomainRNGBackend{
						Random: &libvirtxml.DomainRNGBackendRandom{
							Device: "/dev/urandom",
						},
					},
				},
			},
		},
	}

	xmlDesc, err := doc.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}
	return xmlDesc, nil
}
