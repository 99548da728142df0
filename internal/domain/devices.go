package domain

import (
	"fmt"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"
)

// AttachDisk attaches the volume at path to the next free block device,
// persisted into the domain definition. The device argument is "disk" or
// "cdrom", diskType the driver format ("qcow2", "raw"). Returns the guest
// device name.
func (d *Domain) AttachDisk(path, device, diskType string) (string, error) {
	bus, err := d.diskBus(device)
	if err != nil {
		return "", err
	}
	dev, err := d.nextBlockDevice()
	if err != nil {
		return "", err
	}

	disk := libvirtxml.DomainDisk{
		Device: device,
		Driver: &libvirtxml.DomainDiskDriver{
			Name: "qemu",
			Type: diskType,
		},
		Source: &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{
				File: path,
			},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: dev,
			Bus: bus,
		},
	}

	xmlDesc, err := disk.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal disk XML: %w", err)
	}
	if err := d.client.DomainAttachDeviceFlags(d.dom, xmlDesc, uint32(libvirt.DomainDeviceModifyConfig)); err != nil {
		return "", fmt.Errorf("failed to attach disk %s to %s: %w", path, d.Name(), err)
	}

	return dev, nil
}

// AttachNetworkInterface adds a NIC on the named libvirt network. The first
// call carries the domain's primary address, persisted in metadata; later
// calls record their address (or the "dhcp" marker) as additional interfaces
// for the seed's network documents. An empty nicModel falls back to the
// configured default.
func (d *Domain) AttachNetworkInterface(network, nicModel, ipv4 string) error {
	if nicModel == "" {
		nicModel = d.nicModel
	}

	iface := libvirtxml.DomainInterface{
		Source: &libvirtxml.DomainInterfaceSource{
			Network: &libvirtxml.DomainInterfaceSourceNetwork{
				Network: network,
			},
		},
		Model: &libvirtxml.DomainInterfaceModel{
			Type: nicModel,
		},
	}

	if err := d.recordInterfaceAddress(ipv4); err != nil {
		return err
	}

	xmlDesc, err := iface.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal interface XML: %w", err)
	}
	if err := d.client.DomainAttachDeviceFlags(d.dom, xmlDesc, uint32(libvirt.DomainDeviceModifyConfig)); err != nil {
		return fmt.Errorf("failed to attach interface to %s: %w", d.Name(), err)
	}
	return nil
}

// recordInterfaceAddress keeps the primary address in metadata and queues
// everything after it for the seed documents.
func (d *Domain) recordInterfaceAddress(ipv4 string) error {
	primary, err := d.IPv4()
	if err != nil {
		return err
	}

	if primary.IsValid() {
		d.additionalIPv4 = append(d.additionalIPv4, ipv4)
		return nil
	}

	if ipv4 == "" || ipv4 == "dhcp" {
		return nil
	}
	if !strings.Contains(ipv4, "/") {
		ipv4 += "/24"
	}
	return d.SetIPv4(ipv4)
}

// AdditionalAddresses returns the addresses queued for interfaces after the
// primary one, in attach order. Entries are an address, the "dhcp" marker,
// or empty for interfaces with no addressing.
func (d *Domain) AdditionalAddresses() []string {
	return d.additionalIPv4
}

// MACAddresses lists the MAC of every interface in the definition, in
// device order.
func (d *Domain) MACAddresses() ([]string, error) {
	doc, err := d.xmlDocument()
	if err != nil {
		return nil, err
	}

	var macs []string
	if doc.Devices == nil {
		return macs, nil
	}
	for _, iface := range doc.Devices.Interfaces {
		if iface.MAC != nil && iface.MAC.Address != "" {
			macs = append(macs, iface.MAC.Address)
		}
	}
	return macs, nil
}

// FileBackedDiskPaths lists the source path of every file-backed disk in the
// definition. Teardown uses this to find the volumes to purge.
func (d *Domain) FileBackedDiskPaths() ([]string, error) {
	doc, err := d.xmlDocument()
	if err != nil {
		return nil, err
	}

	var paths []string
	if doc.Devices == nil {
		return paths, nil
	}
	for _, disk := range doc.Devices.Disks {
		if disk.Source == nil || disk.Source.File == nil || disk.Source.File.File == "" {
			continue
		}
		paths = append(paths, disk.Source.File.File)
	}
	return paths, nil
}

// HasDiskAttached reports whether the definition already carries a disk
// backed by path, so repeated start cycles do not stack duplicate media.
func (d *Domain) HasDiskAttached(path string) (bool, error) {
	paths, err := d.FileBackedDiskPaths()
	if err != nil {
		return false, err
	}
	for _, p := range paths {
		if p == path {
			return true, nil
		}
	}
	return false, nil
}

// diskBus picks the bus for a new disk: cdroms ride IDE, esxi guests only
// understand SATA, everything else gets virtio.
func (d *Domain) diskBus(device string) (string, error) {
	if device == "cdrom" {
		return "ide", nil
	}
	distro, err := d.Distro()
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(distro, "esxi") {
		return "sata", nil
	}
	return "virtio", nil
}

// nextBlockDevice hands out vda, vdb, ... in attach order.
func (d *Domain) nextBlockDevice() (string, error) {
	if d.nextBlockIndex >= 26 {
		return "", fmt.Errorf("no block device name left for %s", d.Name())
	}
	dev := fmt.Sprintf("vd%c", 'a'+rune(d.nextBlockIndex))
	d.nextBlockIndex++
	return dev, nil
}

func (d *Domain) xmlDocument() (*libvirtxml.Domain, error) {
	xmlDesc, err := d.client.DomainGetXMLDesc(d.dom, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read domain XML for %s: %w", d.Name(), err)
	}

	var doc libvirtxml.Domain
	if err := doc.Unmarshal(xmlDesc); err != nil {
		return nil, fmt.Errorf("failed to parse domain XML for %s: %w", d.Name(), err)
	}
	return &doc, nil
}
