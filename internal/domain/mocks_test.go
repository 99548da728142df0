package domain

import (
	"fmt"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"libvirt.org/go/libvirtxml"
)

type vcpuCall struct {
	vcpus uint32
	flags uint32
}

type memoryCall struct {
	memory uint64
	flags  uint32
}

// mockClient keeps defined domains as parsed documents so attached devices
// and metadata can be read back the way libvirt would report them.
type mockClient struct {
	domains map[string]*libvirtxml.Domain
	meta    map[string]string // domain name + "/" + uri -> element XML

	cpus  int32
	state int32

	vcpuCalls   []vcpuCall
	memoryCalls []memoryCall
	createCalls int
	macCounter  int
}

func newMockClient() *mockClient {
	return &mockClient{
		domains: map[string]*libvirtxml.Domain{},
		meta:    map[string]string{},
		cpus:    4,
		state:   domainStateRunning,
	}
}

func (m *mockClient) DomainDefineXML(xmlDesc string) (libvirt.Domain, error) {
	var doc libvirtxml.Domain
	if err := doc.Unmarshal(xmlDesc); err != nil {
		return libvirt.Domain{}, err
	}
	m.domains[doc.Name] = &doc
	return libvirt.Domain{Name: doc.Name, UUID: libvirt.UUID(uuid.New())}, nil
}

func (m *mockClient) DomainLookupByName(name string) (libvirt.Domain, error) {
	if _, ok := m.domains[name]; !ok {
		return libvirt.Domain{}, libvirt.Error{Code: uint32(libvirt.ErrNoDomain), Message: "not found"}
	}
	return libvirt.Domain{Name: name, UUID: libvirt.UUID(uuid.New())}, nil
}

func (m *mockClient) ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	var doms []libvirt.Domain
	for name := range m.domains {
		doms = append(doms, libvirt.Domain{Name: name})
	}
	return doms, uint32(len(doms)), nil
}

func (m *mockClient) NodeGetInfo() ([32]int8, uint64, int32, int32, int32, int32, int32, int32, error) {
	return [32]int8{}, 8 * 1024 * 1024, m.cpus, 2400, 1, 1, int32(m.cpus), 1, nil
}

func (m *mockClient) DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error) {
	doc, ok := m.domains[dom.Name]
	if !ok {
		return "", libvirt.Error{Code: uint32(libvirt.ErrNoDomain), Message: "not found"}
	}
	return doc.Marshal()
}

func (m *mockClient) DomainAttachDeviceFlags(dom libvirt.Domain, xmlDesc string, flags uint32) error {
	doc, ok := m.domains[dom.Name]
	if !ok {
		return libvirt.Error{Code: uint32(libvirt.ErrNoDomain), Message: "not found"}
	}
	if doc.Devices == nil {
		doc.Devices = &libvirtxml.DomainDeviceList{}
	}

	if strings.HasPrefix(strings.TrimSpace(xmlDesc), "<disk") {
		var disk libvirtxml.DomainDisk
		if err := disk.Unmarshal(xmlDesc); err != nil {
			return err
		}
		doc.Devices.Disks = append(doc.Devices.Disks, disk)
		return nil
	}

	var iface libvirtxml.DomainInterface
	if err := iface.Unmarshal(xmlDesc); err != nil {
		return err
	}
	if iface.MAC == nil {
		m.macCounter++
		iface.MAC = &libvirtxml.DomainInterfaceMAC{
			Address: fmt.Sprintf("52:54:00:00:00:%02x", m.macCounter),
		}
	}
	doc.Devices.Interfaces = append(doc.Devices.Interfaces, iface)
	return nil
}

func (m *mockClient) DomainSetVcpusFlags(dom libvirt.Domain, vcpus uint32, flags uint32) error {
	m.vcpuCalls = append(m.vcpuCalls, vcpuCall{vcpus: vcpus, flags: flags})
	return nil
}

func (m *mockClient) DomainSetMemoryFlags(dom libvirt.Domain, memory uint64, flags uint32) error {
	m.memoryCalls = append(m.memoryCalls, memoryCall{memory: memory, flags: flags})
	return nil
}

func (m *mockClient) DomainCreate(dom libvirt.Domain) error {
	m.createCalls++
	return nil
}

func (m *mockClient) DomainGetState(dom libvirt.Domain, flags uint32) (int32, int32, error) {
	return m.state, 0, nil
}

func (m *mockClient) DomainSetMetadata(dom libvirt.Domain, typ int32, meta libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error {
	m.meta[dom.Name+"/"+uri[0]] = meta[0]
	return nil
}

func (m *mockClient) DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error) {
	value, ok := m.meta[dom.Name+"/"+uri[0]]
	if !ok {
		return "", libvirt.Error{Code: uint32(libvirt.ErrNoDomainMetadata), Message: "no metadata"}
	}
	return value, nil
}
