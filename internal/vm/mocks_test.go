package vm

import (
	"fmt"
	"net/netip"
	"path/filepath"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"libvirt.org/go/libvirtxml"
)

type undefineCall struct {
	name  string
	flags libvirt.DomainUndefineFlagsValues
}

// mockClient keeps defined domains as parsed documents so attached devices
// and metadata can be read back the way libvirt would report them.
type mockClient struct {
	domains map[string]*libvirtxml.Domain
	meta    map[string]string // domain name + "/" + uri -> element XML
	states  map[string]int32  // default is running

	cpus int32

	destroyCalls  []string
	undefineCalls []undefineCall
	createCalls   int
	macCounter    int
}

func newMockClient() *mockClient {
	return &mockClient{
		domains: map[string]*libvirtxml.Domain{},
		meta:    map[string]string{},
		states:  map[string]int32{},
		cpus:    4,
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
	return nil
}

func (m *mockClient) DomainSetMemoryFlags(dom libvirt.Domain, memory uint64, flags uint32) error {
	return nil
}

func (m *mockClient) DomainCreate(dom libvirt.Domain) error {
	m.createCalls++
	m.states[dom.Name] = 1
	return nil
}

func (m *mockClient) DomainGetState(dom libvirt.Domain, flags uint32) (int32, int32, error) {
	state, ok := m.states[dom.Name]
	if !ok {
		return 1, 0, nil
	}
	return state, 0, nil
}

func (m *mockClient) DomainDestroy(dom libvirt.Domain) error {
	m.destroyCalls = append(m.destroyCalls, dom.Name)
	m.states[dom.Name] = 5
	return nil
}

func (m *mockClient) DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
	m.undefineCalls = append(m.undefineCalls, undefineCall{name: dom.Name, flags: flags})
	delete(m.domains, dom.Name)
	return nil
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

type volRecord struct {
	sizeGB  uint64
	backing string
}

// mockStorage keeps an in-memory pool rooted at dir. Volume naming follows
// the real manager: CreateVolume("x", ...) yields "x.qcow2".
type mockStorage struct {
	dir string

	pools   []string
	vols    map[string]volRecord
	volData map[string][]byte
	deleted []string

	refreshCalls int
}

func newMockStorage(dir string) *mockStorage {
	return &mockStorage{
		dir:     dir,
		vols:    map[string]volRecord{},
		volData: map[string][]byte{},
	}
}

func (m *mockStorage) EnsurePool(name string) error {
	m.pools = append(m.pools, name)
	return nil
}

func (m *mockStorage) Dir() string { return m.dir }

// noPool mirrors the daemon refusing a request carrying a pool handle that
// was never resolved on this session.
func (m *mockStorage) noPool() error {
	if len(m.pools) == 0 {
		return libvirt.Error{Code: uint32(libvirt.ErrNoStoragePool), Message: "Storage pool not found"}
	}
	return nil
}

func (m *mockStorage) Refresh() error {
	if err := m.noPool(); err != nil {
		return err
	}
	m.refreshCalls++
	return nil
}

func (m *mockStorage) CreateVolume(name string, sizeGB uint64, backingImage string) (libvirt.StorageVol, error) {
	if err := m.noPool(); err != nil {
		return libvirt.StorageVol{}, err
	}
	volName := name + ".qcow2"
	if _, ok := m.vols[volName]; ok {
		return libvirt.StorageVol{}, fmt.Errorf("volume %s already exists", volName)
	}
	m.vols[volName] = volRecord{sizeGB: sizeGB, backing: backingImage}
	return libvirt.StorageVol{Pool: "arclight", Name: volName}, nil
}

func (m *mockStorage) VolumePath(vol libvirt.StorageVol) (string, error) {
	return filepath.Join(m.dir, vol.Name), nil
}

func (m *mockStorage) LookupVolume(name string) (libvirt.StorageVol, error) {
	if err := m.noPool(); err != nil {
		return libvirt.StorageVol{}, err
	}
	if _, ok := m.vols[name]; !ok {
		return libvirt.StorageVol{}, libvirt.Error{Code: uint32(libvirt.ErrNoStorageVol), Message: "not found"}
	}
	return libvirt.StorageVol{Pool: "arclight", Name: name}, nil
}

func (m *mockStorage) DeleteVolume(vol libvirt.StorageVol) error {
	if err := m.noPool(); err != nil {
		return err
	}
	if _, ok := m.vols[vol.Name]; !ok {
		return libvirt.Error{Code: uint32(libvirt.ErrNoStorageVol), Message: "not found"}
	}
	delete(m.vols, vol.Name)
	m.deleted = append(m.deleted, vol.Name)
	return nil
}

func (m *mockStorage) WriteVolumeData(vol libvirt.StorageVol, data []byte) error {
	if err := m.noPool(); err != nil {
		return err
	}
	if _, ok := m.vols[vol.Name]; !ok {
		return libvirt.Error{Code: uint32(libvirt.ErrNoStorageVol), Message: "not found"}
	}
	m.volData[vol.Name] = data
	return nil
}

func (m *mockStorage) BaseImagePath(distro string) string {
	return filepath.Join(m.dir, "upstream", distro+".qcow2")
}

func (m *mockStorage) ListBaseImages() ([]string, error) {
	return []string{"fedora-40"}, nil
}

// mockNetwork allocates sequential addresses from 192.168.123.0/24 and
// records name and lease registrations keyed by address.
type mockNetwork struct {
	ensured []string

	nextHost    int
	dnsEntries  map[string][]string
	dhcpEntries map[string][]string
}

func newMockNetwork() *mockNetwork {
	return &mockNetwork{
		nextHost:    5,
		dnsEntries:  map[string][]string{},
		dhcpEntries: map[string][]string{},
	}
}

func (m *mockNetwork) Ensure(name, cidr string) error {
	m.ensured = append(m.ensured, name)
	return nil
}

// noNetwork mirrors the daemon refusing a request carrying a network handle
// that was never resolved on this session.
func (m *mockNetwork) noNetwork() error {
	if len(m.ensured) == 0 {
		return libvirt.Error{Code: uint32(libvirt.ErrNoNetwork), Message: "Network not found"}
	}
	return nil
}

func (m *mockNetwork) Name() string { return "arclight" }

func (m *mockNetwork) Gateway() netip.Addr { return netip.MustParseAddr("192.168.123.1") }

func (m *mockNetwork) DNS() netip.Addr { return netip.MustParseAddr("192.168.123.1") }

func (m *mockNetwork) Network() netip.Prefix { return netip.MustParsePrefix("192.168.123.0/24") }

func (m *mockNetwork) AllocateAddress() (netip.Prefix, error) {
	if err := m.noNetwork(); err != nil {
		return netip.Prefix{}, err
	}
	addr := netip.MustParsePrefix(fmt.Sprintf("192.168.123.%d/24", m.nextHost))
	m.nextHost++
	return addr, nil
}

func (m *mockNetwork) AddDNSEntry(ip netip.Addr, names []string) error {
	if err := m.noNetwork(); err != nil {
		return err
	}
	for _, name := range names {
		if name != "" {
			m.dnsEntries[ip.String()] = append(m.dnsEntries[ip.String()], name)
		}
	}
	return nil
}

func (m *mockNetwork) AddDHCPEntry(ip netip.Addr, mac string) error {
	if err := m.noNetwork(); err != nil {
		return err
	}
	m.dhcpEntries[ip.String()] = append(m.dhcpEntries[ip.String()], mac)
	return nil
}

func (m *mockNetwork) RetractEntries(ip netip.Addr, macs []string) error {
	if err := m.noNetwork(); err != nil {
		return err
	}
	if !ip.IsValid() {
		return nil
	}
	delete(m.dnsEntries, ip.String())
	delete(m.dhcpEntries, ip.String())
	return nil
}
