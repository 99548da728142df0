// Package storage owns the directory-backed storage pool: lookup/create and
// activation, volume creation with optional backing-file chaining to the
// upstream base images, base-image enumeration, and volume data upload.
package storage

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/arclight/internal/hypervisor"
)

const (
	// DefaultPoolDir is where the pool's volumes live. Base images and
	// per-distro overrides sit under its upstream/ subdirectory.
	DefaultPoolDir = "/var/lib/arclight/pool"

	// qemuDir is probed to suggest the right owner for the pool directory
	// in the permission-fix message.
	qemuDir = "/var/lib/libvirt/qemu"
)

// Client is the interface for libvirt storage operations.
// In production this is satisfied by *libvirt.Libvirt directly.
type Client interface {
	StoragePoolLookupByName(Name string) (libvirt.StoragePool, error)
	StoragePoolDefineXML(XML string, Flags uint32) (libvirt.StoragePool, error)
	StoragePoolCreate(Pool libvirt.StoragePool, Flags libvirt.StoragePoolCreateFlags) error
	StoragePoolIsActive(Pool libvirt.StoragePool) (int32, error)
	StoragePoolRefresh(Pool libvirt.StoragePool, Flags uint32) error
	StoragePoolGetXMLDesc(Pool libvirt.StoragePool, Flags libvirt.StorageXMLFlags) (string, error)
	StorageVolCreateXML(Pool libvirt.StoragePool, XML string, Flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error)
	StorageVolDelete(Vol libvirt.StorageVol, Flags libvirt.StorageVolDeleteFlags) error
	StorageVolGetPath(Vol libvirt.StorageVol) (string, error)
	StorageVolLookupByName(Pool libvirt.StoragePool, Name string) (libvirt.StorageVol, error)
	StorageVolUpload(Vol libvirt.StorageVol, outStream io.Reader, Offset uint64, Length uint64, Flags libvirt.StorageVolUploadFlags) error
}

// Manager coordinates pool and volume operations for the one managed pool.
type Manager struct {
	client Client

	// PoolDir is where a newly defined pool is rooted. Defaults to
	// DefaultPoolDir.
	PoolDir string

	poolName string
	pool     libvirt.StoragePool
	dir      string
}

// NewManager creates a storage manager. EnsurePool must be called before any
// volume operation.
func NewManager(client Client) *Manager {
	return &Manager{client: client, PoolDir: DefaultPoolDir}
}

// EnsurePool looks the pool up by name, defines it rooted at DefaultPoolDir
// if absent, verifies the upstream/ subdirectory is usable, and activates the
// pool if inactive. Idempotent.
func (m *Manager) EnsurePool(name string) error {
	m.poolName = name

	pool, err := m.client.StoragePoolLookupByName(name)
	if err != nil {
		if !hypervisor.HasErrorCode(err, libvirt.ErrNoStoragePool) {
			return fmt.Errorf("failed to look up storage pool %s: %w", name, err)
		}

		xmlDesc, buildErr := buildPoolXML(name, m.PoolDir)
		if buildErr != nil {
			return buildErr
		}
		pool, err = m.client.StoragePoolDefineXML(xmlDesc, 0)
		if err != nil {
			return fmt.Errorf("failed to define storage pool %s: %w", name, err)
		}
	}
	m.pool = pool

	dir, err := m.resolveDir()
	if err != nil {
		return err
	}
	m.dir = dir

	// A permission failure while probing counts as "does not exist": both
	// end in the same remediation.
	upstream := filepath.Join(dir, "upstream")
	if fi, statErr := os.Stat(upstream); statErr != nil || !fi.IsDir() {
		return fmt.Errorf("storage directory %s is not usable:\n%s", upstream, permissionFixMessage(dir))
	}

	active, err := m.client.StoragePoolIsActive(pool)
	if err != nil {
		return fmt.Errorf("failed to check pool state: %w", err)
	}
	if active == 0 {
		if err := m.client.StoragePoolCreate(pool, 0); err != nil {
			return fmt.Errorf("failed to activate storage pool %s: %w", name, err)
		}
	}

	return nil
}

// Dir returns the pool's storage directory, resolved from the live pool
// definition.
func (m *Manager) Dir() string {
	return m.dir
}

// Refresh re-reads the pool's view of the filesystem.
func (m *Manager) Refresh() error {
	if err := m.client.StoragePoolRefresh(m.pool, 0); err != nil {
		return fmt.Errorf("failed to refresh storage pool %s: %w", m.poolName, err)
	}
	return nil
}

// resolveDir extracts the target path from the pool's definition.
func (m *Manager) resolveDir() (string, error) {
	xmlDesc, err := m.client.StoragePoolGetXMLDesc(m.pool, 0)
	if err != nil {
		return "", fmt.Errorf("failed to read pool XML: %w", err)
	}

	var doc libvirtxml.StoragePool
	if err := doc.Unmarshal(xmlDesc); err != nil {
		return "", fmt.Errorf("failed to parse pool XML: %w", err)
	}
	if doc.Target == nil || doc.Target.Path == "" {
		return "", fmt.Errorf("pool %s has no target path", m.poolName)
	}

	return doc.Target.Path, nil
}

// buildPoolXML produces a dir pool definition rooted at path.
func buildPoolXML(name, path string) (string, error) {
	doc := libvirtxml.StoragePool{
		Type: "dir",
		Name: name,
		Target: &libvirtxml.StoragePoolTarget{
			Path: path,
		},
	}

	xmlDesc, err := doc.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal pool XML: %w", err)
	}

	return xmlDesc, nil
}

// permissionFixMessage tells the operator how to create the storage tree with
// ownership the qemu processes can use.
func permissionFixMessage(dir string) string {
	owner, group := qemuOwnership()
	return fmt.Sprintf(
		"Create it with:\n"+
			"  sudo mkdir -p %[1]s/upstream\n"+
			"  sudo chown -R %[2]s:%[3]s %[1]s\n"+
			"  sudo chmod -R 775 %[1]s",
		dir, owner, group)
}

// qemuOwnership resolves the user/group owning the libvirt qemu state
// directory, falling back to "qemu" when it cannot be determined.
func qemuOwnership() (string, string) {
	fi, err := os.Stat(qemuDir)
	if err != nil {
		return "qemu", "qemu"
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return "qemu", "qemu"
	}

	owner := strconv.FormatUint(uint64(st.Uid), 10)
	if u, err := user.LookupId(owner); err == nil {
		owner = u.Username
	}
	group := strconv.FormatUint(uint64(st.Gid), 10)
	if g, err := user.LookupGroupId(group); err == nil {
		group = g.Name
	}
	return owner, group
}
