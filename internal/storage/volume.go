package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/arclight/internal/hypervisor"
)

// defaultVolumeSizeGB is used when no size is requested.
const defaultVolumeSizeGB = 20

// InvalidNameError indicates a volume name containing a path separator.
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid volume name %q: must not contain a path separator", e.Name)
}

// VolumeExistsError indicates a name collision with an existing volume. The
// stale volume must be deleted out of band; the message carries the command.
type VolumeExistsError struct {
	Pool string
	Name string
}

func (e *VolumeExistsError) Error() string {
	return fmt.Sprintf(
		"a volume image already exists and prevents the creation of a new one. "+
			"You can remove it with the following command:\n"+
			"  sudo virsh vol-delete --pool %s %s.qcow2",
		e.Pool, e.Name)
}

// CreateVolume creates a qcow2 volume named <name>.qcow2 in the pool,
// optionally chained to the base image upstream/<backingImage>.qcow2.
// A sizeGB of zero selects the default capacity.
func (m *Manager) CreateVolume(name string, sizeGB uint64, backingImage string) (libvirt.StorageVol, error) {
	if strings.Contains(name, "/") {
		return libvirt.StorageVol{}, &InvalidNameError{Name: name}
	}
	if sizeGB == 0 {
		sizeGB = defaultVolumeSizeGB
	}

	path := filepath.Join(m.dir, name+".qcow2")

	doc := libvirtxml.StorageVolume{
		Name: name + ".qcow2",
		Capacity: &libvirtxml.StorageVolumeSize{
			Unit:  "G",
			Value: sizeGB,
		},
		Target: &libvirtxml.StorageVolumeTarget{
			Path: path,
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: "qcow2",
			},
		},
	}

	if backingImage != "" {
		doc.BackingStore = &libvirtxml.StorageVolumeBackingStore{
			Path: filepath.Join(m.dir, "upstream", backingImage+".qcow2"),
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: "qcow2",
			},
		}
	}

	xmlDesc, err := doc.Marshal()
	if err != nil {
		return libvirt.StorageVol{}, fmt.Errorf("failed to marshal volume XML: %w", err)
	}

	vol, err := m.client.StorageVolCreateXML(m.pool, xmlDesc, 0)
	if err != nil {
		if hypervisor.HasErrorCode(err, libvirt.ErrStorageVolExist) {
			return libvirt.StorageVol{}, &VolumeExistsError{Pool: m.poolName, Name: name}
		}
		return libvirt.StorageVol{}, fmt.Errorf("failed to create volume %s: %w", name, err)
	}

	return vol, nil
}

// VolumePath returns the filesystem path of a volume.
func (m *Manager) VolumePath(vol libvirt.StorageVol) (string, error) {
	path, err := m.client.StorageVolGetPath(vol)
	if err != nil {
		return "", fmt.Errorf("failed to get volume path: %w", err)
	}
	return path, nil
}

// LookupVolume finds a volume by file name in the pool.
func (m *Manager) LookupVolume(name string) (libvirt.StorageVol, error) {
	vol, err := m.client.StorageVolLookupByName(m.pool, name)
	if err != nil {
		return libvirt.StorageVol{}, fmt.Errorf("volume %s not found in pool %s: %w", name, m.poolName, err)
	}
	return vol, nil
}

// DeleteVolume removes a volume and its backing file from the pool.
func (m *Manager) DeleteVolume(vol libvirt.StorageVol) error {
	if err := m.client.StorageVolDelete(vol, 0); err != nil {
		return fmt.Errorf("failed to delete volume %s: %w", vol.Name, err)
	}
	return nil
}

// WriteVolumeData streams data into a volume, starting at offset zero.
func (m *Manager) WriteVolumeData(vol libvirt.StorageVol, data []byte) error {
	reader := bytes.NewReader(data)
	if err := m.client.StorageVolUpload(vol, reader, 0, uint64(len(data)), 0); err != nil {
		return fmt.Errorf("failed to upload volume data: %w", err)
	}
	return nil
}
