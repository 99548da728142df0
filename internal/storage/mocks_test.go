package storage

import (
	"encoding/xml"
	"errors"
	"io"

	"github.com/digitalocean/go-libvirt"
)

var errTest = errors.New("test error")

func unmarshalXML(s string, v interface{}) error {
	return xml.Unmarshal([]byte(s), v)
}

// mockClient keeps pools and volumes in memory, keyed by name, so tests can
// exercise the define/activate/create flows without a libvirt daemon.
type mockClient struct {
	pools      map[string]string // pool name -> XML
	poolActive map[string]bool
	vols       map[string]string // vol name -> XML
	volData    map[string][]byte

	defineCalls  int
	createCalls  int
	refreshCalls int

	lookupErr error
}

func newMockClient() *mockClient {
	return &mockClient{
		pools:      map[string]string{},
		poolActive: map[string]bool{},
		vols:       map[string]string{},
		volData:    map[string][]byte{},
	}
}

func notFoundError(code libvirt.ErrorNumber) error {
	return libvirt.Error{Code: uint32(code), Message: "not found"}
}

func (m *mockClient) StoragePoolLookupByName(name string) (libvirt.StoragePool, error) {
	if m.lookupErr != nil {
		return libvirt.StoragePool{}, m.lookupErr
	}
	if _, ok := m.pools[name]; !ok {
		return libvirt.StoragePool{}, notFoundError(libvirt.ErrNoStoragePool)
	}
	return libvirt.StoragePool{Name: name}, nil
}

func (m *mockClient) StoragePoolDefineXML(xmlDesc string, flags uint32) (libvirt.StoragePool, error) {
	m.defineCalls++

	var doc struct {
		Name string `xml:"name"`
	}
	name := "defined"
	if err := unmarshalXML(xmlDesc, &doc); err == nil && doc.Name != "" {
		name = doc.Name
	}
	m.pools[name] = xmlDesc
	return libvirt.StoragePool{Name: name}, nil
}

func (m *mockClient) StoragePoolCreate(pool libvirt.StoragePool, flags libvirt.StoragePoolCreateFlags) error {
	m.createCalls++
	m.poolActive[pool.Name] = true
	return nil
}

func (m *mockClient) StoragePoolIsActive(pool libvirt.StoragePool) (int32, error) {
	if m.poolActive[pool.Name] {
		return 1, nil
	}
	return 0, nil
}

func (m *mockClient) StoragePoolRefresh(pool libvirt.StoragePool, flags uint32) error {
	m.refreshCalls++
	return nil
}

func (m *mockClient) StoragePoolGetXMLDesc(pool libvirt.StoragePool, flags libvirt.StorageXMLFlags) (string, error) {
	xmlDesc, ok := m.pools[pool.Name]
	if !ok {
		return "", notFoundError(libvirt.ErrNoStoragePool)
	}
	return xmlDesc, nil
}

func (m *mockClient) StorageVolCreateXML(pool libvirt.StoragePool, xmlDesc string, flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error) {
	var doc struct {
		Name string `xml:"name"`
	}
	if err := unmarshalXML(xmlDesc, &doc); err != nil {
		return libvirt.StorageVol{}, err
	}
	if _, ok := m.vols[doc.Name]; ok {
		return libvirt.StorageVol{}, notFoundError(libvirt.ErrStorageVolExist)
	}
	m.vols[doc.Name] = xmlDesc
	return libvirt.StorageVol{Pool: pool.Name, Name: doc.Name}, nil
}

func (m *mockClient) StorageVolDelete(vol libvirt.StorageVol, flags libvirt.StorageVolDeleteFlags) error {
	if _, ok := m.vols[vol.Name]; !ok {
		return notFoundError(libvirt.ErrNoStorageVol)
	}
	delete(m.vols, vol.Name)
	delete(m.volData, vol.Name)
	return nil
}

func (m *mockClient) StorageVolGetPath(vol libvirt.StorageVol) (string, error) {
	return "/pool/" + vol.Name, nil
}

func (m *mockClient) StorageVolLookupByName(pool libvirt.StoragePool, name string) (libvirt.StorageVol, error) {
	if _, ok := m.vols[name]; !ok {
		return libvirt.StorageVol{}, notFoundError(libvirt.ErrNoStorageVol)
	}
	return libvirt.StorageVol{Pool: pool.Name, Name: name}, nil
}

func (m *mockClient) StorageVolUpload(vol libvirt.StorageVol, stream io.Reader, offset, length uint64, flags libvirt.StorageVolUploadFlags) error {
	data, err := io.ReadAll(stream)
	if err != nil {
		return err
	}
	if uint64(len(data)) != length {
		return errTest
	}
	m.volData[vol.Name] = data
	return nil
}
