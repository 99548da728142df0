package vm

import (
	"log"
	"path/filepath"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/arclight/internal/domain"
)

// Destroy tears one guest down: network entries retracted, domain stopped
// and undefined, file-backed volumes purged from the pool.
//
// Every step is best-effort: failures are logged and the remaining steps
// still run, so a half-broken guest can always be removed. The first error
// is reported once everything has been attempted.
func (p *Provisioner) Destroy(name string) error {
	// Destroy may be the first call of a fresh session; the managers need
	// live pool and network handles before retraction or purging can work.
	if err := p.Storage.EnsurePool(p.PoolName); err != nil {
		return err
	}
	if err := p.Network.Ensure(p.NetworkName, p.NetworkCIDR); err != nil {
		return err
	}

	d, err := domain.Lookup(p.Client, name)
	if err != nil {
		return err
	}
	if d == nil {
		log.Printf("Domain %s not found, nothing to do", name)
		return nil
	}

	var firstErr error
	keep := func(err error) {
		if err == nil {
			return
		}
		log.Printf("Warning: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	addr, err := d.IPv4()
	keep(err)
	macs, err := d.MACAddresses()
	keep(err)

	// Disk paths must come from the definition before it is undefined.
	diskPaths, err := d.FileBackedDiskPaths()
	keep(err)

	keep(p.Network.RetractEntries(addr.Addr(), macs))

	running, err := d.IsRunning()
	keep(err)
	if running {
		log.Printf("Stopping %s...", name)
		keep(p.Client.DomainDestroy(d.Raw()))
	}

	undefineFlags := libvirt.DomainUndefineManagedSave | libvirt.DomainUndefineSnapshotsMetadata
	keep(p.Client.DomainUndefineFlags(d.Raw(), undefineFlags))

	keep(p.Storage.Refresh())
	for _, path := range diskPaths {
		vol, err := p.Storage.LookupVolume(filepath.Base(path))
		if err != nil {
			keep(err)
			continue
		}
		log.Printf("Purging volume %s...", filepath.Base(path))
		keep(p.Storage.DeleteVolume(vol))
	}

	return firstErr
}
