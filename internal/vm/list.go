package vm

import (
	"sort"

	"github.com/jbweber/arclight/internal/domain"
)

// Info is one row of the status display.
type Info struct {
	Name     string
	IPv4     string
	Distro   string
	Username string
	Context  string
	Running  bool
}

// List reports every domain carrying provisioning metadata, sorted by name.
// Domains defined outside this tool have no distro record and are skipped.
func (p *Provisioner) List() ([]Info, error) {
	domains, err := domain.List(p.Client)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(domains))
	for _, d := range domains {
		distro, err := d.Distro()
		if err != nil {
			return nil, err
		}
		if distro == "" {
			continue
		}

		info := Info{Name: d.Name(), Distro: distro}
		if addr, err := d.IPv4(); err == nil && addr.IsValid() {
			info.IPv4 = addr.Addr().String()
		}
		if username, err := d.Username(); err == nil {
			info.Username = username
		}
		if context, err := d.ContextTag(); err == nil {
			info.Context = context
		}
		if running, err := d.IsRunning(); err == nil {
			info.Running = running
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}
