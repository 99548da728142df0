// Package config implements the layered configuration model for a domain:
// hardcoded defaults, distro-specific overrides loaded from the storage
// pool's upstream directory, and user-supplied overrides, merged
// left-to-right.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Instance holds the resolved configuration for one domain. The yaml tags
// match the keys of the per-distro override files (upstream/<distro>.yaml).
type Instance struct {
	Groups            []string `yaml:"groups"`
	Memory            int      `yaml:"memory"`
	PythonInterpreter string   `yaml:"python_interpreter"`
	RootPassword      string   `yaml:"root_password"`
	Username          string   `yaml:"username"`
	VCPUs             int      `yaml:"vcpus"`
	DefaultNICModel   string   `yaml:"default_nic_model"`
	Bootcmd           []string `yaml:"bootcmd"`
	SSHKeyFile        string   `yaml:"ssh_key_file"`
	FQDN              string   `yaml:"fqdn"`
	Context           string   `yaml:"context"`
}

// Defaults returns the base configuration layer.
//
// The default username is an explicit argument rather than an ambient lookup
// of the invoking user; only the CLI consults os/user.
func Defaults(username string) Instance {
	return Instance{
		Groups:            []string{},
		Memory:            768,
		PythonInterpreter: "/usr/bin/python3",
		RootPassword:      "root",
		Username:          username,
		VCPUs:             1,
		DefaultNICModel:   "virtio",
		Bootcmd:           []string{},
		SSHKeyFile:        "~/.ssh/id_rsa.pub",
	}
}

// Merge overlays o on top of c. A key from o only replaces the value in c if
// o's value is truthy: absent, empty or zero values never override.
func (c Instance) Merge(o Instance) Instance {
	if len(o.Groups) > 0 {
		c.Groups = o.Groups
	}
	if o.Memory != 0 {
		c.Memory = o.Memory
	}
	if o.PythonInterpreter != "" {
		c.PythonInterpreter = o.PythonInterpreter
	}
	if o.RootPassword != "" {
		c.RootPassword = o.RootPassword
	}
	if o.Username != "" {
		c.Username = o.Username
	}
	if o.VCPUs != 0 {
		c.VCPUs = o.VCPUs
	}
	if o.DefaultNICModel != "" {
		c.DefaultNICModel = o.DefaultNICModel
	}
	if len(o.Bootcmd) > 0 {
		c.Bootcmd = o.Bootcmd
	}
	if o.SSHKeyFile != "" {
		c.SSHKeyFile = o.SSHKeyFile
	}
	if o.FQDN != "" {
		c.FQDN = o.FQDN
	}
	if o.Context != "" {
		c.Context = o.Context
	}
	return c
}

// LoadDistroOverrides reads the distro override layer from
// <storageDir>/upstream/<distro>.yaml. A missing file is not an error: the
// layer is simply empty.
func LoadDistroOverrides(storageDir, distro string) (Instance, error) {
	path := filepath.Join(storageDir, "upstream", distro+".yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Instance{}, nil
		}
		return Instance{}, fmt.Errorf("failed to read distro configuration %s: %w", path, err)
	}

	var c Instance
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Instance{}, fmt.Errorf("failed to parse distro configuration %s: %w", path, err)
	}

	return c, nil
}

// Resolve computes the final configuration: defaults, then distro overrides,
// then user overrides, per the Merge rule.
func Resolve(defaults, distro, user Instance) Instance {
	return defaults.Merge(distro).Merge(user)
}
