// Package cloudinit generates the cloud-init seed media for guest
// provisioning: the accumulated cloud-config user-data document and the
// metadata/network documents of the two supported dialects, mastered into an
// ISO 9660 image by an external tool.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/
package cloudinit

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UserData accumulates cloud-config directives as provisioning decisions are
// made, then renders to the final user-data document. The zero value is not
// usable; call NewUserData.
type UserData struct {
	ResizeRootfs      bool      `yaml:"resize_rootfs"`
	DisableRoot       bool      `yaml:"disable_root"`
	Bootcmd           []string  `yaml:"bootcmd"`
	Runcmd            []string  `yaml:"runcmd"`
	Password          string    `yaml:"password,omitempty"`
	Chpasswd          *Chpasswd `yaml:"chpasswd,omitempty"`
	SSHPasswordAuth   bool      `yaml:"ssh_pwauth,omitempty"`
	SSHAuthorizedKeys []string  `yaml:"ssh_authorized_keys,omitempty"`
	Users             []User    `yaml:"users,omitempty"`
	FQDN              string    `yaml:"fqdn,omitempty"`
}

// Chpasswd configures user password settings.
type Chpasswd struct {
	List   string `yaml:"list"`
	Expire bool   `yaml:"expire"`
}

// User is an entry of the cloud-config users directive.
type User struct {
	Name              string   `yaml:"name"`
	Gecos             string   `yaml:"gecos"`
	Sudo              string   `yaml:"sudo"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys"`
}

// NewUserData returns a user-data document with the baseline directives:
// root filesystem resize on, root login enabled, empty command lists.
func NewUserData() *UserData {
	return &UserData{
		ResizeRootfs: true,
		DisableRoot:  false,
		Bootcmd:      []string{},
		Runcmd:       []string{},
	}
}

// SetRootPassword enables root password login: records the password both as
// the plain password directive and as a chpasswd entry, and turns on SSH
// password authentication.
func (u *UserData) SetRootPassword(password string) {
	u.DisableRoot = false
	u.Password = password
	u.Chpasswd = &Chpasswd{
		List:   fmt.Sprintf("root:%s\n", password),
		Expire: false,
	}
	u.SSHPasswordAuth = true
}

// SetSSHKey records the public key for the default account and for the
// configured user, if one has been added already.
func (u *UserData) SetSSHKey(key string) {
	u.SSHAuthorizedKeys = []string{key}
	if len(u.Users) > 0 {
		u.Users[0].SSHAuthorizedKeys = []string{key}
	}
}

// AddUser declares the provisioned login account with passwordless sudo.
func (u *UserData) AddUser(name, sshKey string) {
	u.Users = []User{
		{
			Name:              name,
			Gecos:             "virt-bootstrap user",
			Sudo:              "ALL=(ALL) NOPASSWD:ALL",
			SSHAuthorizedKeys: []string{sshKey},
		},
	}
}

// Render serializes the document, prefixed with the #cloud-config marker
// line required by cloud-init.
func (u *UserData) Render() (string, error) {
	yamlBytes, err := yaml.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}
	return "#cloud-config\n" + string(yamlBytes), nil
}
