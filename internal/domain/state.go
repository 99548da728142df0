package domain

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/jbweber/arclight/internal/metadata"
)

// domainStateRunning matches VIR_DOMAIN_RUNNING.
const domainStateRunning = 1

// IPv4 returns the domain's persisted primary address, or the zero prefix
// when none was recorded.
func (d *Domain) IPv4() (netip.Prefix, error) {
	value, err := metadata.Get(d.client, d.dom, "ipv4")
	if err != nil {
		return netip.Prefix{}, err
	}
	if value == "" {
		return netip.Prefix{}, nil
	}

	prefix, err := netip.ParsePrefix(value)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("domain %s has malformed address %q: %w", d.Name(), value, err)
	}
	return prefix, nil
}

// SetIPv4 persists the primary address.
func (d *Domain) SetIPv4(value string) error {
	return metadata.Set(d.client, d.dom, "ipv4", value)
}

// Distro returns the base image the domain was provisioned from.
func (d *Domain) Distro() (string, error) {
	return metadata.Get(d.client, d.dom, "distro")
}

// Username returns the provisioned login account.
func (d *Domain) Username() (string, error) {
	return metadata.Get(d.client, d.dom, "username")
}

// ContextTag returns the free-form grouping tag, used to tell sets of
// domains apart.
func (d *Domain) ContextTag() (string, error) {
	return metadata.Get(d.client, d.dom, "context")
}

// SetContextTag persists the grouping tag.
func (d *Domain) SetContextTag(value string) error {
	return metadata.Set(d.client, d.dom, "context", value)
}

// FQDN returns the persisted fully qualified domain name, empty when none
// was accepted.
func (d *Domain) FQDN() (string, error) {
	return metadata.Get(d.client, d.dom, "fqdn")
}

// RootPassword returns the persisted root password.
func (d *Domain) RootPassword() (string, error) {
	return metadata.Get(d.client, d.dom, "root_password")
}

// SSHKey returns the persisted public key.
func (d *Domain) SSHKey() (string, error) {
	return metadata.Get(d.client, d.dom, "ssh_key")
}

// Groups returns the configured group list.
func (d *Domain) Groups() ([]string, error) {
	value, err := metadata.Get(d.client, d.dom, "groups")
	if err != nil {
		return nil, err
	}
	if value == "" {
		return []string{}, nil
	}
	return strings.Split(value, ","), nil
}

// IsRunning reports whether the domain is currently active.
func (d *Domain) IsRunning() (bool, error) {
	state, _, err := d.client.DomainGetState(d.dom, 0)
	if err != nil {
		return false, fmt.Errorf("failed to get state of %s: %w", d.Name(), err)
	}
	return state == domainStateRunning, nil
}
