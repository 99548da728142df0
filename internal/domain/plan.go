package domain

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/arclight/internal/config"
	"github.com/jbweber/arclight/internal/metadata"
)

// sshKeyDocURL is shown when the configured public key cannot be read.
const sshKeyDocURL = "https://help.github.com/articles/generating-a-new-ssh-key-and-adding-it-to-the-ssh-agent/#generating-a-new-ssh-key"

var (
	usernameRE = regexp.MustCompile(`^[a-z_][a-z0-9_-]{1,32}$`)
	fqdnRE     = regexp.MustCompile(`(?i)^[.a-z0-9]+$`)
)

// InvalidUsernameError rejects a login name the guest would refuse.
type InvalidUsernameError struct {
	Username string
}

func (e *InvalidUsernameError) Error() string {
	return fmt.Sprintf("invalid username %q", e.Username)
}

// Plan is the validated change set derived from a resolved configuration.
// Building a plan performs no hypervisor writes; Apply does them all.
type Plan struct {
	Memory            int
	VCPUs             int
	Groups            []string
	PythonInterpreter string
	RootPassword      string
	Username          string
	NICModel          string
	Bootcmd           []string
	SSHKey            string
	FQDN              string
	Context           string
}

// BuildPlan validates the configuration and loads external inputs, returning
// the change set to apply. The username must satisfy the guest's account
// naming rules; a malformed FQDN is dropped with a logged error rather than
// failing the whole plan.
func BuildPlan(cfg *config.Instance) (*Plan, error) {
	if !usernameRE.MatchString(cfg.Username) {
		return nil, &InvalidUsernameError{Username: cfg.Username}
	}

	sshKey, err := loadSSHKey(cfg.SSHKeyFile)
	if err != nil {
		return nil, err
	}

	fqdn := cfg.FQDN
	if fqdn != "" && !fqdnRE.MatchString(fqdn) {
		log.Printf("invalid FQDN: %s", fqdn)
		fqdn = ""
	}

	if cfg.Memory < 256 {
		log.Printf("low memory: %dMB", cfg.Memory)
	}

	return &Plan{
		Memory:            cfg.Memory,
		VCPUs:             cfg.VCPUs,
		Groups:            cfg.Groups,
		PythonInterpreter: cfg.PythonInterpreter,
		RootPassword:      cfg.RootPassword,
		Username:          cfg.Username,
		NICModel:          cfg.DefaultNICModel,
		Bootcmd:           cfg.Bootcmd,
		SSHKey:            sshKey,
		FQDN:              fqdn,
		Context:           cfg.Context,
	}, nil
}

// Apply writes the plan to the domain: persisted metadata, vCPU and memory
// sizing, and the accumulated user-data directives.
func (d *Domain) Apply(plan *Plan) error {
	records := []struct {
		key   string
		value string
	}{
		{"groups", strings.Join(plan.Groups, ",")},
		{"python_interpreter", plan.PythonInterpreter},
		{"root_password", plan.RootPassword},
		{"username", plan.Username},
		{"ssh_key", plan.SSHKey},
	}
	if plan.FQDN != "" {
		records = append(records, struct{ key, value string }{"fqdn", plan.FQDN})
	}
	if plan.Context != "" {
		records = append(records, struct{ key, value string }{"context", plan.Context})
	}
	for _, record := range records {
		if err := metadata.Set(d.client, d.dom, record.key, record.value); err != nil {
			return err
		}
	}

	d.nicModel = plan.NICModel

	d.UserData.SetRootPassword(plan.RootPassword)
	d.UserData.AddUser(plan.Username, plan.SSHKey)
	d.UserData.SetSSHKey(plan.SSHKey)
	d.UserData.Bootcmd = plan.Bootcmd
	if d.UserData.Bootcmd == nil {
		d.UserData.Bootcmd = []string{}
	}
	if plan.FQDN != "" {
		d.UserData.FQDN = plan.FQDN
	}

	if err := d.setVCPUs(plan.VCPUs); err != nil {
		return err
	}
	if err := d.setMemory(plan.Memory); err != nil {
		return err
	}

	return nil
}

func (d *Domain) setVCPUs(count int) error {
	err := d.client.DomainSetVcpusFlags(d.dom, uint32(count), uint32(libvirt.DomainVCPUConfig))
	if err != nil {
		return fmt.Errorf("failed to set vcpus for %s: %w", d.Name(), err)
	}
	return nil
}

// setMemory resizes the domain in KiB, raising the maximum before the
// current allocation so the second call cannot exceed the ceiling.
func (d *Domain) setMemory(megabytes int) error {
	kib := uint64(megabytes) * 1024

	err := d.client.DomainSetMemoryFlags(d.dom, kib, uint32(libvirt.DomainMemConfig|libvirt.DomainMemMaximum))
	if err != nil {
		return fmt.Errorf("failed to set maximum memory for %s: %w", d.Name(), err)
	}
	err = d.client.DomainSetMemoryFlags(d.dom, kib, uint32(libvirt.DomainMemConfig))
	if err != nil {
		return fmt.Errorf("failed to set memory for %s: %w", d.Name(), err)
	}
	return nil
}

// loadSSHKey reads the public key file, expanding a leading ~.
func loadSSHKey(path string) (string, error) {
	expanded := path
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		expanded = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return "", fmt.Errorf(
			"cannot read %s. If you don't have any SSH key, please follow the steps described here:\n  %s\n%w",
			path, sshKeyDocURL, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}
