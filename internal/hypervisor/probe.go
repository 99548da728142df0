package hypervisor

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"sort"
	"strings"

	"libvirt.org/go/libvirtxml"
)

// kvmBinaries are the emulator candidates, checked in order. The list covers
// the usual install locations across Fedora, Debian and RHEL derivatives.
var kvmBinaries = []string{
	"/usr/bin/qemu-system-x86_64",
	"/usr/bin/qemu-kvm",
	"/usr/bin/kvm",
	"/usr/libexec/qemu-kvm",
}

// isoTools are the ISO-mastering tool names searched on PATH, in order.
var isoTools = []string{
	"genisoimage",
	"mkisofs",
}

// MissingBinaryError indicates that none of the candidate binaries for a
// required tool exist on this host.
type MissingBinaryError struct {
	Tool       string
	Candidates []string
}

func (e *MissingBinaryError) Error() string {
	return fmt.Sprintf("failed to find the %s binary, tried: %s",
		e.Tool, strings.Join(e.Candidates, ", "))
}

// capabilitiesClient is the subset of libvirt operations needed to probe
// host capabilities.
type capabilitiesClient interface {
	ConnectGetCapabilities() (string, error)
}

// Capabilities holds the parsed host capability document.
type Capabilities struct {
	caps libvirtxml.Caps
}

// QueryCapabilities fetches and parses the hypervisor capability document.
func QueryCapabilities(client capabilitiesClient) (*Capabilities, error) {
	xmlDesc, err := client.ConnectGetCapabilities()
	if err != nil {
		return nil, fmt.Errorf("failed to query capabilities: %w", err)
	}

	var c Capabilities
	if err := c.caps.Unmarshal(xmlDesc); err != nil {
		return nil, fmt.Errorf("failed to parse capabilities XML: %w", err)
	}

	return &c, nil
}

// Architecture returns the host CPU architecture (e.g. "x86_64").
func (c *Capabilities) Architecture() string {
	if c.caps.Host.CPU == nil {
		return ""
	}
	return c.caps.Host.CPU.Arch
}

// PreferredDomainType selects the domain type to use for new guests.
//
// Among the capability-reported types, the hardware-accelerated one wins over
// an emulated one. The candidates are sorted so the result is stable: "kvm"
// orders before "qemu", and the first entry is returned.
func (c *Capabilities) PreferredDomainType() (string, error) {
	seen := map[string]bool{}
	var available []string
	for _, guest := range c.caps.Guests {
		for _, dom := range guest.Arch.Domains {
			if dom.Type != "" && !seen[dom.Type] {
				seen[dom.Type] = true
				available = append(available, dom.Type)
			}
		}
	}
	if len(available) == 0 {
		return "", fmt.Errorf("no domain type available")
	}
	if !seen["kvm"] {
		log.Printf("Warning: kvm mode not available, guests will be emulated")
	}
	sort.Strings(available)
	return available[0], nil
}

// EmulatorPath returns the first existing emulator binary from the candidate
// list, or a MissingBinaryError if none exist.
func EmulatorPath() (string, error) {
	for _, path := range kvmBinaries {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", &MissingBinaryError{Tool: "kvm", Candidates: kvmBinaries}
}

// ISOToolPath returns the path of the first ISO-mastering tool found on the
// executable search path, or a MissingBinaryError if none is installed.
func ISOToolPath() (string, error) {
	for _, name := range isoTools {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", &MissingBinaryError{Tool: "iso", Candidates: isoTools}
}
