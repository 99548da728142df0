package cloudinit

import (
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Dialect selects the metadata format mastered onto the seed media.
type Dialect int

const (
	// DialectConfigDrive is the OpenStack config-drive layout:
	// meta_data.json, network_data.json and user_data under
	// openstack/latest/, volume label "config-2".
	DialectConfigDrive Dialect = iota

	// DialectNoCloud is the NoCloud layout: meta-data, network-config and
	// user-data at the image root, volume label "cidata".
	DialectNoCloud
)

const (
	configDriveLabel = "config-2"
	noCloudLabel     = "cidata"
	isoPublisher     = "arclight"
)

// legacyDistroPrefixes name the guest families whose cloud-init cannot read
// the config-drive layout.
var legacyDistroPrefixes = []string{"rhel-6.", "centos-6."}

func (d Dialect) String() string {
	if d == DialectNoCloud {
		return "nocloud"
	}
	return "config-drive"
}

// SelectDialect picks the seed dialect: an explicit "nocloud" provider hint
// wins, legacy guest families fall back to NoCloud, everything else gets the
// richer config-drive format.
func SelectDialect(provider, distro string) Dialect {
	if provider == "nocloud" {
		return DialectNoCloud
	}
	for _, prefix := range legacyDistroPrefixes {
		if strings.HasPrefix(distro, prefix) {
			return DialectNoCloud
		}
	}
	return DialectConfigDrive
}

// Seed collects everything the seed media describes about one domain.
// MACAddresses holds every NIC in attach order, primary first.
type Seed struct {
	Dialect Dialect

	Name         string
	UUID         string
	FQDN         string
	SSHKey       string
	RootPassword string

	MACAddresses        []string
	Address             netip.Prefix
	Gateway             netip.Addr
	DNS                 netip.Addr
	Network             netip.Prefix
	AdditionalAddresses []string

	UserData *UserData
}

// ToolError reports a failed ISO mastering tool invocation, carrying the
// tool's combined output for diagnosis.
type ToolError struct {
	Tool   string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s failed: %v\n%s", e.Tool, e.Err, e.Output)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Build writes the seed tree for the selected dialect to a scratch directory,
// masters it into an ISO 9660 image with the given external tool, and returns
// the image bytes.
func (s *Seed) Build(toolPath string) ([]byte, error) {
	if len(s.MACAddresses) == 0 {
		return nil, fmt.Errorf("seed for %s has no MAC address", s.Name)
	}
	if s.UserData == nil {
		return nil, fmt.Errorf("seed for %s has no user-data document", s.Name)
	}

	tempDir, err := os.MkdirTemp("", "arclight-seed-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	cdDir := filepath.Join(tempDir, "cd_dir")
	if err := os.Mkdir(cdDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create seed tree: %w", err)
	}

	switch s.Dialect {
	case DialectNoCloud:
		err = s.writeNoCloudTree(cdDir)
	default:
		err = s.writeConfigDriveTree(cdDir)
	}
	if err != nil {
		return nil, err
	}

	isoName := s.Name + "-cidata.iso"
	args := isoToolArgs(s.Dialect, isoName, cdDir)

	cmd := exec.Command(toolPath, args...)
	cmd.Dir = tempDir
	if out, runErr := cmd.CombinedOutput(); runErr != nil {
		return nil, &ToolError{Tool: toolPath, Output: string(out), Err: runErr}
	}

	image, err := os.ReadFile(filepath.Join(tempDir, isoName))
	if err != nil {
		return nil, fmt.Errorf("failed to read mastered image: %w", err)
	}
	return image, nil
}

// writeConfigDriveTree lays out openstack/latest/{meta_data.json,
// network_data.json,user_data} under dir.
func (s *Seed) writeConfigDriveTree(dir string) error {
	latest := filepath.Join(dir, "openstack", "latest")
	if err := os.MkdirAll(latest, 0o755); err != nil {
		return fmt.Errorf("failed to create seed tree: %w", err)
	}

	metaData, err := s.metaDataJSON()
	if err != nil {
		return err
	}
	networkData, err := s.networkDataJSON()
	if err != nil {
		return err
	}
	userData, err := s.UserData.Render()
	if err != nil {
		return err
	}

	files := map[string][]byte{
		"meta_data.json":    metaData,
		"network_data.json": networkData,
		"user_data":         []byte(userData),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(latest, name), data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// writeNoCloudTree lays out meta-data, network-config and user-data at the
// root of dir.
func (s *Seed) writeNoCloudTree(dir string) error {
	networkConfig, err := s.noCloudNetworkConfig()
	if err != nil {
		return err
	}
	userData, err := s.UserData.Render()
	if err != nil {
		return err
	}

	files := map[string][]byte{
		"meta-data":      []byte(s.noCloudMetaData()),
		"network-config": networkConfig,
		"user-data":      []byte(userData),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// isoToolArgs builds the genisoimage/mkisofs invocation for a dialect. The
// config-drive layout needs the relaxed Rock Ridge/Joliet naming flags to
// keep its nested lowercase paths intact.
func isoToolArgs(dialect Dialect, output, dir string) []string {
	if dialect == DialectNoCloud {
		return []string{"-output", output, "-volid", noCloudLabel, "-joliet", "-R", dir}
	}
	return []string{
		"-output", output,
		"-ldots", "-allow-lowercase", "-allow-multidot", "-l",
		"-publisher", isoPublisher,
		"-quiet", "-J", "-r",
		"-V", configDriveLabel,
		dir,
	}
}
