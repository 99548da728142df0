package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/arclight/internal/hypervisor"
	"github.com/jbweber/arclight/internal/network"
	"github.com/jbweber/arclight/internal/storage"
	"github.com/jbweber/arclight/internal/vm"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	socketPath     string
	connectTimeout time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "arclight",
	Short: "Arclight - throwaway libvirt VMs from cloud images",
	Long: `Arclight provisions short-lived virtual machines on a local libvirt
hypervisor: it boots distribution cloud images with generated cloud-init
seed media, hands out addresses on a managed NAT network, and tears
everything down again.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "libvirt socket path (default /var/run/libvirt/libvirt-sock)")
	rootCmd.PersistentFlags().DurationVar(&connectTimeout, "connect-timeout", 5*time.Second, "libvirt connection timeout")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(distroCmd)
	rootCmd.AddCommand(seedCmd)
}

// withProvisioner runs fn against a freshly probed hypervisor session.
func withProvisioner(ctx context.Context, fn func(p *vm.Provisioner) error) error {
	session, err := hypervisor.NewSession(ctx, socketPath, connectTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
		}
	}()

	p := vm.NewProvisioner(session, storage.NewManager(session.Libvirt()), network.NewManager(session.Libvirt()))
	return fn(p)
}

// defaultUsername resolves the invoking user's login name, falling back to
// root when the lookup fails.
func defaultUsername() string {
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return "root"
	}
	return u.Username
}
