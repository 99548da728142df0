package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/arclight/internal/config"
	"github.com/jbweber/arclight/internal/vm"
)

var upFlags struct {
	name         string
	memory       int
	vcpus        int
	rootPassword string
	username     string
	sshKeyFile   string
	fqdn         string
	contextTag   string
	provider     string
	nicModel     string
	diskSizeGB   uint64
	wait         bool
	waitTimeout  time.Duration
}

var upCmd = &cobra.Command{
	Use:   "up <distro>",
	Short: "Boot a VM from a base image",
	Long: `Boot a new virtual machine from a distribution base image.

The base image must already be present in the storage pool's upstream
directory (see "arclight distro"). Configuration is merged from built-in
defaults, the distro's override file, and the flags given here.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		distro := args[0]

		opts := vm.UpOptions{
			Name:            upFlags.name,
			Distro:          distro,
			DefaultUsername: defaultUsername(),
			Provider:        upFlags.provider,
			RootDiskSizeGB:  upFlags.diskSizeGB,
			UserConfig: config.Instance{
				Memory:          upFlags.memory,
				VCPUs:           upFlags.vcpus,
				RootPassword:    upFlags.rootPassword,
				Username:        upFlags.username,
				SSHKeyFile:      upFlags.sshKeyFile,
				FQDN:            upFlags.fqdn,
				Context:         upFlags.contextTag,
				DefaultNICModel: upFlags.nicModel,
			},
		}

		ctx := context.Background()
		return withProvisioner(ctx, func(p *vm.Provisioner) error {
			d, err := p.Up(opts)
			if err != nil {
				return err
			}

			addr, err := d.IPv4()
			if err != nil {
				return err
			}
			fmt.Printf("%s is booting at %s\n", d.Name(), addr.Addr())

			if !upFlags.wait {
				return nil
			}
			return vm.WaitReachable(ctx, addr.Addr(), upFlags.waitTimeout)
		})
	},
}

func init() {
	upCmd.Flags().StringVar(&upFlags.name, "name", "", "domain name (default: random)")
	upCmd.Flags().IntVar(&upFlags.memory, "memory", 0, "memory in MB")
	upCmd.Flags().IntVar(&upFlags.vcpus, "vcpus", 0, "number of vCPUs")
	upCmd.Flags().StringVar(&upFlags.rootPassword, "root-password", "", "root password")
	upCmd.Flags().StringVar(&upFlags.username, "username", "", "login account to provision")
	upCmd.Flags().StringVar(&upFlags.sshKeyFile, "ssh-key-file", "", "public key to authorize")
	upCmd.Flags().StringVar(&upFlags.fqdn, "fqdn", "", "fully qualified domain name")
	upCmd.Flags().StringVar(&upFlags.contextTag, "context", "default", "grouping tag for down")
	upCmd.Flags().StringVar(&upFlags.provider, "provider", "", `force the seed dialect ("nocloud")`)
	upCmd.Flags().StringVar(&upFlags.nicModel, "nic-model", "", "NIC model for new interfaces")
	upCmd.Flags().Uint64Var(&upFlags.diskSizeGB, "disk-size", 0, "root disk size in GB")
	upCmd.Flags().BoolVar(&upFlags.wait, "wait", false, "wait until SSH answers")
	upCmd.Flags().DurationVar(&upFlags.waitTimeout, "wait-timeout", 5*time.Minute, "how long to wait for SSH")
}
