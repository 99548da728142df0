package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/arclight/internal/cloudinit"
	"github.com/jbweber/arclight/internal/vm"
)

var seedCmd = &cobra.Command{
	Use:   "seed <vm-name>",
	Short: "Inspect a VM's seed media",
	Long: `List the files inside a virtual machine's cloud-init seed image,
useful to check which dialect the guest was handed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		ctx := context.Background()
		return withProvisioner(ctx, func(p *vm.Provisioner) error {
			if err := p.Storage.EnsurePool(vm.DefaultPoolName); err != nil {
				return err
			}
			vol, err := p.Storage.LookupVolume(name + "-cidata.qcow2")
			if err != nil {
				return fmt.Errorf("no seed media for %s: %w", name, err)
			}
			path, err := p.Storage.VolumePath(vol)
			if err != nil {
				return err
			}

			files, err := cloudinit.InspectSeed(path)
			if err != nil {
				return err
			}
			for _, file := range files {
				fmt.Println(file)
			}
			return nil
		})
	},
}
