package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/arclight/internal/vm"
)

var distroCmd = &cobra.Command{
	Use:   "distro",
	Short: "List available base images",
	Long: `List the distribution base images available in the storage pool's
upstream directory. Any of these names can be passed to "arclight up".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return withProvisioner(ctx, func(p *vm.Provisioner) error {
			if err := p.Storage.EnsurePool(vm.DefaultPoolName); err != nil {
				return err
			}
			distros, err := p.Storage.ListBaseImages()
			if err != nil {
				return err
			}
			for _, distro := range distros {
				fmt.Println(distro)
			}
			return nil
		})
	},
}
