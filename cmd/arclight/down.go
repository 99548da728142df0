package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jbweber/arclight/internal/vm"
)

var downContext string

var downCmd = &cobra.Command{
	Use:   "down [name...]",
	Short: "Destroy VMs",
	Long: `Destroy virtual machines by name, or with no arguments every VM
carrying the given context tag.

Teardown is best-effort: failed steps are logged and the rest still run,
so a half-broken VM can always be removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return withProvisioner(ctx, func(p *vm.Provisioner) error {
			names := args
			if len(names) == 0 {
				infos, err := p.List()
				if err != nil {
					return err
				}
				for _, info := range infos {
					if info.Context == downContext {
						names = append(names, info.Name)
					}
				}
			}

			var firstErr error
			for _, name := range names {
				if err := p.Destroy(name); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		})
	},
}

func init() {
	downCmd.Flags().StringVar(&downContext, "context", "default", "destroy every VM with this tag")
}
