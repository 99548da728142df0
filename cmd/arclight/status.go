package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jbweber/arclight/internal/vm"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List managed VMs",
	Long:  `List every virtual machine provisioned by arclight with its address and state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return withProvisioner(ctx, func(p *vm.Provisioner) error {
			infos, err := p.List()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tIPV4\tDISTRO\tUSERNAME\tCONTEXT\tSTATE")
			for _, info := range infos {
				state := "shutoff"
				if info.Running {
					state = "running"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					info.Name, info.IPv4, info.Distro, info.Username, info.Context, state)
			}
			return w.Flush()
		})
	},
}
