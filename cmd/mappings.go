// File: cmd/mappings.go
package cmd

import (
	"fmt"

	"github.com/decentraleyes/loadwatcher/internal/mappings"
	"github.com/spf13/cobra"
)

func newMappingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mappings",
		Short: "Lists the CDN hosts whose scripts the watcher tracks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			table, err := mappings.Load(cfg.Mappings().File)
			if err != nil {
				return err
			}
			for _, host := range table.Hosts() {
				fmt.Fprintln(cmd.OutOrStdout(), host)
			}
			return nil
		},
	}
}
