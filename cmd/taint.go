// File: cmd/taint.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/decentraleyes/loadwatcher/internal/observability"
	"github.com/decentraleyes/loadwatcher/internal/taint"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTaintCmd() *cobra.Command {
	taintCmd := &cobra.Command{
		Use:   "taint",
		Short: "Inspects and edits the persisted set of tainted domains",
	}
	taintCmd.AddCommand(newTaintListCmd())
	taintCmd.AddCommand(newTaintCheckCmd())
	taintCmd.AddCommand(newTaintMarkCmd())
	return taintCmd
}

// withTaintStore opens the configured store for the duration of fn.
func withTaintStore(cmd *cobra.Command, fn func(s *taint.Store) error) (err error) {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	logger := observability.GetLogger()

	s, err := openTaintStore(cmd.Context(), cfg.Storage(), nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if closeErr := s.Close(ctx); closeErr != nil {
			logger.Error("Failed to close taint store.", zap.Error(closeErr))
			if err == nil {
				err = closeErr
			}
		}
	}()
	return fn(s)
}

func newTaintListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Prints every tainted domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaintStore(cmd, func(s *taint.Store) error {
				for _, d := range s.Domains() {
					fmt.Fprintln(cmd.OutOrStdout(), d)
				}
				return nil
			})
		},
	}
}

func newTaintCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [domains...]",
		Short: "Reports whether each domain is tainted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaintStore(cmd, func(s *taint.Store) error {
				for _, arg := range args {
					key, ok := taint.NormalizeDomain(arg)
					if !ok {
						return fmt.Errorf("invalid domain %q", arg)
					}
					state := "clean"
					if s.Contains(key) {
						state = "tainted"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", key, state)
				}
				return nil
			})
		},
	}
}

func newTaintMarkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark [domains...]",
		Short: "Adds domains to the tainted set by hand",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaintStore(cmd, func(s *taint.Store) error {
				for _, arg := range args {
					key, ok := taint.NormalizeDomain(arg)
					if !ok {
						return fmt.Errorf("invalid domain %q", arg)
					}
					if s.Mark(key) {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\tmarked\n", key)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\talready tainted\n", key)
					}
				}
				return s.Flush(cmd.Context())
			})
		},
	}
}
