// File: cmd/audit.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/decentraleyes/loadwatcher/internal/browser"
	"github.com/decentraleyes/loadwatcher/internal/observability"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// pageAuditor loads one page and reports the load events it delivered.
type pageAuditor interface {
	Audit(ctx context.Context, pageURL string) (*browser.Report, error)
	Close()
}

// auditResult is one line of audit output.
type auditResult struct {
	*browser.Report
	Tainted bool   `json:"tainted"`
	Error   string `json:"error,omitempty"`
}

func newAuditCmd() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit [urls...]",
		Short: "Loads pages in a headless browser and learns from their script elements",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("headless") {
				headless, _ := cmd.Flags().GetBool("headless")
				cfg.SetBrowserHeadless(headless)
			}

			components, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}

			auditor := browser.NewAuditor(cfg.Browser(), components.Deliverer, logger)
			results, failed := runAudits(ctx, components, auditor, args, logger)

			out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(results, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode audit results: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if failed == len(args) {
				return errors.New("every audit failed")
			}
			return nil
		},
	}

	auditCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	return auditCmd
}

// runAudits audits every target, shuts the components down so the delivered
// events are evaluated, then reads each page's taint from the store.
func runAudits(ctx context.Context, c *watcherComponents, auditor pageAuditor, targets []string, logger *zap.Logger) ([]auditResult, int) {
	results := make([]auditResult, 0, len(targets))
	var failed int
	for _, target := range targets {
		if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
			target = "https://" + target
		}
		report, err := auditor.Audit(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("Audit failed", zap.String("url", target), zap.Error(err))
			results = append(results, auditResult{Report: &browser.Report{PageURL: target}, Error: err.Error()})
			failed++
			continue
		}
		results = append(results, auditResult{Report: report})
	}
	auditor.Close()

	if err := c.Shutdown(); err != nil {
		logger.Error("Shutdown completed with errors.", zap.Error(err))
	}
	for i := range results {
		if results[i].Origin != "" {
			results[i].Tainted = c.Store.Contains(results[i].Origin)
		}
	}
	return results, failed
}
