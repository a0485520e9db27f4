// File: cmd/ca.go
package cmd

import (
	"fmt"
	"time"

	"github.com/decentraleyes/loadwatcher/internal/observability"
	"github.com/decentraleyes/loadwatcher/internal/security"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCACmd() *cobra.Command {
	caCmd := &cobra.Command{
		Use:   "ca",
		Short: "Manages the certificate authority used to intercept HTTPS loads",
	}
	caCmd.AddCommand(newCAGenerateCmd())
	return caCmd
}

func newCAGenerateCmd() *cobra.Command {
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generates a CA certificate and key for the watch proxy",
		Long: `Generates a CA certificate and key at the configured proxy.ca_cert and
proxy.ca_key paths (or the paths given by flags). Clients must trust the
certificate for the proxy to see HTTPS load metadata.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			certPath, keyPath := cfg.Proxy().CACert, cfg.Proxy().CAKey
			if cmd.Flags().Changed("cert") {
				certPath, _ = cmd.Flags().GetString("cert")
			}
			if cmd.Flags().Changed("key") {
				keyPath, _ = cmd.Flags().GetString("key")
			}
			if certPath == "" || keyPath == "" {
				return fmt.Errorf("certificate and key paths are required (set proxy.ca_cert and proxy.ca_key or use --cert and --key)")
			}
			if certPath, err = homedir.Expand(certPath); err != nil {
				return err
			}
			if keyPath, err = homedir.Expand(keyPath); err != nil {
				return err
			}

			org, _ := cmd.Flags().GetString("organization")
			validity, _ := cmd.Flags().GetDuration("validity")

			ca, err := security.NewCA(org, validity)
			if err != nil {
				return err
			}
			if err := ca.WriteFiles(certPath, keyPath); err != nil {
				return err
			}

			logger.Info("Generated interception CA.",
				zap.String("cert", certPath),
				zap.Time("expires", ca.Cert.NotAfter),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "certificate: %s\nkey: %s\n", certPath, keyPath)
			return nil
		},
	}

	generateCmd.Flags().String("cert", "", "Output path for the certificate. (Overrides config/env)")
	generateCmd.Flags().String("key", "", "Output path for the private key. (Overrides config/env)")
	generateCmd.Flags().String("organization", security.DefaultOrganization, "Organization name on the certificate.")
	generateCmd.Flags().Duration("validity", 365*24*time.Hour, "How long the certificate stays valid.")
	return generateCmd
}
