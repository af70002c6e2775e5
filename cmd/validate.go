package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/sqlnet/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without analyzing anything.

Environment overrides (SQLNET_*) are applied before validation.

Examples:
  sqlnet validate -c sqlnet.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		if configFile == "" {
			exitWithError("validate requires --config", nil)
		}
		if err := runValidate(configFile, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

func runValidate(path string, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "VALID: log %s/%s, output %s, msrpc length %s, %d TDS port(s)\n",
		cfg.Log.Level,
		cfg.Log.Format,
		cfg.Output.Format,
		cfg.Analysis.MSRPCLength,
		len(cfg.Analysis.TDSPorts),
	)
	return nil
}
