// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sqlnet",
	Short: "sqlnet - SQL Server connectivity diagnosis from packet captures",
	Long: `sqlnet reads packet captures (pcap, pcapng) and reconstructs what happened on the
wire while clients tried to reach SQL Server.

It reports:
  - DNS lookups that failed, with the response code explained
  - SQL Browser (SSRP) discovery exchanges and the instances they announced
  - Domain controllers seen answering DNS, Kerberos or LDAP, and their RPC port
  - SQL Server endpoints and whether their logins were encrypted`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults apply when empty)")

	// Add subcommands
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(validateCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
