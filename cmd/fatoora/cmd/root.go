package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fatoora",
	Short: "Fatoora is an e-invoicing compliance engine",
	Long: `Fatoora manages signing certificates against the tax authority and
produces hash-chained, cryptographically stamped invoices with QR payloads.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
}
