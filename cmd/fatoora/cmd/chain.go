package cmd

import "github.com/spf13/cobra"

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Invoice chain verification tools",
	Long:  `Commands for verifying and inspecting exported invoice signing chains.`,
}

func init() {
	rootCmd.AddCommand(chainCmd)
}
