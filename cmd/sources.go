package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the wired price sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, cache := buildScraperStack(cfg)
		defer cache.Close()

		for _, s := range reg.All() {
			fmt.Fprintln(cmd.OutOrStdout(), s.Name())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
