package main

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/openmined/blobdispatch/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(version.Get())
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.DetailedWithApp())
			return err
		},
	}

	cmd.Flags().Bool("json", false, "Print as JSON")
	return cmd
}
