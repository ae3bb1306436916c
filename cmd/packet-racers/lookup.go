package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"packet-racers/directory"
)

var lookupDirectory string

var lookupCmd = &cobra.Command{
	Use:   "lookup <uuid>",
	Short: "Ask a directory for the address of a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid identifier %q: %w", args[0], err)
		}
		addr := lookupDirectory
		if addr == "" {
			addr = cfg.DirectoryAddr()
		}

		found, err := directory.NewClient(addr).Query(id)
		if err != nil {
			return err
		}
		fmt.Println(found)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lookupCmd)
	lookupCmd.Flags().StringVarP(&lookupDirectory, "directory", "d", "", "Directory address (default from P2P_DIRECTORY_ADDR)")
}
