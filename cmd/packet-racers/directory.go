package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"

	"packet-racers/directory"
	"packet-racers/pkg/logger"
)

var (
	directoryAddr        string
	directoryInteractive bool
	directoryAdvertise   bool
)

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Start the directory service",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := directoryAddr
		if addr == "" {
			addr = cfg.DirectoryAddr()
		}
		logger.Sugar.Infof("Starting directory service on %s", addr)

		server := directory.NewServer(addr, directory.WithAdvertise(directoryAdvertise))
		if err := server.ListenAndAccept(); err != nil {
			return err
		}
		defer server.Stop()

		if !directoryInteractive {
			<-cmd.Context().Done()
			return nil
		}

		fmt.Println("Directory Service Interactive Shell")
		fmt.Println("Type 'help' for commands.")

		prompt.New(
			func(in string) { directoryExecutor(in, server) },
			directoryCompleter,
			prompt.OptionPrefix("directory> "),
			prompt.OptionTitle("packet-racers directory"),
		).Run()
		return nil
	},
}

func directoryExecutor(in string, server *directory.Server) {
	blocks := strings.Fields(strings.TrimSpace(in))
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Stopping directory...")
		server.Stop()
		os.Exit(0)
	case "status":
		fmt.Println(server.GetStatus())
	case "list":
		if len(blocks) > 1 && blocks[1] == "nodes" {
			nodes := server.GetPeersList()
			if len(nodes) == 0 {
				fmt.Println("No nodes registered.")
				return
			}
			fmt.Println("Registered Nodes:")
			for _, n := range nodes {
				fmt.Println("- " + n)
			}
		} else {
			fmt.Println("Usage: list nodes")
		}
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  status       - Show directory status")
		fmt.Println("  list nodes   - List registered nodes")
		fmt.Println("  exit         - Stop directory and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func directoryCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "status", Description: "Show directory status"},
		{Text: "list nodes", Description: "List registered identifiers and addresses"},
		{Text: "exit", Description: "Exit the directory"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(directoryCmd)
	directoryCmd.Flags().StringVarP(&directoryAddr, "addr", "a", "", "Address to listen on (default from P2P_DIRECTORY_ADDR)")
	directoryCmd.Flags().BoolVarP(&directoryInteractive, "interactive", "i", false, "Start in interactive mode")
	directoryCmd.Flags().BoolVar(&directoryAdvertise, "advertise", true, "Announce the directory over mDNS")
}
