package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"packet-racers/peer"
	"packet-racers/pkg/logger"
	"packet-racers/pkg/monitor"
	"packet-racers/pkg/transport"
)

var (
	nodeAddr        string
	nodeDirectories []string
	nodeProtocol    = transport.KindTCP
	nodePacketSize  int
	nodeAnnounce    bool
	nodeDiscover    time.Duration
	nodeOutbox      string
	nodeOutboxTo    string
	nodeMetrics     time.Duration
	nodeInteractive bool
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Start a node that receives on tcp and udp",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if nodeOutbox != "" && nodeOutboxTo == "" {
			return fmt.Errorf("--outbox needs --outbox-to")
		}

		node, err := newNode()
		if err != nil {
			return err
		}
		if err := node.StartListening(); err != nil {
			return err
		}
		defer node.Stop()

		if nodeDiscover > 0 {
			dctx, cancel := context.WithTimeout(ctx, nodeDiscover)
			if n, err := node.DiscoverDirectories(dctx); err != nil {
				logger.Sugar.Warnf("Directory discovery failed: %v", err)
			} else {
				logger.Sugar.Infof("Discovered %d directories", n)
			}
			cancel()
		}

		if nodeAnnounce {
			if err := node.Announce(); err != nil {
				logger.Sugar.Warnf("Announce failed: %v", err)
			}
			defer node.Leave()
		}

		if nodeMetrics > 0 {
			go monitor.LogPeriodic(ctx, nodeMetrics)
		}

		if nodeOutbox != "" {
			ob, err := peer.NewOutbox(ctx, node, nodeOutbox, nodeOutboxTo, nodeProtocol)
			if err != nil {
				return err
			}
			if err := ob.Start(); err != nil {
				return err
			}
			defer ob.Stop()
			go func() {
				for res := range ob.Results() {
					logger.Sugar.Infof("[Outbox] %s: %s", res.Path, res.Progress)
				}
			}()
		}

		fmt.Printf("Node %s listening on %s\n", node.ID(), node.Addr())

		if !nodeInteractive {
			<-ctx.Done()
			return nil
		}

		fmt.Println("Node Interactive Shell")
		fmt.Println("Type 'help' for commands.")

		prompt.New(
			func(in string) { nodeExecutor(in, node) },
			nodeCompleter,
			prompt.OptionPrefix("node> "),
			prompt.OptionTitle("packet-racers node"),
		).Run()
		return nil
	},
}

// newNode applies the flags on top of the loaded configuration.
func newNode() (*peer.Node, error) {
	opts := []peer.NodeOption{peer.WithDirectories(nodeDirectories...)}
	if nodePacketSize > 0 {
		opts = append(opts, peer.WithPacketSize(nodePacketSize))
	}

	if nodeAddr == "" {
		return peer.NewNodeFromConfig(cfg, opts...)
	}
	base := []peer.NodeOption{
		peer.WithAckTimeout(cfg.AckTimeout()),
		peer.WithAckMaxAttempts(cfg.AckMaxAttempts()),
		peer.WithSinks(cfg.StreamSinkPath(), cfg.DatagramSinkPath()),
		peer.WithPacketSize(cfg.PacketSize()),
		peer.WithDirectories(cfg.DirectoryAddrs()...),
	}
	return peer.NewNode(nodeAddr, append(base, opts...)...)
}

func nodeExecutor(in string, node *peer.Node) {
	blocks := strings.Fields(strings.TrimSpace(in))
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Stopping node...")
		if nodeAnnounce {
			node.Leave()
		}
		node.Stop()
		os.Exit(0)
	case "status":
		fmt.Println(node.GetStatus())
	case "stats":
		s := monitor.Global.Snapshot()
		fmt.Printf("Sent %d bytes in %d packets, %d retransmissions\n", s.BytesSent, s.PacketsSent, s.Retransmissions)
		fmt.Printf("Transfers: %d completed, %d failed\n", s.TransfersCompleted, s.TransfersFailed)
		fmt.Printf("Received %d bytes, up %s\n", s.BytesReceived, s.Uptime.Round(time.Second))
	case "send":
		if len(blocks) < 3 {
			fmt.Println("Usage: send <file> <uuid|ip:port> [tcp|udp|gudp]")
			return
		}
		kind := nodeProtocol
		if len(blocks) > 3 {
			k, err := transport.ParseKind(blocks[3])
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				return
			}
			kind = k
		}
		if err := sendFile(node, blocks[1], blocks[2], kind, true); err != nil {
			fmt.Printf("Error sending file: %v\n", err)
		}
	case "lookup":
		if len(blocks) < 2 {
			fmt.Println("Usage: lookup <uuid>")
			return
		}
		id, err := uuid.Parse(blocks[1])
		if err != nil {
			fmt.Printf("Invalid identifier: %v\n", err)
			return
		}
		addr, err := node.Lookup(id)
		if err != nil {
			fmt.Printf("Lookup failed: %v\n", err)
			return
		}
		fmt.Println(addr)
	case "announce":
		if err := node.Announce(); err != nil {
			fmt.Printf("Announce failed: %v\n", err)
		} else {
			fmt.Println("Announced.")
		}
	case "leave":
		if err := node.Leave(); err != nil {
			fmt.Printf("Leave failed: %v\n", err)
		} else {
			fmt.Println("Left all directories.")
		}
	case "directory":
		if len(blocks) < 2 {
			fmt.Println("Usage: directory <ip:port>")
			return
		}
		if node.AddDirectory(blocks[1]) {
			fmt.Println("Directory added.")
		} else {
			fmt.Println("Directory already known.")
		}
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  status                          - Show node status")
		fmt.Println("  stats                           - Show transfer counters")
		fmt.Println("  send <file> <target> [protocol] - Send a file to a uuid or ip:port")
		fmt.Println("  lookup <uuid>                   - Resolve a node through the directories")
		fmt.Println("  announce                        - Register with the directories")
		fmt.Println("  leave                           - Deregister from the directories")
		fmt.Println("  directory <ip:port>             - Add a directory")
		fmt.Println("  exit                            - Stop node and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func nodeCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "status", Description: "Show node status"},
		{Text: "stats", Description: "Show transfer counters"},
		{Text: "send", Description: "Send a file"},
		{Text: "lookup", Description: "Resolve a node identifier"},
		{Text: "announce", Description: "Register with the directories"},
		{Text: "leave", Description: "Deregister from the directories"},
		{Text: "directory", Description: "Add a directory address"},
		{Text: "exit", Description: "Exit the node"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.Flags().StringVarP(&nodeAddr, "addr", "a", "", "Address to listen on (default from P2P_NODE_ADDR)")
	nodeCmd.Flags().StringSliceVarP(&nodeDirectories, "directory", "d", nil, "Additional directory addresses")
	nodeCmd.Flags().VarP(&nodeProtocol, "protocol", "p", "Default transport for sends: tcp, udp or gudp")
	nodeCmd.Flags().IntVar(&nodePacketSize, "packet-size", 0, "Bytes per packet (default from P2P_PACKET_SIZE)")
	nodeCmd.Flags().BoolVar(&nodeAnnounce, "announce", true, "Register with the directories on start")
	nodeCmd.Flags().DurationVar(&nodeDiscover, "discover", 0, "Browse mDNS for directories for this long before announcing")
	nodeCmd.Flags().StringVar(&nodeOutbox, "outbox", "", "Directory whose new files are sent to --outbox-to")
	nodeCmd.Flags().StringVar(&nodeOutboxTo, "outbox-to", "", "Receiver ip:port for the outbox")
	nodeCmd.Flags().DurationVar(&nodeMetrics, "metrics-interval", 0, "Log runtime metrics at this interval")
	nodeCmd.Flags().BoolVarP(&nodeInteractive, "interactive", "i", false, "Start in interactive mode")
}
