package main

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"packet-racers/peer"
	"packet-racers/pkg/transport"
)

var (
	sendTo         string
	sendProtocol   = transport.KindTCP
	sendPacketSize int
	sendNoColor    bool
)

var sendCmd = &cobra.Command{
	Use:   "send <file>",
	Short: "Send one file to a node and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []peer.NodeOption{}
		if sendPacketSize > 0 {
			opts = append(opts, peer.WithPacketSize(sendPacketSize))
		}
		node, err := peer.NewNodeFromConfig(cfg, opts...)
		if err != nil {
			return err
		}
		return sendFile(node, args[0], sendTo, sendProtocol, !sendNoColor)
	},
}

// openTransfer accepts either a node identifier, resolved through the
// directories, or a literal "ip:port".
func openTransfer(node *peer.Node, target string, kind transport.Kind) (*peer.FileTransfer, error) {
	if id, err := uuid.Parse(target); err == nil {
		return node.CreateFileTransferTo(id, kind)
	}
	return node.CreateFileTransferToAddr(target, kind)
}

func sendFile(node *peer.Node, path, target string, kind transport.Kind, useColors bool) error {
	if target == "" {
		return fmt.Errorf("no receiver given")
	}
	ft, err := openTransfer(node, target, kind)
	if err != nil {
		return err
	}
	defer ft.Close()

	renderer := peer.NewProgressRenderer(ft, filepath.Base(path), useColors && peer.IsTerminalSupported())
	go renderer.Start()

	err = ft.Send(path)
	renderer.StopAndWait()
	return err
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendTo, "to", "t", "", "Receiver identifier or ip:port")
	sendCmd.Flags().VarP(&sendProtocol, "protocol", "p", "Transport: tcp, udp or gudp")
	sendCmd.Flags().IntVar(&sendPacketSize, "packet-size", 0, "Bytes per packet (default from P2P_PACKET_SIZE)")
	sendCmd.Flags().BoolVar(&sendNoColor, "no-color", false, "Disable colored progress output")
	sendCmd.MarkFlagRequired("to")
}
