package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/p2pchat/p2pchat/internal/chaterr"
	"github.com/p2pchat/p2pchat/internal/command"
	"github.com/p2pchat/p2pchat/internal/filestage"
	"github.com/p2pchat/p2pchat/internal/message"
	"github.com/p2pchat/p2pchat/internal/session"
)

// runREPL reads chat lines and "/name" commands from stdin until ctx is
// cancelled, /quit is entered, or stdin closes. Grounded on cli.go's repl:
// same bufio.NewReader-over-stdin shape, same "slash prefix means command,
// anything else is a chat line" split.
func runREPL(ctx context.Context, ep *session.Endpoint, maxFileBytes int64) {
	in := bufio.NewReader(os.Stdin)
	fmt.Println("Type to chat. /help for commands, /quit to leave.")

	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Print("> ")
		line, err := in.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Println()
				return
			}
			fmt.Fprintln(os.Stderr, "read error:", err)
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if !handleLocalCommand(ep, line, maxFileBytes) {
				return
			}
			continue
		}
		if err := ep.SendText(line); err != nil {
			fmt.Fprintln(os.Stderr, "send failed:", err)
		}
	}
}

// handleLocalCommand executes one "/name" line locally and returns false
// when the REPL loop should stop (a local /quit).
func handleLocalCommand(ep *session.Endpoint, line string, maxFileBytes int64) bool {
	cmd, err := command.Parse(line)
	if err != nil {
		var unknown *chaterr.UnknownCommand
		if errors.As(err, &unknown) {
			fmt.Printf("unrecognized command: %s\n", unknown.Name)
			return true
		}
		fmt.Fprintln(os.Stderr, err)
		return true
	}

	switch cmd.Variant {
	case message.CmdQuit:
		return false

	case message.CmdHelp:
		printHelp()

	case message.CmdInfo:
		peer := ep.Peer()
		fmt.Printf("peer: %s  connected: %s  encrypted: %v\n",
			peer.RemoteAddress, peer.ConnectTime.Format("15:04:05"), peer.PublicKeyFingerprint != nil)

	case message.CmdListPeers:
		peer := ep.Peer()
		fmt.Printf("peers: %s\n", peer.RemoteAddress)

	case message.CmdSendFile:
		f, err := filestage.Prepare(cmd.Path, maxFileBytes)
		if err != nil {
			fmt.Fprintln(os.Stderr, "could not stage file:", err)
			return true
		}
		if err := ep.SendFile(f); err != nil {
			fmt.Fprintln(os.Stderr, "send failed:", err)
			return true
		}
		fmt.Printf("sending %s (%d bytes)\n", f.Name, f.Size)

	case message.CmdSetNickname, message.CmdToggleAutoOpen:
		ep.SendCommand(cmd)

	default:
		fmt.Println("unrecognized command")
	}
	return true
}

func printHelp() {
	fmt.Println(`Commands:
  /help | /?              show this help
  /quit | /exit           leave the session
  /send <path> | /file <path>   share a file
  /info                   show peer connection info
  /nick <name> | /nickname <name>  change your nickname
  /autoopen | /auto       toggle auto-opening received media
  /peers | /list          list the connected peer`)
}
