// Package command parses a local "/name" input line into a typed
// message.Command. Grounded on cli.go's handleCommand switch, generalized
// from "print/act immediately" to a pure parser returning a variant the
// caller decides what to do with (enqueue, or render locally on failure).
package command

import (
	"strings"

	"github.com/p2pchat/p2pchat/internal/chaterr"
	"github.com/p2pchat/p2pchat/internal/message"
)

// Parse parses line, which must begin with "/". Names are case-sensitive
// lowercase. An unrecognized name returns chaterr.UnknownCommand.
func Parse(line string) (message.Command, error) {
	if !strings.HasPrefix(line, "/") {
		return message.Command{}, &chaterr.UnknownCommand{Name: line}
	}
	fields := strings.Fields(line)
	name := strings.TrimPrefix(fields[0], "/")
	arg := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch name {
	case "help", "?":
		return message.Command{Variant: message.CmdHelp}, nil
	case "quit", "exit":
		return message.Command{Variant: message.CmdQuit}, nil
	case "send", "file":
		if arg == "" {
			return message.Command{}, &chaterr.UnknownCommand{Name: line}
		}
		return message.Command{Variant: message.CmdSendFile, Path: arg}, nil
	case "info":
		return message.Command{Variant: message.CmdInfo}, nil
	case "nick", "nickname":
		if arg == "" {
			return message.Command{}, &chaterr.UnknownCommand{Name: line}
		}
		return message.Command{Variant: message.CmdSetNickname, Nickname: arg}, nil
	case "autoopen", "auto":
		return message.Command{Variant: message.CmdToggleAutoOpen}, nil
	case "peers", "list":
		return message.Command{Variant: message.CmdListPeers}, nil
	default:
		return message.Command{}, &chaterr.UnknownCommand{Name: name}
	}
}
