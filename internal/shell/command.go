// Package shell interprets one line of user input either as a control
// command or as chat text, and drives the streaming exchange for the latter.
package shell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidArgument marks malformed control-command input. The shell surfaces
// it as a usage message without changing any state.
var ErrInvalidArgument = errors.New("invalid argument")

type CommandKind string

const (
	CmdClear     CommandKind = "clear"
	CmdSetWindow CommandKind = "memory"
	CmdSave      CommandKind = "save"
	CmdLoad      CommandKind = "load"
	CmdExport    CommandKind = "export"
)

// Command is one parsed control command.
type Command struct {
	Kind     CommandKind
	Window   int
	Filename string
	Format   string
}

// ParseCommand recognizes lines starting with ':' as control commands.
// The second return is false for plain chat text. A recognized-but-malformed
// command returns an ErrInvalidArgument-wrapped usage error.
func ParseCommand(line string) (Command, bool, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, ":") {
		return Command{}, false, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case ":clear":
		if len(fields) != 1 {
			return Command{}, true, fmt.Errorf("%w: usage: :clear", ErrInvalidArgument)
		}
		return Command{Kind: CmdClear}, true, nil

	case ":memory":
		if len(fields) != 2 {
			return Command{}, true, fmt.Errorf("%w: usage: :memory <N>", ErrInvalidArgument)
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 0 {
			return Command{}, true, fmt.Errorf("%w: usage: :memory <N> (non-negative number)", ErrInvalidArgument)
		}
		return Command{Kind: CmdSetWindow, Window: n}, true, nil

	case ":save":
		if len(fields) > 2 {
			return Command{}, true, fmt.Errorf("%w: usage: :save [filename]", ErrInvalidArgument)
		}
		cmd := Command{Kind: CmdSave}
		if len(fields) == 2 {
			cmd.Filename = fields[1]
		}
		return cmd, true, nil

	case ":load":
		if len(fields) != 2 {
			return Command{}, true, fmt.Errorf("%w: usage: :load <filename>", ErrInvalidArgument)
		}
		return Command{Kind: CmdLoad, Filename: fields[1]}, true, nil

	case ":export":
		if len(fields) < 2 || len(fields) > 3 {
			return Command{}, true, fmt.Errorf("%w: usage: :export json|txt [filename]", ErrInvalidArgument)
		}
		format := strings.ToLower(fields[1])
		if format != "json" && format != "txt" {
			return Command{}, true, fmt.Errorf("%w: usage: :export json|txt [filename]", ErrInvalidArgument)
		}
		cmd := Command{Kind: CmdExport, Format: format}
		if len(fields) == 3 {
			cmd.Filename = fields[2]
		}
		return cmd, true, nil

	default:
		return Command{}, true, fmt.Errorf("%w: unknown command %s (try :clear, :memory, :save, :load, :export)", ErrInvalidArgument, fields[0])
	}
}

// IsQuit reports whether the line asks to leave the chat loop.
func IsQuit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "quit", "exit":
		return true
	default:
		return false
	}
}
