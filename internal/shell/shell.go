package shell

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/tarunkv/recall/internal/completion"
	"github.com/tarunkv/recall/internal/memory"
	"github.com/tarunkv/recall/internal/transcript"
)

// Shell is the per-session command loop body: it dispatches control commands
// against the memory buffer and drives one streaming exchange at a time.
// Every error is surfaced on the output writer; none ends the session.
type Shell struct {
	buffer *memory.Buffer
	client completion.Client
	out    io.Writer
}

func New(buffer *memory.Buffer, client completion.Client, out io.Writer) *Shell {
	return &Shell{buffer: buffer, client: client, out: out}
}

func (s *Shell) Buffer() *memory.Buffer { return s.buffer }

// HandleLine processes one line of input and reports whether the caller
// should exit the loop.
func (s *Shell) HandleLine(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if IsQuit(line) {
		fmt.Fprintf(s.out, "Bot: Bye!\n")
		return true
	}

	cmd, isCmd, err := ParseCommand(line)
	if isCmd {
		if err != nil {
			fmt.Fprintf(s.out, "Bot: %v\n\n", err)
			return false
		}
		s.runCommand(cmd)
		return false
	}

	s.streamExchange(ctx, line)
	return false
}

func (s *Shell) runCommand(cmd Command) {
	switch cmd.Kind {
	case CmdClear:
		s.buffer.Clear()
		fmt.Fprintf(s.out, "Bot: Memory cleared.\n\n")

	case CmdSetWindow:
		if err := s.buffer.SetWindow(cmd.Window); err != nil {
			fmt.Fprintf(s.out, "Bot: %v\n\n", err)
			return
		}
		fmt.Fprintf(s.out, "Bot: Memory window set to %d exchanges.\n\n", cmd.Window)

	case CmdSave:
		saved, err := transcript.SaveText(s.buffer.Turns(), cmd.Filename)
		if err != nil {
			fmt.Fprintf(s.out, "Bot: Could not save transcript: %v\n\n", err)
			return
		}
		fmt.Fprintf(s.out, "Bot: Conversation saved to %q.\n\n", saved)

	case CmdLoad:
		turns, err := transcript.Load(cmd.Filename)
		if err != nil {
			fmt.Fprintf(s.out, "Bot: Could not load transcript: %v\n\n", err)
			return
		}
		s.buffer.Replace(turns)
		fmt.Fprintf(s.out, "Bot: Loaded transcript from %q.\n\n", cmd.Filename)

	case CmdExport:
		var (
			saved string
			err   error
		)
		if cmd.Format == "json" {
			saved, err = transcript.SaveJSON(s.buffer.Turns(), cmd.Filename)
		} else {
			saved, err = transcript.SaveText(s.buffer.Turns(), cmd.Filename)
		}
		if err != nil {
			fmt.Fprintf(s.out, "Bot: Could not export transcript: %v\n\n", err)
			return
		}
		fmt.Fprintf(s.out, "Bot: Exported to %q.\n\n", saved)
	}
}

// streamExchange runs one completion, echoing deltas as they arrive. The user
// and assistant turns are appended together only after the stream finishes;
// a failed stream leaves the buffer untouched.
func (s *Shell) streamExchange(ctx context.Context, userText string) {
	req := completion.Request{
		TurnID:   uuid.NewString(),
		UserText: userText,
		Context:  s.buffer.Context(),
	}

	fmt.Fprintf(s.out, "Bot: ")
	reply, err := s.client.StreamReply(ctx, req, func(delta string) error {
		_, werr := io.WriteString(s.out, delta)
		return werr
	})
	if err != nil {
		fmt.Fprintf(s.out, "\nBot: %v\n\n", err)
		return
	}

	s.buffer.AppendExchange(userText, reply.Text)
	fmt.Fprintf(s.out, "\n\n")
}
