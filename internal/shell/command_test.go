package shell

import (
	"errors"
	"testing"
)

func TestParseCommandRecognized(t *testing.T) {
	for _, tc := range []struct {
		line string
		want Command
	}{
		{":clear", Command{Kind: CmdClear}},
		{":memory 5", Command{Kind: CmdSetWindow, Window: 5}},
		{":memory 0", Command{Kind: CmdSetWindow, Window: 0}},
		{":save", Command{Kind: CmdSave}},
		{":save notes.txt", Command{Kind: CmdSave, Filename: "notes.txt"}},
		{":load notes.txt", Command{Kind: CmdLoad, Filename: "notes.txt"}},
		{":export json", Command{Kind: CmdExport, Format: "json"}},
		{":export txt out", Command{Kind: CmdExport, Format: "txt", Filename: "out"}},
		{"  :clear  ", Command{Kind: CmdClear}},
	} {
		got, isCmd, err := ParseCommand(tc.line)
		if err != nil {
			t.Fatalf("ParseCommand(%q) error = %v", tc.line, err)
		}
		if !isCmd {
			t.Fatalf("ParseCommand(%q) isCmd = false, want true", tc.line)
		}
		if got != tc.want {
			t.Fatalf("ParseCommand(%q) = %+v, want %+v", tc.line, got, tc.want)
		}
	}
}

func TestParseCommandMalformed(t *testing.T) {
	for _, line := range []string{
		":memory",
		":memory five",
		":memory -1",
		":memory 3 4",
		":load",
		":export",
		":export xml",
		":export json a b",
		":save a b",
		":frobnicate",
	} {
		_, isCmd, err := ParseCommand(line)
		if !isCmd {
			t.Fatalf("ParseCommand(%q) isCmd = false, want command-shaped input recognized", line)
		}
		if !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("ParseCommand(%q) error = %v, want ErrInvalidArgument", line, err)
		}
	}
}

func TestParseCommandChatText(t *testing.T) {
	for _, line := range []string{
		"hello there",
		"what is 2+2?",
		"tell me about : colons",
	} {
		_, isCmd, err := ParseCommand(line)
		if isCmd || err != nil {
			t.Fatalf("ParseCommand(%q) = (isCmd=%v, err=%v), want plain chat text", line, isCmd, err)
		}
	}
}

func TestIsQuit(t *testing.T) {
	for _, line := range []string{"quit", "exit", "QUIT", " Exit "} {
		if !IsQuit(line) {
			t.Fatalf("IsQuit(%q) = false, want true", line)
		}
	}
	if IsQuit("quite interesting") {
		t.Fatalf("IsQuit(\"quite interesting\") = true, want false")
	}
}
