// Package transcript reads and writes conversation transcripts as flat
// files, either as a human-readable text form or as a JSON list of turns.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tarunkv/recall/internal/memory"
)

var (
	ErrNotFound  = errors.New("transcript file not found")
	ErrMalformed = errors.New("malformed transcript file")
)

// DefaultFilename produces a timestamped name like chat_2026-08-28_14-03-59.txt
// when the user did not supply one.
func DefaultFilename(ext string) string {
	return fmt.Sprintf("chat_%s.%s", time.Now().Format("2006-01-02_15-04-05"), ext)
}

// NormalizeFilename applies the default name and appends the extension when
// missing, mirroring the original CLI behavior.
func NormalizeFilename(name, ext string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultFilename(ext)
	}
	if !strings.HasSuffix(strings.ToLower(name), "."+ext) {
		name += "." + ext
	}
	return name
}

// FormatText renders turns as blank-line-separated "ROLE: text" blocks.
func FormatText(turns []memory.Turn) string {
	blocks := make([]string, 0, len(turns))
	for _, t := range turns {
		text := strings.ReplaceAll(t.Text, "\r", "")
		blocks = append(blocks, fmt.Sprintf("%s: %s", strings.ToUpper(string(t.Role)), text))
	}
	return strings.Join(blocks, "\n\n")
}

// SaveText writes the text transcript form and returns the resolved filename.
func SaveText(turns []memory.Turn, filename string) (string, error) {
	filename = NormalizeFilename(filename, "txt")
	if err := os.WriteFile(filename, []byte(FormatText(turns)), 0o644); err != nil {
		return "", fmt.Errorf("save transcript: %w", err)
	}
	return filename, nil
}

// LoadText parses a text transcript back into turns, in original order.
// Blocks with unknown roles are skipped; SYSTEM blocks are ignored because
// the system prompt is configuration, not conversation memory.
func LoadText(filename string) ([]memory.Turn, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	var turns []memory.Turn
	parsedBlocks := 0
	for _, block := range strings.Split(string(raw), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		role, text, ok := strings.Cut(block, ":")
		if !ok {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(role)) {
		case "user":
			parsedBlocks++
			turns = append(turns, memory.Turn{Role: memory.RoleUser, Text: text})
		case "assistant":
			parsedBlocks++
			turns = append(turns, memory.Turn{Role: memory.RoleAssistant, Text: text})
		case "system":
			// dropped on load
			parsedBlocks++
		}
	}
	// A blank file is a saved empty conversation; content that parses to
	// nothing is not a transcript.
	if parsedBlocks == 0 && strings.TrimSpace(string(raw)) != "" {
		return nil, fmt.Errorf("%w: no turns in %s", ErrMalformed, filename)
	}
	return turns, nil
}

// MarshalJSON renders turns as an indented JSON list of {role, text} records.
func MarshalJSON(turns []memory.Turn) ([]byte, error) {
	if turns == nil {
		turns = []memory.Turn{}
	}
	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	return data, nil
}

// SaveJSON writes the JSON transcript form and returns the resolved filename.
func SaveJSON(turns []memory.Turn, filename string) (string, error) {
	filename = NormalizeFilename(filename, "json")
	data, err := MarshalJSON(turns)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return "", fmt.Errorf("export transcript: %w", err)
	}
	return filename, nil
}

// LoadJSON reads a JSON transcript back into turns, in original order.
func LoadJSON(filename string) ([]memory.Turn, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	var turns []memory.Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, t := range turns {
		if t.Role != memory.RoleUser && t.Role != memory.RoleAssistant {
			return nil, fmt.Errorf("%w: unknown role %q", ErrMalformed, t.Role)
		}
	}
	return turns, nil
}

// Load picks the parser from the file extension; .json loads the structured
// form, everything else the text form.
func Load(filename string) ([]memory.Turn, error) {
	if strings.HasSuffix(strings.ToLower(filename), ".json") {
		return LoadJSON(filename)
	}
	return LoadText(filename)
}
