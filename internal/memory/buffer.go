package memory

import (
	"errors"
	"sync"
)

// Role attributes a turn to one side of the conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a conversation. Immutable once appended.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

var ErrNegativeWindow = errors.New("memory window must be >= 0")

// DefaultWindow matches the original user-facing default of 10 exchanges.
const DefaultWindow = 10

// Buffer holds the ordered conversation history for one session and exposes
// a bounded view of it for completion requests. The window counts exchanges
// (user+assistant pairs), so Context returns at most 2*window turns.
type Buffer struct {
	mu     sync.Mutex
	turns  []Turn
	window int
}

func NewBuffer(window int) *Buffer {
	if window < 0 {
		window = DefaultWindow
	}
	return &Buffer{window: window}
}

// Append adds a turn at the end. Stored turns are never dropped here; the
// window is applied when Context is called.
func (b *Buffer) Append(t Turn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = append(b.turns, t)
}

// AppendExchange records one completed user/assistant pair in order.
func (b *Buffer) AppendExchange(userText, assistantText string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = append(b.turns,
		Turn{Role: RoleUser, Text: userText},
		Turn{Role: RoleAssistant, Text: assistantText},
	)
}

// Context returns the most recent turns covered by the window, oldest first.
// The whole history is returned when it is shorter than the window.
func (b *Buffer) Context() []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	limit := 2 * b.window
	start := 0
	if len(b.turns) > limit {
		start = len(b.turns) - limit
	}
	out := make([]Turn, len(b.turns)-start)
	copy(out, b.turns[start:])
	return out
}

// SetWindow changes how many exchanges Context exposes. Takes effect on the
// next Context call and never deletes stored turns.
func (b *Buffer) SetWindow(n int) error {
	if n < 0 {
		return ErrNegativeWindow
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window = n
	return nil
}

func (b *Buffer) Window() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.window
}

// Clear empties the history. The window setting is kept.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = nil
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}

// Turns returns a copy of the full stored history, ignoring the window.
func (b *Buffer) Turns() []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Replace swaps the stored history for a loaded transcript.
func (b *Buffer) Replace(turns []Turn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = make([]Turn, len(turns))
	copy(b.turns, turns)
}
