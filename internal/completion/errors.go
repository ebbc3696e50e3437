package completion

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies completion failures for callers that must decide how to
// surface them. No kind triggers an automatic retry.
type Kind string

const (
	KindNetwork       Kind = "network"
	KindAuth          Kind = "auth"
	KindEmptyResponse Kind = "empty_response"
	KindTimeout       Kind = "timeout"
)

var (
	errMissingOpenAIKey    = errors.New("OPENAI_API_KEY is not set")
	errMissingAnthropicKey = errors.New("ANTHROPIC_API_KEY is not set")
)

// Error is a completion failure tagged with its kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("completion %s error", e.Kind)
	}
	return fmt.Sprintf("completion %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind, mapping context expiry to timeout and
// anything else to network.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindNetwork
}

func wrapStatus(statusCode int, err error) *Error {
	kind := KindNetwork
	if statusCode == 401 || statusCode == 403 {
		kind = KindAuth
	}
	return &Error{Kind: kind, Err: err}
}

func wrapTransport(ctx context.Context, err error) *Error {
	if ctx.Err() != nil {
		return &Error{Kind: KindTimeout, Err: ctx.Err()}
	}
	return &Error{Kind: KindNetwork, Err: err}
}
