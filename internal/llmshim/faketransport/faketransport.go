// Package faketransport is a deterministic Completer used by llmshim tests
// and by the offline `benchmark` CLI's dry-run mode; it stands in for the
// out-of-scope network transport primitive.
package faketransport

import (
	"context"
	"errors"
	"strings"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/llmshim"
)

// Transport replays scripted chunks/responses, optionally returning a fixed
// error, so tests can exercise llmshim's aggregation and retry logic without
// a network.
type Transport struct {
	// StreamChunks is yielded verbatim by Stream, in order.
	StreamChunks []llmshim.Chunk
	// StreamErr, if set, is returned by Stream instead of a channel.
	StreamErr error

	// CallResponse is returned by Call on success.
	CallResponse *llmshim.Response
	// CallErr, if set, is returned by Call. CallErrSequence overrides CallErr
	// to return a different error on each successive Call, looping on the
	// last entry once the sequence is exhausted.
	CallErr         error
	CallErrSequence []error

	calls int
}

// Stream returns a closed channel pre-loaded with StreamChunks, or StreamErr.
func (t *Transport) Stream(ctx context.Context, req llmshim.Request) (<-chan llmshim.Chunk, error) {
	if t.StreamErr != nil {
		return nil, t.StreamErr
	}
	ch := make(chan llmshim.Chunk, len(t.StreamChunks))
	for _, c := range t.StreamChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// Call returns CallResponse, consulting CallErrSequence/CallErr for
// scripted per-attempt failures (used to exercise the retry/backoff path).
func (t *Transport) Call(ctx context.Context, req llmshim.Request) (*llmshim.Response, error) {
	idx := t.calls
	t.calls++

	if len(t.CallErrSequence) > 0 {
		i := idx
		if i >= len(t.CallErrSequence) {
			i = len(t.CallErrSequence) - 1
		}
		if err := t.CallErrSequence[i]; err != nil {
			return nil, err
		}
		return t.CallResponse, nil
	}

	if t.CallErr != nil {
		return nil, t.CallErr
	}
	return t.CallResponse, nil
}

// WithAPIKeyLeak wraps err so its message contains a fake leaked API key,
// for exercising internal/secret.Sanitize from a caller's test.
func WithAPIKeyLeak(err error) error {
	return errors.New(strings.TrimSpace(err.Error()) + ": sk-test1234567890ABCDEFGHIJKL")
}
