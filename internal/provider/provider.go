// Package provider defines the Provider Adapter seam of spec.md §4.4: an
// opaque async stream abstraction that reports through callbacks, plus
// concrete implementations (Anthropic, OpenAI) and a
// deterministic scripted adapter for exercising the agent state machine
// without a network.
package provider

import (
	"context"

	"github.com/mgreenly/ikigai-sub009/internal/models"
)

// StreamCallback receives one incremental StreamEvent.
type StreamCallback func(models.StreamEvent)

// CompletionCallback receives the single terminal Completion for a stream.
// Exactly one call is guaranteed per StartStream, even after Cancel
// (spec.md §5 Cancellation semantics).
type CompletionCallback func(models.Completion)

// Adapter is the seam the core depends on; concrete providers (Anthropic,
// OpenAI, or a scripted test double) implement it. StartStream returns
// immediately. Anthropic and OpenAI run the request on a goroutine of
// their own and fire callbacks from it; Scripted fires them from Pump.
type Adapter interface {
	// StartStream begins an asynchronous streaming request. Returns
	// immediately; stream and completion callbacks fire from the adapter's
	// own goroutine (Anthropic, OpenAI) or from Pump (Scripted).
	StartStream(ctx context.Context, req models.Request, onStream StreamCallback, onComplete CompletionCallback) error

	// Cancel aborts the in-flight stream as soon as possible. The
	// completion callback still fires, with Success=false.
	Cancel()

	// Pump advances any pending I/O and reports whether a stream is still
	// running. eventloop.Run does not call it; an adapter that delivers
	// from Pump (Scripted) needs its caller to drive it.
	Pump(ctx context.Context) (running bool, err error)

	// NextTimeout reports how long the event loop may safely wait before
	// calling Pump again, for folding into the select timeout computation
	// (spec.md §4.9 step 3).
	NextTimeout() (ms int, ok bool)
}
