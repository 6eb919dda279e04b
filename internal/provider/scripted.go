package provider

import (
	"context"
	"sync"

	"github.com/mgreenly/ikigai-sub009/internal/models"
)

// Scripted is a deterministic Adapter driven by a pre-recorded sequence of
// StreamEvents and a final Completion, for testing the agent state machine
// without a network (spec.md §9 design note: "define a single
// trait/interface ... and implement a deterministic scripted version for
// testing the state machine").
type Scripted struct {
	mu        sync.Mutex
	script    []models.StreamEvent
	completion models.Completion
	onStream  StreamCallback
	onComplete CompletionCallback
	cancelled bool
	delivered bool
	started   bool
}

// NewScripted returns an Adapter that, after StartStream, replays events in
// order on the first Pump call and then delivers completion.
func NewScripted(events []models.StreamEvent, completion models.Completion) *Scripted {
	return &Scripted{script: events, completion: completion}
}

func (s *Scripted) StartStream(ctx context.Context, req models.Request, onStream StreamCallback, onComplete CompletionCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStream = onStream
	s.onComplete = onComplete
	s.started = true
	s.delivered = false
	s.cancelled = false
	return nil
}

func (s *Scripted) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// Pump delivers the whole script (and then the completion) on its first
// call, which is sufficient determinism for unit tests; the Anthropic and
// OpenAI adapters instead deliver incrementally from their own goroutines.
func (s *Scripted) Pump(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.delivered {
		return false, nil
	}
	if s.cancelled {
		s.delivered = true
		if s.onComplete != nil {
			s.onComplete(models.Completion{Success: false, ErrorMessage: "cancelled"})
		}
		return false, nil
	}
	for _, ev := range s.script {
		if s.onStream != nil {
			s.onStream(ev)
		}
	}
	s.delivered = true
	if s.onComplete != nil {
		s.onComplete(s.completion)
	}
	return false, nil
}

func (s *Scripted) NextTimeout() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started && !s.delivered {
		return 0, true
	}
	return 0, false
}

var _ Adapter = (*Scripted)(nil)
