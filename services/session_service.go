package services

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Ishu-sri-001/neuro-nest/metrics"
	"github.com/Ishu-sri-001/neuro-nest/models"
	"github.com/Ishu-sri-001/neuro-nest/repository"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrQuotaExceeded  = errors.New("message allowance exhausted")
	ErrSessionBusy    = errors.New("a reply is already streaming")
	ErrNothingToRetry = errors.New("no failed request to retry")
)

const streamBuffer = 32

// SessionConfig carries everything a session needs; nothing is read from ambient state.
type SessionConfig struct {
	ID           string
	Identity     models.Identity
	Allowance    models.Allowance
	Policy       QuotaPolicy
	Store        repository.AllowanceStore
	Completion   CompletionService
	SystemPrompt string
}

// SessionController owns one in-memory conversation and meters it against
// the caller's allowance.
//
// A reply streams in a background goroutine; consumers of the event channel
// returned by Submit and Retry must read it until it closes or call Cancel.
type SessionController struct {
	id         string
	policy     QuotaPolicy
	store      repository.AllowanceStore
	completion CompletionService
	preamble   string
	logger     zerolog.Logger
	createdAt  time.Time

	mu        sync.Mutex
	identity  models.Identity
	allowance models.Allowance
	messages  []models.Message
	status    models.SessionStatus
	lastErr   string
	attempt   uint64
	cancel    context.CancelFunc
	request   []models.Message
	replyIdx  int

	writes sync.WaitGroup
}

// NewSessionController creates an idle session.
func NewSessionController(cfg SessionConfig) *SessionController {
	return &SessionController{
		id:         cfg.ID,
		policy:     cfg.Policy,
		store:      cfg.Store,
		completion: cfg.Completion,
		preamble:   cfg.SystemPrompt,
		logger:     log.With().Str("component", "SessionController").Str("session_id", cfg.ID).Logger(),
		createdAt:  time.Now(),
		identity:   cfg.Identity,
		allowance:  cfg.Allowance,
		status:     models.StatusIdle,
		replyIdx:   -1,
	}
}

func (s *SessionController) ID() string { return s.id }

func (s *SessionController) CreatedAt() time.Time { return s.createdAt }

// Identity returns the identity the session currently meters against.
func (s *SessionController) Identity() models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *SessionController) Status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *SessionController) Allowance() models.Allowance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowance
}

// Decision evaluates the quota policy against the current allowance.
func (s *SessionController) Decision() models.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy.Decide(s.identity, s.allowance)
}

// Snapshot returns a copy of the observable session state.
func (s *SessionController) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := make([]models.Message, len(s.messages))
	copy(messages, s.messages)
	return models.SessionSnapshot{
		ID:        s.id,
		Identity:  s.identity,
		Status:    s.status,
		Error:     s.lastErr,
		Messages:  messages,
		Allowance: s.allowance,
		Remaining: s.allowance.Remaining(),
		Decision:  s.policy.Decide(s.identity, s.allowance),
	}
}

// Submit accepts a user message, consumes one unit of allowance and starts
// streaming the reply. Rejected submissions leave the session untouched.
func (s *SessionController) Submit(ctx context.Context, text string) (<-chan models.StreamEvent, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	// One reply at a time
	if s.status == models.StatusStreaming {
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}
	identity := s.identity
	decision := s.policy.Decide(identity, s.allowance)
	metrics.RecordSubmission(string(identity.Kind), string(decision))
	if decision == models.DecisionBlock {
		s.mu.Unlock()
		s.logger.Info().Str("identity", string(identity.Kind)).Msg("submission blocked by quota")
		return nil, ErrQuotaExceeded
	}

	// Apply the consumption before anything is sent; the store catches up below.
	next := s.allowance.Consume()
	s.allowance = next
	s.messages = append(s.messages, models.Message{Role: models.RoleUser, Content: text, Timestamp: time.Now()})
	s.request = s.buildRequestLocked()
	s.status = models.StatusStreaming
	s.lastErr = ""
	s.replyIdx = -1
	s.attempt++
	attempt := s.attempt
	s.mu.Unlock()

	s.persist(ctx, identity, next)

	// A guest write blocks, so Cancel may have run in the meantime.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != attempt {
		// Cancelled while the allowance was being written.
		return closedStream(models.StreamEvent{Type: models.EventCancelled}), nil
	}
	return s.launchLocked(attempt), nil
}

// Cancel aborts the in-flight stream. The partial reply stays in the transcript.
// It reports whether a stream was cancelled.
func (s *SessionController) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != models.StatusStreaming {
		return false
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.attempt++
	s.status = models.StatusIdle
	metrics.RecordStream(string(models.EventCancelled))
	s.logger.Info().Msg("stream cancelled")
	return true
}

// Retry re-issues the request that failed, without consuming allowance or
// appending another user message. The failed attempt's partial reply is dropped.
func (s *SessionController) Retry(ctx context.Context) (<-chan models.StreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != models.StatusError || len(s.request) == 0 {
		return nil, ErrNothingToRetry
	}
	// Drop whatever the failed attempt managed to stream
	if s.replyIdx >= 0 && s.replyIdx < len(s.messages) {
		s.messages = append(s.messages[:s.replyIdx], s.messages[s.replyIdx+1:]...)
	}
	s.replyIdx = -1
	s.status = models.StatusStreaming
	s.lastErr = ""
	s.attempt++
	s.logger.Info().Uint64("attempt", s.attempt).Msg("retrying failed request")
	return s.launchLocked(s.attempt), nil
}

// SetIdentity switches the session to a new identity and re-reads its allowance.
func (s *SessionController) SetIdentity(ctx context.Context, identity models.Identity) error {
	allowance, err := s.store.Read(ctx, identity)
	if err != nil {
		s.logger.Error().Err(err).Str("identity", string(identity.Kind)).Msg("failed to read allowance for new identity")
		return errors.Wrap(err, "failed to read allowance")
	}
	s.mu.Lock()
	s.identity = identity
	s.allowance = allowance
	s.mu.Unlock()
	s.logger.Info().Str("identity", string(identity.Kind)).Int("remaining", allowance.Remaining()).Msg("identity changed")
	return nil
}

// Flush waits for background allowance writes to finish.
func (s *SessionController) Flush() {
	s.writes.Wait()
}

func (s *SessionController) buildRequestLocked() []models.Message {
	request := make([]models.Message, 0, len(s.messages)+1)
	if s.preamble != "" {
		request = append(request, models.Message{Role: models.RoleSystem, Content: s.preamble})
	}
	return append(request, s.messages...)
}

func (s *SessionController) launchLocked(attempt uint64) <-chan models.StreamEvent {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	request := make([]models.Message, len(s.request))
	copy(request, s.request)

	out := make(chan models.StreamEvent, streamBuffer)
	go s.run(ctx, attempt, request, out)
	return out
}

func (s *SessionController) run(ctx context.Context, attempt uint64, request []models.Message, out chan<- models.StreamEvent) {
	defer close(out)

	stream, err := s.completion.Stream(ctx, request)
	if err != nil {
		s.finish(ctx, attempt, err, out)
		return
	}
	defer stream.Close()

	for {
		delta, err := stream.Recv()
		if err != nil {
			// io.EOF, cancellation or a transport failure
			s.finish(ctx, attempt, err, out)
			return
		}
		// A stale attempt stops writing into the transcript
		if !s.appendDelta(attempt, delta) {
			emit(ctx, out, models.StreamEvent{Type: models.EventCancelled})
			return
		}
		select {
		case out <- models.StreamEvent{Type: models.EventDelta, Content: delta}:
		case <-ctx.Done():
			emit(ctx, out, models.StreamEvent{Type: models.EventCancelled})
			return
		}
	}
}

func (s *SessionController) appendDelta(attempt uint64, delta string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt != s.attempt {
		return false
	}
	if s.replyIdx < 0 {
		// First delta opens the assistant message
		s.messages = append(s.messages, models.Message{Role: models.RoleAssistant, Timestamp: time.Now()})
		s.replyIdx = len(s.messages) - 1
	}
	s.messages[s.replyIdx].Content += delta
	return true
}

func (s *SessionController) finish(ctx context.Context, attempt uint64, err error, out chan<- models.StreamEvent) {
	s.mu.Lock()
	if attempt != s.attempt {
		s.mu.Unlock()
		emit(ctx, out, models.StreamEvent{Type: models.EventCancelled})
		return
	}
	s.cancel = nil

	// Map the stream outcome onto the session state
	var event models.StreamEvent
	switch {
	case errors.Is(err, io.EOF):
		s.status = models.StatusIdle
		event = models.StreamEvent{Type: models.EventDone}
	case errors.Is(err, context.Canceled):
		s.status = models.StatusIdle
		event = models.StreamEvent{Type: models.EventCancelled}
	default:
		s.status = models.StatusError
		s.lastErr = err.Error()
		event = models.StreamEvent{Type: models.EventError, Error: err.Error()}
	}
	s.mu.Unlock()

	if event.Type == models.EventError {
		s.logger.Warn().Err(err).Msg("completion stream failed")
	}
	metrics.RecordStream(string(event.Type))
	emit(ctx, out, event)
}

// persist writes the optimistically applied allowance. Guest counters are
// written before the stream starts; account credits are confirmed in the
// background.
func (s *SessionController) persist(ctx context.Context, identity models.Identity, value models.Allowance) {
	ctx = context.WithoutCancel(ctx)
	if identity.IsGuest() {
		s.confirm(ctx, identity, value)
		return
	}
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		s.confirm(ctx, identity, value)
	}()
}

func (s *SessionController) confirm(ctx context.Context, identity models.Identity, value models.Allowance) {
	kind := string(identity.Kind)
	err := s.store.Write(ctx, identity, value)
	if err == nil {
		metrics.RecordAllowanceWrite(kind, "ok")
		return
	}
	metrics.RecordAllowanceWrite(kind, "failed")
	s.logger.Error().Err(err).Str("identity", kind).Msg("failed to persist allowance, reconciling")
	s.reconcile(ctx, identity, value)
}

// reconcile re-applies the pending consumption to the stored allowance.
// If that also fails, the optimistic value is kept and the drift is recorded.
func (s *SessionController) reconcile(ctx context.Context, identity models.Identity, optimistic models.Allowance) {
	kind := string(identity.Kind)
	stored, err := s.store.Read(ctx, identity)
	if err != nil {
		metrics.RecordAllowanceWrite(kind, "drift")
		s.logger.Warn().Err(err).Str("identity", kind).Int("optimistic_remaining", optimistic.Remaining()).Msg("allowance drift: stored value unreadable")
		return
	}
	// Re-apply this message's consumption on top of whatever the store holds
	target := stored.Consume()
	if err := s.store.Write(ctx, identity, target); err != nil {
		metrics.RecordAllowanceWrite(kind, "drift")
		s.logger.Warn().Err(err).Str("identity", kind).Int("optimistic_remaining", optimistic.Remaining()).Msg("allowance drift: reconciliation write failed")
		return
	}

	// Only adopt it if nothing replaced the optimistic value meanwhile
	s.mu.Lock()
	if s.identity == identity && s.allowance == optimistic {
		s.allowance = target
	}
	s.mu.Unlock()
	metrics.RecordAllowanceWrite(kind, "reconciled")
	s.logger.Info().Str("identity", kind).Int("remaining", target.Remaining()).Msg("allowance reconciled")
}

// emit delivers a terminal event without blocking on a stream whose consumer went away.
func emit(ctx context.Context, out chan<- models.StreamEvent, event models.StreamEvent) {
	select {
	case out <- event:
	case <-ctx.Done():
		select {
		case out <- event:
		default:
		}
	}
}

func closedStream(event models.StreamEvent) <-chan models.StreamEvent {
	out := make(chan models.StreamEvent, 1)
	out <- event
	close(out)
	return out
}
