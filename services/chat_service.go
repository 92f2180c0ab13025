package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Ishu-sri-001/neuro-nest/metrics"
	"github.com/Ishu-sri-001/neuro-nest/models"
	"github.com/Ishu-sri-001/neuro-nest/repository"
)

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("session not found")

// ChatService creates and tracks the in-memory chat sessions.
type ChatService interface {
	StartSession(ctx context.Context, identity models.Identity) (*SessionController, error)
	GetSession(id string) (*SessionController, error)
	// SessionFor returns the session only if caller may use it. deviceID is
	// the guest device the request came from, if any.
	SessionFor(ctx context.Context, id string, caller models.Identity, deviceID string) (*SessionController, error)
	EndSession(id string) error
	// ReadAllowance returns the stored allowance and quota decision for identity.
	ReadAllowance(ctx context.Context, identity models.Identity) (models.Allowance, models.Decision, error)
	// FlushIdentity waits for pending allowance writes of identity's sessions.
	FlushIdentity(identity models.Identity)
	// RefreshIdentity re-reads the stored allowance into every session of
	// identity and returns how many were refreshed.
	RefreshIdentity(ctx context.Context, identity models.Identity) (int, error)
	// Prune drops idle sessions created before now minus maxAge.
	Prune(maxAge time.Duration) int
	// Shutdown cancels every stream and waits for pending allowance writes.
	Shutdown()
}

type chatService struct {
	store        repository.AllowanceStore
	completion   CompletionService
	policy       QuotaPolicy
	systemPrompt string

	mu       sync.RWMutex
	sessions map[string]*SessionController
}

// NewChatService wires sessions to the allowance store and completion provider.
func NewChatService(store repository.AllowanceStore, completion CompletionService, policy QuotaPolicy, systemPrompt string) ChatService {
	return &chatService{
		store:        store,
		completion:   completion,
		policy:       policy,
		systemPrompt: systemPrompt,
		sessions:     make(map[string]*SessionController),
	}
}

func (s *chatService) StartSession(ctx context.Context, identity models.Identity) (*SessionController, error) {
	allowance, err := s.store.Read(ctx, identity)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read allowance")
	}

	session := NewSessionController(SessionConfig{
		ID:           uuid.NewString(),
		Identity:     identity,
		Allowance:    allowance,
		Policy:       s.policy,
		Store:        s.store,
		Completion:   s.completion,
		SystemPrompt: s.systemPrompt,
	})

	// Register it so later requests can find it by ID
	s.mu.Lock()
	s.sessions[session.ID()] = session
	count := len(s.sessions)
	s.mu.Unlock()
	metrics.SetActiveSessions(count)

	log.Info().Str("component", "ChatService").Str("session_id", session.ID()).Str("identity", string(identity.Kind)).Int("remaining", allowance.Remaining()).Msg("session started")
	return session, nil
}

func (s *chatService) GetSession(id string) (*SessionController, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// SessionFor enforces session ownership. A session belongs to the identity it
// meters; the one exception is a guest signing in on the same device, which
// moves the session onto the account.
func (s *chatService) SessionFor(ctx context.Context, id string, caller models.Identity, deviceID string) (*SessionController, error) {
	session, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}

	current := session.Identity()
	switch {
	case caller == current:
		return session, nil
	case caller.IsAuthenticated() && current.IsGuest() && deviceID != "" && current.ID == deviceID:
		// Same device, now signed in: meter against the account from here on
		if err := session.SetIdentity(ctx, caller); err != nil {
			return nil, err
		}
		log.Info().Str("component", "ChatService").Str("session_id", id).Str("account_id", caller.ID).Msg("guest session moved to account")
		return session, nil
	default:
		// Unknown to this caller; do not reveal that the session exists
		log.Warn().Str("component", "ChatService").Str("session_id", id).Str("identity", string(caller.Kind)).Msg("session access denied")
		return nil, ErrSessionNotFound
	}
}

func (s *chatService) sessionsOf(identity models.Identity) []*SessionController {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*SessionController
	for _, session := range s.sessions {
		if session.Identity() == identity {
			matched = append(matched, session)
		}
	}
	return matched
}

func (s *chatService) FlushIdentity(identity models.Identity) {
	for _, session := range s.sessionsOf(identity) {
		session.Flush()
	}
}

func (s *chatService) RefreshIdentity(ctx context.Context, identity models.Identity) (int, error) {
	refreshed := 0
	var firstErr error
	for _, session := range s.sessionsOf(identity) {
		// Let this session's own pending write land before re-reading
		session.Flush()
		if err := session.SetIdentity(ctx, identity); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		refreshed++
	}
	if refreshed > 0 {
		log.Info().Str("component", "ChatService").Str("identity", string(identity.Kind)).Int("sessions", refreshed).Msg("allowance refreshed")
	}
	return refreshed, firstErr
}

func (s *chatService) EndSession(id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	metrics.SetActiveSessions(count)
	session.Cancel()
	return nil
}

func (s *chatService) ReadAllowance(ctx context.Context, identity models.Identity) (models.Allowance, models.Decision, error) {
	allowance, err := s.store.Read(ctx, identity)
	if err != nil {
		return models.Allowance{}, models.DecisionBlock, err
	}
	return allowance, s.policy.Decide(identity, allowance), nil
}

func (s *chatService) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	pruned := 0
	for id, session := range s.sessions {
		if session.CreatedAt().Before(cutoff) && session.Status() != models.StatusStreaming {
			delete(s.sessions, id)
			pruned++
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()
	metrics.SetActiveSessions(count)
	if pruned > 0 {
		log.Info().Str("component", "ChatService").Int("pruned", pruned).Int("active", count).Msg("pruned idle sessions")
	}
	return pruned
}

func (s *chatService) Shutdown() {
	s.mu.RLock()
	sessions := make([]*SessionController, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.RUnlock()

	for _, session := range sessions {
		session.Cancel()
		session.Flush()
	}
}
