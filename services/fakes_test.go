package services

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Ishu-sri-001/neuro-nest/models"
	"github.com/Ishu-sri-001/neuro-nest/repository"
)

// memDevices is an in-memory DeviceStorage.
type memDevices struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemDevices() *memDevices {
	return &memDevices{data: map[string]string{}}
}

func (m *memDevices) Get(_ context.Context, deviceID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[deviceID+"/"+key]
	return v, ok, nil
}

func (m *memDevices) Set(_ context.Context, deviceID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[deviceID+"/"+key] = value
	return nil
}

func (m *memDevices) value(deviceID string) string {
	v, _, _ := m.Get(context.Background(), deviceID, repository.GuestCounterKey)
	return v
}

// MockAccountRepository is a mock type for the AccountRepository interface
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) Get(ctx context.Context, accountID string) (*models.Account, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountRepository) Update(ctx context.Context, accountID string, fields map[string]interface{}) error {
	args := m.Called(ctx, accountID, fields)
	return args.Error(0)
}

// MockAllowanceStore is a mock type for the AllowanceStore interface
type MockAllowanceStore struct {
	mock.Mock
}

func (m *MockAllowanceStore) Read(ctx context.Context, identity models.Identity) (models.Allowance, error) {
	args := m.Called(ctx, identity)
	return args.Get(0).(models.Allowance), args.Error(1)
}

func (m *MockAllowanceStore) Write(ctx context.Context, identity models.Identity, allowance models.Allowance) error {
	args := m.Called(ctx, identity, allowance)
	return args.Error(0)
}

// fakeStream replays deltas, then either blocks until cancelled or ends with err (io.EOF when nil).
type fakeStream struct {
	ctx    context.Context
	deltas []string
	err    error
	block  bool
	next   int
	closed bool
}

func (s *fakeStream) Recv() (string, error) {
	if s.next < len(s.deltas) {
		d := s.deltas[s.next]
		s.next++
		return d, nil
	}
	if s.block {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type streamScript struct {
	deltas []string
	err    error
	block  bool
	// openErr fails Stream itself.
	openErr error
}

// scriptedCompletion hands out one scripted stream per call and records requests.
type scriptedCompletion struct {
	mu       sync.Mutex
	scripts  []streamScript
	requests [][]models.Message
}

func newScriptedCompletion(scripts ...streamScript) *scriptedCompletion {
	return &scriptedCompletion{scripts: scripts}
}

func (c *scriptedCompletion) Stream(ctx context.Context, messages []models.Message) (CompletionStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req := make([]models.Message, len(messages))
	copy(req, messages)
	c.requests = append(c.requests, req)

	script := streamScript{}
	if len(c.scripts) > 0 {
		script = c.scripts[0]
		c.scripts = c.scripts[1:]
	}
	if script.openErr != nil {
		return nil, script.openErr
	}
	return &fakeStream{ctx: ctx, deltas: script.deltas, err: script.err, block: script.block}, nil
}

func (c *scriptedCompletion) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *scriptedCompletion) request(i int) []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

// collect reads events until the channel closes or the timeout expires.
func collect(events <-chan models.StreamEvent) []models.StreamEvent {
	var out []models.StreamEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			return out
		}
	}
}

func nextEvent(events <-chan models.StreamEvent) (models.StreamEvent, bool) {
	select {
	case ev, ok := <-events:
		return ev, ok
	case <-time.After(2 * time.Second):
		return models.StreamEvent{}, false
	}
}
