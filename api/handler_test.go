package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Ishu-sri-001/neuro-nest/config"
	"github.com/Ishu-sri-001/neuro-nest/database"
	"github.com/Ishu-sri-001/neuro-nest/middleware"
	"github.com/Ishu-sri-001/neuro-nest/models"
	"github.com/Ishu-sri-001/neuro-nest/repository"
	"github.com/Ishu-sri-001/neuro-nest/services"
)

// replyStream replays a fixed reply, optionally failing after it.
type replyStream struct {
	deltas []string
	err    error
}

func (s *replyStream) Recv() (string, error) {
	if len(s.deltas) > 0 {
		d := s.deltas[0]
		s.deltas = s.deltas[1:]
		return d, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *replyStream) Close() error { return nil }

// fakeCompletion answers every request with "Hello" and "!" unless the
// next call has been told to fail.
type fakeCompletion struct {
	mu       sync.Mutex
	failNext bool
	calls    int
}

func (f *fakeCompletion) Stream(_ context.Context, _ []models.Message) (services.CompletionStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failNext {
		f.failNext = false
		return &replyStream{deltas: []string{"Hel"}, err: fmt.Errorf("upstream timeout")}, nil
	}
	return &replyStream{deltas: []string{"Hello", "!"}}, nil
}

type testServer struct {
	router     *gin.Engine
	completion *fakeCompletion
	accounts   repository.AccountRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	var cfg config.Config
	cfg.Guest.MessageLimit = 2
	cfg.Auth.SignupCredits = 50
	cfg.CreditPlans = config.DefaultCreditPlans()

	accounts := repository.NewAccountRepository(db)
	store := repository.NewAllowanceStore(repository.NewDeviceRepository(db), accounts, cfg.Guest.MessageLimit)
	completion := &fakeCompletion{}
	tokens := services.NewTokenIssuer("test-secret", time.Hour)
	chat := services.NewChatService(store, completion, services.QuotaPolicy{GuestLimit: cfg.Guest.MessageLimit}, "be kind")
	t.Cleanup(chat.Shutdown)

	handler := NewAPIHandler(chat, services.NewAccountService(accounts, tokens, cfg), cfg)
	return &testServer{
		router:     NewRouter(handler, tokens, nil),
		completion: completion,
		accounts:   accounts,
	}
}

type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func (s *testServer) startSession(t *testing.T, headers map[string]string) models.SessionSnapshot {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/sessions", nil, headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var snapshot models.SessionSnapshot
	decodeData(t, w, &snapshot)
	return snapshot
}

func TestInitHandler(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/init", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	guestID := w.Header().Get(middleware.GuestIDHeader)
	require.NotEmpty(t, guestID)

	var resp models.InitResponse
	decodeData(t, w, &resp)
	assert.Equal(t, models.Guest(guestID), resp.Identity)
	assert.Equal(t, 2, resp.GuestMessageLimit)
	assert.Equal(t, 2, resp.Remaining)
	assert.Equal(t, models.DecisionAllow, resp.Decision)
	assert.Len(t, resp.CreditPlans, 3)
}

func TestGuestMessageFlow(t *testing.T) {
	s := newTestServer(t)
	guest := map[string]string{middleware.GuestIDHeader: "7b0e4a52-4b4f-4d2b-9a53-3c0d6c1f2b11"}
	session := s.startSession(t, guest)
	path := "/api/sessions/" + session.ID + "/messages"

	w := s.do(t, http.MethodPost, path, SubmitMessageRequest{Message: "   "}, guest)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for i := 0; i < 2; i++ {
		w = s.do(t, http.MethodPost, path, SubmitMessageRequest{Message: "hello"}, guest)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
		body := w.Body.String()
		assert.Contains(t, body, "event:delta")
		assert.Contains(t, body, `"content":"Hello"`)
		assert.Contains(t, body, "event:done")
	}

	w = s.do(t, http.MethodPost, path, SubmitMessageRequest{Message: "hello"}, guest)
	require.Equal(t, http.StatusForbidden, w.Code)
	var limit map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &limit))
	assert.Equal(t, "guest", limit["limit_reached"])
	assert.EqualValues(t, 0, limit["remaining"])
	assert.Equal(t, 2, s.completion.calls)

	w = s.do(t, http.MethodGet, "/api/sessions/"+session.ID, nil, guest)
	require.Equal(t, http.StatusOK, w.Code)
	var snapshot models.SessionSnapshot
	decodeData(t, w, &snapshot)
	require.Len(t, snapshot.Messages, 4)
	assert.Equal(t, "Hello!", snapshot.Messages[1].Content)
	assert.Equal(t, models.DecisionBlock, snapshot.Decision)

	w = s.do(t, http.MethodDelete, "/api/sessions/"+session.ID, nil, guest)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodGet, "/api/sessions/"+session.ID, nil, guest)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetryAfterFailure(t *testing.T) {
	s := newTestServer(t)
	guest := map[string]string{middleware.GuestIDHeader: "0d3c0e37-0a7e-4f0c-8d2a-5d3f6b4f7a21"}
	session := s.startSession(t, guest)
	s.completion.failNext = true

	w := s.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/messages", SubmitMessageRequest{Message: "hello"}, guest)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "event:error")
	assert.Contains(t, w.Body.String(), "upstream timeout")

	w = s.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/retry", nil, guest)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "event:done")

	w = s.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/retry", nil, guest)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/api/sessions/"+session.ID, nil, guest)
	var snapshot models.SessionSnapshot
	decodeData(t, w, &snapshot)
	assert.Equal(t, 1, snapshot.Allowance.Used, "retry does not consume allowance")
	require.Len(t, snapshot.Messages, 2)
	assert.Equal(t, "Hello!", snapshot.Messages[1].Content)
}

func TestAccountFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/auth/signup", SignupRequest{Email: "jane@example.com", Password: "secret1", FirstName: "Jane"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var auth authResponse
	decodeData(t, w, &auth)
	require.NotEmpty(t, auth.Token)
	assert.Equal(t, 50, auth.Account.Credits)

	w = s.do(t, http.MethodPost, "/api/auth/signup", SignupRequest{Email: "jane@example.com", Password: "secret1"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Email: "jane@example.com", Password: "wrong!!"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	bearer := map[string]string{"Authorization": "Bearer " + auth.Token}
	session := s.startSession(t, bearer)
	assert.Equal(t, models.Authenticated(auth.Account.ID), session.Identity)
	assert.Equal(t, 50, session.Allowance.Credits)

	w = s.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/messages", SubmitMessageRequest{Message: "hello"}, bearer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "event:done")

	assert.Eventually(t, func() bool {
		account, err := s.accounts.Get(context.Background(), auth.Account.ID)
		return err == nil && account.Credits == 49
	}, 2*time.Second, 10*time.Millisecond)

	w = s.do(t, http.MethodPost, "/api/account/credits", PurchaseCreditsRequest{PlanID: "starter"}, bearer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var purchase struct {
		Account models.Account    `json:"account"`
		Plan    config.CreditPlan `json:"plan"`
	}
	decodeData(t, w, &purchase)
	assert.Equal(t, 84, purchase.Account.Credits)

	w = s.do(t, http.MethodPost, "/api/account/credits", PurchaseCreditsRequest{PlanID: "nope"}, bearer)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	display := "JD"
	w = s.do(t, http.MethodPatch, "/api/account", UpdateAccountRequest{DisplayName: &display}, bearer)
	require.Equal(t, http.StatusOK, w.Code)
	var account models.Account
	decodeData(t, w, &account)
	assert.Equal(t, "JD", account.DisplayName)

	w = s.do(t, http.MethodGet, "/api/account", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "guests have no account")
}

func TestSessionFollowsCallerIdentity(t *testing.T) {
	s := newTestServer(t)
	guest := map[string]string{middleware.GuestIDHeader: "4c6f6b1e-9f1d-4d4e-8a8e-2a7b5c9d0e31"}
	session := s.startSession(t, guest)
	path := "/api/sessions/" + session.ID + "/messages"
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path, SubmitMessageRequest{Message: "hi"}, guest).Code)
	}
	require.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, path, SubmitMessageRequest{Message: "hi"}, guest).Code)

	w := s.do(t, http.MethodPost, "/api/auth/signup", SignupRequest{Email: "sam@example.com", Password: "secret1"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var auth authResponse
	decodeData(t, w, &auth)

	// Logging in on the same device carries the guest session over.
	bearer := map[string]string{
		"Authorization":          "Bearer " + auth.Token,
		middleware.GuestIDHeader: guest[middleware.GuestIDHeader],
	}
	w = s.do(t, http.MethodPost, path, SubmitMessageRequest{Message: "hi again"}, bearer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "event:done")

	w = s.do(t, http.MethodGet, "/api/sessions/"+session.ID, nil, bearer)
	var snapshot models.SessionSnapshot
	decodeData(t, w, &snapshot)
	assert.Equal(t, models.Authenticated(auth.Account.ID), snapshot.Identity)
	assert.Equal(t, 49, snapshot.Allowance.Credits)
	assert.Len(t, snapshot.Messages, 6)

	w = s.do(t, http.MethodGet, "/api/sessions/"+session.ID, nil, guest)
	assert.Equal(t, http.StatusNotFound, w.Code, "the guest no longer owns the session")
}

func TestSessionRefusesStrangers(t *testing.T) {
	s := newTestServer(t)
	owner := map[string]string{middleware.GuestIDHeader: "5e2d1c0b-3a4f-4b6e-9d8c-7f6a5b4c3d21"}
	session := s.startSession(t, owner)
	sessionPath := "/api/sessions/" + session.ID

	w := s.do(t, http.MethodPost, "/api/auth/signup", SignupRequest{Email: "eve@example.com", Password: "secret1"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var auth authResponse
	decodeData(t, w, &auth)

	strangers := map[string]map[string]string{
		"other guest":             {middleware.GuestIDHeader: "a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d"},
		"no header":               nil,
		"account without device":  {"Authorization": "Bearer " + auth.Token},
		"account on other device": {"Authorization": "Bearer " + auth.Token, middleware.GuestIDHeader: "a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d"},
	}
	for name, headers := range strangers {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, sessionPath, nil, headers).Code)
			assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, sessionPath+"/messages", SubmitMessageRequest{Message: "hi"}, headers).Code)
			assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, sessionPath+"/retry", nil, headers).Code)
			assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, sessionPath, nil, headers).Code)
		})
	}

	w = s.do(t, http.MethodGet, sessionPath, nil, owner)
	require.Equal(t, http.StatusOK, w.Code)
	var snapshot models.SessionSnapshot
	decodeData(t, w, &snapshot)
	assert.Equal(t, models.Guest(owner[middleware.GuestIDHeader]), snapshot.Identity)
	assert.Empty(t, snapshot.Messages)
	assert.Zero(t, s.completion.calls)
}

func TestPurchaseReachesLiveSession(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	w := s.do(t, http.MethodPost, "/api/auth/signup", SignupRequest{Email: "kim@example.com", Password: "secret1"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var auth authResponse
	decodeData(t, w, &auth)
	bearer := map[string]string{"Authorization": "Bearer " + auth.Token}

	session := s.startSession(t, bearer)
	require.Equal(t, 50, session.Allowance.Credits)
	path := "/api/sessions/" + session.ID + "/messages"

	w = s.do(t, http.MethodPost, "/api/account/credits", PurchaseCreditsRequest{PlanID: "starter"}, bearer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, path, SubmitMessageRequest{Message: "hello"}, bearer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "event:done")

	assert.Eventually(t, func() bool {
		account, err := s.accounts.Get(ctx, auth.Account.ID)
		return err == nil && account.Credits == 84
	}, 2*time.Second, 10*time.Millisecond, "the purchase survives the next submit")

	w = s.do(t, http.MethodGet, "/api/sessions/"+session.ID, nil, bearer)
	var snapshot models.SessionSnapshot
	decodeData(t, w, &snapshot)
	assert.Equal(t, 84, snapshot.Allowance.Credits)

	t.Run("unblocks an exhausted session", func(t *testing.T) {
		require.NoError(t, s.accounts.Update(ctx, auth.Account.ID, map[string]interface{}{"credits": 0}))
		w := s.do(t, http.MethodGet, "/api/sessions/"+session.ID+"?refresh=true", nil, bearer)
		require.Equal(t, http.StatusOK, w.Code)
		var snapshot models.SessionSnapshot
		decodeData(t, w, &snapshot)
		require.Equal(t, models.DecisionBlock, snapshot.Decision)

		w = s.do(t, http.MethodPost, path, SubmitMessageRequest{Message: "hello"}, bearer)
		require.Equal(t, http.StatusForbidden, w.Code)

		w = s.do(t, http.MethodPost, "/api/account/credits", PurchaseCreditsRequest{PlanID: "starter"}, bearer)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = s.do(t, http.MethodPost, path, SubmitMessageRequest{Message: "hello"}, bearer)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "event:done")
		assert.Eventually(t, func() bool {
			account, err := s.accounts.Get(ctx, auth.Account.ID)
			return err == nil && account.Credits == 34
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestCancelHandlerWhenIdle(t *testing.T) {
	s := newTestServer(t)
	guest := map[string]string{middleware.GuestIDHeader: "9a1b2c3d-4e5f-4a6b-8c7d-0e1f2a3b4c5d"}
	session := s.startSession(t, guest)

	w := s.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/cancel", nil, guest)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	decodeData(t, w, &resp)
	assert.False(t, resp.Cancelled)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/init", nil, nil)

	w := s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "neuronest_http_requests_total")
}
