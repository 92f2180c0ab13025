package services

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/Ishu-sri-001/neuro-nest/config"
	"github.com/Ishu-sri-001/neuro-nest/models"
	"github.com/Ishu-sri-001/neuro-nest/repository"
)

const minPasswordLength = 6

var (
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidSignup      = errors.New("invalid signup details")
	ErrUnknownPlan        = errors.New("unknown credit plan")
)

// SignupRequest holds the fields collected by the signup form.
type SignupRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// ProfileUpdate holds the editable profile fields; nil fields are left unchanged.
type ProfileUpdate struct {
	FirstName   *string
	LastName    *string
	DisplayName *string
}

// AccountService manages accounts, their profiles and credit purchases.
type AccountService interface {
	Signup(ctx context.Context, req SignupRequest) (*models.Account, string, error)
	Login(ctx context.Context, email, password string) (*models.Account, string, error)
	GetProfile(ctx context.Context, accountID string) (*models.Account, error)
	UpdateProfile(ctx context.Context, accountID string, update ProfileUpdate) (*models.Account, error)
	PurchaseCredits(ctx context.Context, accountID, planID string) (*models.Account, config.CreditPlan, error)
}

type accountService struct {
	accounts      repository.AccountRepository
	tokens        *TokenIssuer
	cfg           config.Config
	signupCredits int
}

// NewAccountService creates an AccountService. cfg supplies credit plans and the signup grant.
func NewAccountService(accounts repository.AccountRepository, tokens *TokenIssuer, cfg config.Config) AccountService {
	return &accountService{
		accounts:      accounts,
		tokens:        tokens,
		cfg:           cfg,
		signupCredits: cfg.Auth.SignupCredits,
	}
}

func (s *accountService) Signup(ctx context.Context, req SignupRequest) (*models.Account, string, error) {
	// Validate input
	email := normalizeEmail(req.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", errors.Wrap(ErrInvalidSignup, "email is not valid")
	}
	if len(req.Password) < minPasswordLength {
		return nil, "", errors.Wrapf(ErrInvalidSignup, "password must be at least %d characters", minPasswordLength)
	}

	// Check if email is already registered
	if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
		return nil, "", ErrEmailTaken
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to hash password")
	}

	// Create the account with the signup grant
	now := time.Now()
	firstName := strings.TrimSpace(req.FirstName)
	lastName := strings.TrimSpace(req.LastName)
	account := &models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    firstName,
		LastName:     lastName,
		DisplayName:  strings.TrimSpace(firstName + " " + lastName),
		Credits:      s.signupCredits,
		LastLogin:    &now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, "", err
	}

	// Sign in straight away
	token, err := s.tokens.Issue(account.ID, account.Email)
	if err != nil {
		return nil, "", err
	}
	return account, token, nil
}

func (s *accountService) Login(ctx context.Context, email, password string) (*models.Account, string, error) {
	account, err := s.accounts.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	now := time.Now()
	if err := s.accounts.Update(ctx, account.ID, map[string]interface{}{"last_login": now}); err != nil {
		log.Warn().Err(err).Str("component", "AccountService").Str("account_id", account.ID).Msg("failed to record last login")
	} else {
		account.LastLogin = &now
	}

	token, err := s.tokens.Issue(account.ID, account.Email)
	if err != nil {
		return nil, "", err
	}
	return account, token, nil
}

func (s *accountService) GetProfile(ctx context.Context, accountID string) (*models.Account, error) {
	return s.accounts.Get(ctx, accountID)
}

func (s *accountService) UpdateProfile(ctx context.Context, accountID string, update ProfileUpdate) (*models.Account, error) {
	fields := map[string]interface{}{}
	if update.FirstName != nil {
		fields["first_name"] = strings.TrimSpace(*update.FirstName)
	}
	if update.LastName != nil {
		fields["last_name"] = strings.TrimSpace(*update.LastName)
	}
	if update.DisplayName != nil {
		fields["display_name"] = strings.TrimSpace(*update.DisplayName)
	}
	if err := s.accounts.Update(ctx, accountID, fields); err != nil {
		return nil, err
	}
	return s.accounts.Get(ctx, accountID)
}

// PurchaseCredits adds a plan's credits to the stored balance. Like message
// metering, this is a read-then-write and the last writer wins.
func (s *accountService) PurchaseCredits(ctx context.Context, accountID, planID string) (*models.Account, config.CreditPlan, error) {
	plan, ok := s.cfg.FindCreditPlan(planID)
	if !ok {
		return nil, config.CreditPlan{}, ErrUnknownPlan
	}
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, plan, err
	}
	newCredits := account.Credits + plan.Amount
	if err := s.accounts.Update(ctx, accountID, map[string]interface{}{"credits": newCredits}); err != nil {
		return nil, plan, err
	}
	account.Credits = newCredits
	log.Info().Str("component", "AccountService").Str("account_id", accountID).Str("plan", plan.ID).Int("credits", newCredits).Msg("credits purchased")
	return account, plan, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
