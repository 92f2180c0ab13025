package repository

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Ishu-sri-001/neuro-nest/models"
)

// ErrAccountNotFound is returned when no account has the requested ID or email.
var ErrAccountNotFound = errors.New("account not found")

// AccountRepository reads and updates account records.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	Get(ctx context.Context, accountID string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	// Update applies a partial update. Concurrent writers race; the last write wins.
	Update(ctx context.Context, accountID string, fields map[string]interface{}) error
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new instance of AccountRepository.
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	if account == nil {
		return errors.New("account cannot be nil")
	}
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		return errors.Wrapf(err, "failed to create account %s", account.Email)
	}
	log.Info().Str("component", "AccountRepository").Str("account_id", account.ID).Int("credits", account.Credits).Msg("account created")
	return nil
}

func (r *accountRepository) Get(ctx context.Context, accountID string) (*models.Account, error) {
	return r.first(ctx, "id = ?", accountID)
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *accountRepository) first(ctx context.Context, query string, arg string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).First(&account, query, arg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, errors.Wrapf(err, "failed to fetch account (%s)", arg)
	}
	return &account, nil
}

func (r *accountRepository) Update(ctx context.Context, accountID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", accountID).Updates(fields)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to update account %s", accountID)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
