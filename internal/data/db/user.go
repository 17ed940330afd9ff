package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lila-repro/lila/internal/data/model"
	"github.com/lila-repro/lila/internal/log"
)

// UserManager defines the interface for managing submitters and their tokens.
type UserManager interface {
	// CreateUser stores a new user and returns it with a freshly generated token.
	CreateUser(ctx context.Context, name string) (*model.User, string, error)
	// UserIDForToken resolves a bearer token. Unknown or revoked tokens yield repro.ErrNotFound.
	UserIDForToken(ctx context.Context, token string) (uint, error)
	// UserByName retrieves a user by name.
	UserByName(ctx context.Context, name string) (*model.User, error)
}

// GormUserManager implements the UserManager interface using a GORM DB connection.
type GormUserManager struct {
	db *gorm.DB
}

// NewGormUserManager creates a new GormUserManager.
func NewGormUserManager(db *gorm.DB) (*GormUserManager, error) {
	if db == nil {
		return nil, errNilDB
	}
	return &GormUserManager{db: db}, nil
}

// CreateUser stores a user named name with one valid token.
func (manager *GormUserManager) CreateUser(ctx context.Context, name string) (*model.User, string, error) {
	if ctx == nil {
		return nil, "", errNilCtx
	}
	if manager.db == nil {
		return nil, "", errNilDB
	}
	if name == "" {
		return nil, "", errors.New("name is required")
	}
	logger := log.NewLogger(ctx)
	logger.Debug("CreateUser", zap.String("name", name))

	token := uuid.NewString()
	user := model.User{
		Name:   name,
		Tokens: []model.Token{{Value: token, Valid: true}},
	}
	if err := manager.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, "", fmt.Errorf("error creating user: %w", err)
	}
	return &user, token, nil
}

// UserIDForToken resolves a valid bearer token to its user id.
func (manager *GormUserManager) UserIDForToken(ctx context.Context, token string) (uint, error) {
	if ctx == nil {
		return 0, errNilCtx
	}
	if manager.db == nil {
		return 0, errNilDB
	}
	var t model.Token
	if err := manager.db.WithContext(ctx).Where("value = ? AND valid = ?", token, true).First(&t).Error; err != nil {
		return 0, notFound(err, "token")
	}
	return t.UserID, nil
}

// UserByName retrieves a user by name. Unknown names yield repro.ErrNotFound.
func (manager *GormUserManager) UserByName(ctx context.Context, name string) (*model.User, error) {
	if ctx == nil {
		return nil, errNilCtx
	}
	if manager.db == nil {
		return nil, errNilDB
	}
	var user model.User
	if err := manager.db.WithContext(ctx).Where("name = ?", name).First(&user).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}
