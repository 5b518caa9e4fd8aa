package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kohakuhub/hub/internal/config"
	"github.com/kohakuhub/hub/internal/metadata"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrAccountLocked      = errors.New("account is locked")
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type AuthResponse struct {
	User        *metadata.User `json:"user"`
	AccessToken string         `json:"access_token"`
	ExpiresIn   int64          `json:"expires_in"`
}

// Service is the thin identity boundary the core depends on: it yields an
// authenticated principal with a username. It covers password
// registration, login and token verification; sessions, MFA, SSO and
// email verification are not implemented here.
type Service interface {
	Login(ctx context.Context, req LoginRequest) (*AuthResponse, error)
	Register(ctx context.Context, req RegisterRequest) (*metadata.User, error)
	VerifyToken(ctx context.Context, token string) (*metadata.User, error)
	GetUserByUsername(ctx context.Context, username string) (*metadata.User, error)
}

type service struct {
	db         *gorm.DB
	jwtManager *JWTManager
	cfg        *config.Config
}

func NewService(db *gorm.DB, jwtManager *JWTManager, cfg *config.Config) Service {
	return &service{db: db, jwtManager: jwtManager, cfg: cfg}
}

// Normalize mirrors the repo-naming collision rule: lowercase with
// '-'/'_' stripped, used for O(1) username/org collision checks.
func Normalize(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", "")
	name = strings.ReplaceAll(name, "_", "")
	return name
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var user metadata.User
	err := s.db.WithContext(ctx).Where("username = ?", req.Username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: lookup user: %w", err)
	}

	if !user.IsActive {
		return nil, ErrAccountLocked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	accessToken, err := s.jwtManager.GenerateToken(&user)
	if err != nil {
		return nil, fmt.Errorf("auth: generate token: %w", err)
	}

	user.PasswordHash = ""
	return &AuthResponse{
		User:        &user,
		AccessToken: accessToken,
		ExpiresIn:   int64(time.Duration(s.cfg.JWT.ExpirationHour) * time.Hour / time.Second),
	}, nil
}

func (s *service) Register(ctx context.Context, req RegisterRequest) (*metadata.User, error) {
	normalized := Normalize(req.Username)

	var existing metadata.User
	err := s.db.WithContext(ctx).Where("normalized_name = ? OR email = ?", normalized, req.Email).First(&existing).Error
	if err == nil {
		return nil, ErrUserExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("auth: lookup existing user: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	user := metadata.User{
		ID:             uuid.New(),
		Username:       req.Username,
		NormalizedName: normalized,
		Email:          req.Email,
		PasswordHash:   string(hashed),
		IsActive:       true,
	}

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("auth: create user: %w", err)
	}

	user.PasswordHash = ""
	return &user, nil
}

func (s *service) VerifyToken(ctx context.Context, token string) (*metadata.User, error) {
	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	var user metadata.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", claims.UserID).Error; err != nil {
		return nil, ErrUserNotFound
	}
	if !user.IsActive {
		return nil, ErrAccountLocked
	}

	user.PasswordHash = ""
	return &user, nil
}

func (s *service) GetUserByUsername(ctx context.Context, username string) (*metadata.User, error) {
	var user metadata.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	user.PasswordHash = ""
	return &user, nil
}
