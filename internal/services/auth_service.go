package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pbn-studio/engine/internal/models"
	"github.com/pbn-studio/engine/internal/repository"
	appErr "github.com/pbn-studio/engine/pkg/errors"
	"github.com/pbn-studio/engine/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type AuthService interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (string, *models.User, error)
	UpdatePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error
	DeleteAccount(ctx context.Context, userID uuid.UUID) error
	// VerifyToken returns the user id a token was issued to.
	VerifyToken(token string) (uuid.UUID, error)
}

type authService struct {
	userRepo   repository.UserRepository
	hmacSecret []byte
	ttl        time.Duration
	cost       int
}

func NewAuthService(userRepo repository.UserRepository, secret []byte, ttl time.Duration) AuthService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &authService{
		userRepo:   userRepo,
		hmacSecret: secret,
		ttl:        ttl,
		cost:       bcrypt.DefaultCost,
	}
}

var _ AuthService = (*authService)(nil)

func (s *authService) Register(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, appErr.New(appErr.CodeInvalid, "username and password are required")
	}

	ph, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "hash password failed")
	}

	user := &models.User{Username: username, PasswordHash: string(ph)}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if appErr.IsCode(err, appErr.CodeAlreadyExists) {
			return nil, appErr.Wrap(err, appErr.CodeAlreadyExists, "username already taken")
		}
		return nil, err
	}

	logger.L().Info("user registered", zap.String("user_id", user.ID.String()))
	return user, nil
}

func (s *authService) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	var user models.User
	if err := s.userRepo.GetByUsername(ctx, strings.TrimSpace(username), &user); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return "", nil, appErr.New(appErr.CodeUnauthorized, "invalid credentials")
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, appErr.New(appErr.CodeUnauthorized, "invalid credentials")
	}

	token, err := s.issue(user.ID)
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}

func (s *authService) issue(userID uuid.UUID) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})
	signed, err := token.SignedString(s.hmacSecret)
	if err != nil {
		return "", appErr.Wrap(err, appErr.CodeInternal, "sign token failed")
	}
	return signed, nil
}

func (s *authService) VerifyToken(token string) (uuid.UUID, error) {
	return ParseToken(s.hmacSecret, token)
}

// ParseToken validates an HS256 token signed with secret and returns its subject.
func ParseToken(secret []byte, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, appErr.New(appErr.CodeUnauthorized, "missing token")
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, appErr.Wrap(err, appErr.CodeUnauthorized, "invalid token")
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, appErr.Wrap(err, appErr.CodeUnauthorized, "invalid token subject")
	}
	return id, nil
}

func (s *authService) UpdatePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	if newPassword == "" {
		return appErr.New(appErr.CodeInvalid, "new password is required")
	}
	var user models.User
	if err := s.userRepo.GetByID(ctx, userID, &user); err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return appErr.New(appErr.CodeUnauthorized, "current password is incorrect")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "compare password failed")
	}

	ph, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "hash password failed")
	}
	if err := s.userRepo.UpdatePassword(ctx, userID, string(ph)); err != nil {
		return err
	}
	logger.L().Info("password updated", zap.String("user_id", userID.String()))
	return nil
}

func (s *authService) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	if err := s.userRepo.Delete(ctx, userID); err != nil {
		return err
	}
	logger.L().Info("account deleted", zap.String("user_id", userID.String()))
	return nil
}
