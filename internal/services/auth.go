package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/querydeck/backend/internal/config"
	"github.com/querydeck/backend/internal/models"
	"github.com/querydeck/backend/internal/utils"
	"github.com/querydeck/backend/pkg/logger"
	"github.com/querydeck/backend/pkg/response"
	"gorm.io/gorm"
)

// Credential and token errors surfaced by the auth flows.
var (
	ErrInvalidCredentials = response.NewKind(http.StatusUnauthorized, response.KindInvalidCredentials, "invalid email or password")
	ErrAccountInactive    = response.NewKind(http.StatusForbidden, response.KindAccountInactive, "account is disabled")
	ErrTokenExpired       = response.NewKind(http.StatusUnauthorized, response.KindTokenExpired, "token has expired")
	ErrTokenInvalid       = response.NewKind(http.StatusUnauthorized, response.KindTokenInvalid, "token is invalid")
)

const (
	verifyTokenTTL       = 48 * time.Hour
	resetTokenTTL        = 2 * time.Hour
	refreshTokenTTLHours = 720
	defaultAdminEmail    = "admin@querydeck.local"
	defaultAdminPassword = "admin"
)

type AuthService struct {
	db          *gorm.DB
	ldapService *LDAPService
	jwtConfig   *config.JWTConfig
	queue       TaskQueue
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig, ldapCfg *config.LDAPConfig, queue TaskQueue) *AuthService {
	return &AuthService{
		db:          db,
		ldapService: NewLDAPService(ldapCfg),
		jwtConfig:   jwtCfg,
		queue:       queue,
	}
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	AuthType string `json:"auth_type"` // local, ldap
}

type LoginResult struct {
	AccessToken     string
	AccessExpireAt  time.Time
	RefreshToken    string
	RefreshExpireAt time.Time
	User            *models.User
}

type RefreshResult struct {
	AccessToken     string
	AccessExpireAt  time.Time
	RefreshToken    string
	RefreshExpireAt time.Time
}

// Register creates a local account and queues the verification email. The
// account is usable immediately; IsVerified flips when the token comes
// back.
func (s *AuthService) Register(req *RegisterRequest) (*models.User, error) {
	var count int64
	s.db.Model(&models.User{}).Where("email = ?", req.Email).Count(&count)
	if count > 0 {
		return nil, response.NewConflict("email is already registered")
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Email:    req.Email,
		Password: hashed,
		Name:     req.Name,
		AuthType: "local",
		IsActive: true,
	}

	token, err := randomToken()
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		record := models.UserToken{
			UserID:    user.ID,
			Token:     token,
			Purpose:   models.TokenPurposeVerify,
			ExpiresAt: time.Now().Add(verifyTokenTTL),
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return nil, err
	}

	s.sendMail(user.Email, "Verify your account",
		fmt.Sprintf("Welcome to QueryDeck, %s.\n\nYour verification token: %s\n", user.Name, token))

	return &user, nil
}

// Login authenticates locally or against LDAP and issues an access token
// plus a rotating refresh token.
func (s *AuthService) Login(req *LoginRequest, clientIP, userAgent string) (*LoginResult, error) {
	var user *models.User
	var err error

	if req.AuthType == "" {
		req.AuthType = "local"
	}

	switch req.AuthType {
	case "local":
		user, err = s.localAuth(req.Email, req.Password)
	case "ldap":
		user, err = s.ldapAuth(req.Email, req.Password)
	default:
		return nil, response.NewBadRequest("invalid auth type")
	}
	if err != nil {
		return nil, err
	}

	accessHours := s.accessTokenExpireHours()

	token, err := utils.GenerateToken(user.ID, user.Email, accessHours)
	if err != nil {
		return nil, err
	}

	refreshToken, refreshHash, err := generateRefreshToken()
	if err != nil {
		return nil, err
	}

	refreshExpireAt := time.Now().Add(refreshTokenTTLHours * time.Hour)
	refreshRecord := models.RefreshToken{
		UserID:      user.ID,
		TokenHash:   refreshHash,
		ExpiresAt:   refreshExpireAt,
		CreatedByIP: clientIP,
		UserAgent:   userAgent,
	}
	if err := s.db.Create(&refreshRecord).Error; err != nil {
		return nil, err
	}

	now := time.Now()
	user.LastLogin = &now
	s.db.Save(user)

	return &LoginResult{
		AccessToken:     token,
		AccessExpireAt:  time.Now().Add(time.Duration(accessHours) * time.Hour),
		RefreshToken:    refreshToken,
		RefreshExpireAt: refreshExpireAt,
		User:            user,
	}, nil
}

// Refresh rotates the refresh token: the old one is revoked and linked to
// its replacement, so a replayed token is detectable.
func (s *AuthService) Refresh(refreshToken, clientIP, userAgent string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, ErrTokenInvalid
	}

	hash := hashRefreshToken(refreshToken)

	var stored models.RefreshToken
	if err := s.db.Where("token_hash = ?", hash).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	if stored.RevokedAt != nil {
		return nil, ErrTokenInvalid
	}
	if time.Now().After(stored.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	var user models.User
	if err := s.db.First(&user, stored.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	accessHours := s.accessTokenExpireHours()

	newAccessToken, err := utils.GenerateToken(user.ID, user.Email, accessHours)
	if err != nil {
		return nil, err
	}

	newRefreshToken, newRefreshHash, err := generateRefreshToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	newRefresh := models.RefreshToken{
		UserID:      user.ID,
		TokenHash:   newRefreshHash,
		ExpiresAt:   now.Add(refreshTokenTTLHours * time.Hour),
		CreatedByIP: clientIP,
		UserAgent:   userAgent,
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&newRefresh).Error; err != nil {
			return err
		}
		return tx.Model(&stored).Updates(map[string]interface{}{
			"revoked_at":           now,
			"replaced_by_token_id": newRefresh.ID,
		}).Error
	}); err != nil {
		return nil, err
	}

	return &RefreshResult{
		AccessToken:     newAccessToken,
		AccessExpireAt:  time.Now().Add(time.Duration(accessHours) * time.Hour),
		RefreshToken:    newRefreshToken,
		RefreshExpireAt: newRefresh.ExpiresAt,
	}, nil
}

// RevokeRefreshToken invalidates a refresh token on logout. Unknown
// tokens are a no-op.
func (s *AuthService) RevokeRefreshToken(refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	hash := hashRefreshToken(refreshToken)
	return s.db.Model(&models.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", hash).
		Update("revoked_at", time.Now()).Error
}

// VerifyEmail consumes a verification token and marks the account
// verified. Tokens are single-use.
func (s *AuthService) VerifyEmail(token string) error {
	return s.consumeToken(token, models.TokenPurposeVerify, func(tx *gorm.DB, userID uint) error {
		return tx.Model(&models.User{}).Where("id = ?", userID).Update("is_verified", true).Error
	})
}

// RequestPasswordReset issues a reset token for a local account. To avoid
// account enumeration, an unknown email succeeds silently.
func (s *AuthService) RequestPasswordReset(email string) error {
	var user models.User
	err := s.db.Where("email = ? AND auth_type = ?", email, "local").First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	token, err := randomToken()
	if err != nil {
		return err
	}

	record := models.UserToken{
		UserID:    user.ID,
		Token:     token,
		Purpose:   models.TokenPurposeReset,
		ExpiresAt: time.Now().Add(resetTokenTTL),
	}
	if err := s.db.Create(&record).Error; err != nil {
		return err
	}

	s.sendMail(user.Email, "Password reset",
		fmt.Sprintf("Your password reset token: %s\n\nIt expires in %d hours.\n", token, int(resetTokenTTL.Hours())))

	return nil
}

// ResetPassword consumes a reset token and replaces the password. All
// outstanding refresh tokens are revoked so stolen sessions die with the
// old password.
func (s *AuthService) ResetPassword(token, newPassword string) error {
	hashed, err := utils.HashPassword(newPassword)
	if err != nil {
		return err
	}

	return s.consumeToken(token, models.TokenPurposeReset, func(tx *gorm.DB, userID uint) error {
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Update("password", hashed).Error; err != nil {
			return err
		}
		return tx.Model(&models.RefreshToken{}).
			Where("user_id = ? AND revoked_at IS NULL", userID).
			Update("revoked_at", time.Now()).Error
	})
}

// consumeToken atomically validates and burns a one-shot token, then runs
// apply in the same transaction.
func (s *AuthService) consumeToken(token, purpose string, apply func(tx *gorm.DB, userID uint) error) error {
	if token == "" {
		return ErrTokenInvalid
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var record models.UserToken
		err := tx.Where("token = ? AND purpose = ?", token, purpose).First(&record).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTokenInvalid
			}
			return err
		}

		if record.UsedAt != nil {
			return ErrTokenInvalid
		}
		if time.Now().After(record.ExpiresAt) {
			return ErrTokenExpired
		}

		now := time.Now()
		if err := tx.Model(&record).Update("used_at", now).Error; err != nil {
			return err
		}
		return apply(tx, record.UserID)
	})
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

func (s *AuthService) ChangePassword(userID uint, req *ChangePasswordRequest) error {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return response.NewNotFound("user not found")
	}

	if user.AuthType != "local" {
		return response.NewBadRequest("LDAP users cannot change password here")
	}

	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return ErrInvalidCredentials.WithMessage("incorrect old password")
	}

	hashed, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	user.Password = hashed
	return s.db.Save(&user).Error
}

func (s *AuthService) localAuth(email, password string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("email = ? AND auth_type = ?", email, "local").First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	if !utils.CheckPassword(password, user.Password) {
		return nil, ErrInvalidCredentials
	}

	return &user, nil
}

func (s *AuthService) ldapAuth(email, password string) (*models.User, error) {
	ldapUser, err := s.ldapService.Authenticate(email, password)
	if err != nil {
		return nil, err
	}

	// Find or create the shadow account for the directory user.
	var user models.User
	err = s.db.Where("email = ? AND auth_type = ?", ldapUser.Email, "ldap").First(&user).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			Email:      ldapUser.Email,
			Name:       ldapUser.Name,
			AuthType:   "ldap",
			IsActive:   true,
			IsVerified: true,
		}
		if err := s.db.Create(&user).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	user.Name = ldapUser.Name
	s.db.Save(&user)

	return &user, nil
}

func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("user not found")
		}
		return nil, err
	}
	return &user, nil
}

// CreateAdminIfNotExists seeds the bootstrap account on an empty user
// table.
func (s *AuthService) CreateAdminIfNotExists() error {
	var count int64
	s.db.Model(&models.User{}).Count(&count)
	if count > 0 {
		return nil
	}

	hashed, err := utils.HashPassword(defaultAdminPassword)
	if err != nil {
		return err
	}

	admin := models.User{
		Email:      defaultAdminEmail,
		Password:   hashed,
		Name:       "Administrator",
		AuthType:   "local",
		IsActive:   true,
		IsVerified: true,
	}
	return s.db.Create(&admin).Error
}

func (s *AuthService) IsLDAPEnabled() bool {
	return s.ldapService.IsEnabled()
}

func (s *AuthService) accessTokenExpireHours() int {
	if s.jwtConfig != nil && s.jwtConfig.ExpireHour > 0 {
		return s.jwtConfig.ExpireHour
	}
	return 24
}

func (s *AuthService) sendMail(to, subject, body string) {
	if s.queue == nil {
		return
	}
	if err := s.queue.EnqueueEmail(&EmailTask{To: to, Subject: subject, Body: body}); err != nil {
		logger.Errorf("enqueue email to %s: %v", to, err)
	}
}

func generateRefreshToken() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, 32)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(randomBytes)
	tokenHash = hashRefreshToken(token)
	return token, tokenHash, nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomToken() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(randomBytes), nil
}
