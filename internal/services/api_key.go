package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/querydeck/backend/internal/models"
	"github.com/querydeck/backend/pkg/response"
	"gorm.io/gorm"
)

// ApiKeyService issues and validates project-scoped API keys. The full
// key is shown exactly once at creation; only its hash is stored.
type ApiKeyService struct {
	db *gorm.DB
}

func NewApiKeyService(db *gorm.DB) *ApiKeyService {
	return &ApiKeyService{db: db}
}

type CreateApiKeyRequest struct {
	Name string `json:"name" binding:"required"`
	Role string `json:"role"`
}

type CreateApiKeyResult struct {
	Key    string         `json:"key"`
	Record *models.ApiKey `json:"record"`
}

// Create issues a new key. The plaintext key in the result is the only
// copy that will ever exist.
func (s *ApiKeyService) Create(projectID, userID uint, req *CreateApiKeyRequest) (*CreateApiKeyResult, error) {
	roleName := req.Role
	if roleName == "" {
		roleName = string(models.RoleViewer)
	}
	role, err := models.ParseRole(roleName)
	if err != nil {
		return nil, response.NewBadRequest(err.Error())
	}
	if role == models.RoleCustom {
		return nil, response.NewBadRequest("API keys cannot use the custom role")
	}

	randomBytes := make([]byte, 24)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("qd_%s", hex.EncodeToString(randomBytes))

	record := models.ApiKey{
		ProjectID: projectID,
		Name:      req.Name,
		KeyPrefix: key[:10],
		KeyHash:   hashApiKey(key),
		Role:      role,
		IsActive:  true,
		CreatedBy: userID,
	}
	if err := s.db.Create(&record).Error; err != nil {
		return nil, err
	}

	return &CreateApiKeyResult{Key: key, Record: &record}, nil
}

// Lookup resolves a presented key to its record and stamps last_used_at.
// Unknown, revoked and foreign-project keys all fail the same way.
func (s *ApiKeyService) Lookup(key string) (*models.ApiKey, error) {
	var record models.ApiKey
	err := s.db.Where("key_hash = ? AND is_active = ?", hashApiKey(key), true).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	now := time.Now()
	s.db.Model(&record).Update("last_used_at", now)

	return &record, nil
}

func (s *ApiKeyService) List(projectID uint) ([]models.ApiKey, error) {
	var records []models.ApiKey
	err := s.db.Where("project_id = ?", projectID).Order("id DESC").Find(&records).Error
	return records, err
}

// Revoke deactivates a key. Revocation is permanent.
func (s *ApiKeyService) Revoke(projectID, keyID uint) error {
	result := s.db.Model(&models.ApiKey{}).
		Where("id = ? AND project_id = ?", keyID, projectID).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return response.NewNotFound("API key not found")
	}
	return nil
}

func hashApiKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
