package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tts-gateway/internal/apierror"
	"tts-gateway/internal/logger"
	"tts-gateway/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// KeyService owns custom keys, original keys, their mapping, and the daily
// usage ledger as one consistency unit. Multi-entity mutations run inside a
// single transaction so the mapping table and CustomKey.OriginalKeyID never
// drift apart.
type KeyService struct {
	db *gorm.DB
}

func NewKeyService(db *gorm.DB) *KeyService {
	return &KeyService{db: db}
}

// GenerateCustomAPIKey produces a fresh caller-facing secret in the
// sk-<32 hex> format.
func GenerateCustomAPIKey() string {
	return "sk-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func (s *KeyService) CreateCustomKey(name string, rateLimit int, originalKeyID *string) (*models.CustomKey, error) {
	if name == "" {
		return nil, apierror.Validation("Name is required")
	}
	if rateLimit <= 0 {
		rateLimit = 1000
	}

	key := &models.CustomKey{
		ID:            uuid.New().String(),
		Name:          name,
		APIKey:        GenerateCustomAPIKey(),
		Status:        models.KeyStatusActive,
		RateLimit:     rateLimit,
		CreatedAt:     time.Now(),
		OriginalKeyID: originalKeyID,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if originalKeyID != nil {
			var original models.OriginalKey
			if err := tx.Where("id = ?", *originalKeyID).First(&original).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apierror.Validation("Linked original key does not exist")
				}
				return err
			}
		}
		if err := tx.Create(key).Error; err != nil {
			return fmt.Errorf("failed to create custom key: %w", err)
		}
		if originalKeyID != nil {
			mapping := &models.KeyMapping{CustomAPIKey: key.APIKey, OriginalKeyID: *originalKeyID}
			if err := tx.Create(mapping).Error; err != nil {
				return fmt.Errorf("failed to create key mapping: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Sugar.Infow("custom key created", "id", key.ID, "name", key.Name)
	return key, nil
}

func (s *KeyService) CreateOriginalKey(name, apiKey, endpoint string) (*models.OriginalKey, error) {
	if name == "" || apiKey == "" || endpoint == "" {
		return nil, apierror.Validation("Name, API key, and endpoint are required")
	}

	key := &models.OriginalKey{
		ID:        uuid.New().String(),
		Name:      name,
		APIKey:    apiKey,
		Endpoint:  endpoint,
		Status:    models.KeyStatusActive,
		CreatedAt: time.Now(),
	}

	if err := s.db.Create(key).Error; err != nil {
		return nil, fmt.Errorf("failed to create original key: %w", err)
	}

	logger.Sugar.Infow("original key created", "id", key.ID, "name", key.Name)
	return key, nil
}

// ValidateKey reports whether an active custom key with this secret exists.
func (s *KeyService) ValidateKey(apiKey string) bool {
	var count int64
	s.db.Model(&models.CustomKey{}).
		Where("api_key = ? AND status = ?", apiKey, models.KeyStatusActive).
		Count(&count)
	return count > 0
}

// GetKeyInfo returns the custom key record for a secret, or nil if unknown.
func (s *KeyService) GetKeyInfo(apiKey string) (*models.CustomKey, error) {
	var key models.CustomKey
	err := s.db.Where("api_key = ?", apiKey).First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

// RecordUsage bumps the key's usage counter, its last-used timestamp, and
// today's ledger cell. Unknown keys are a silent no-op: metering must never
// fail a request that already succeeded.
func (s *KeyService) RecordUsage(apiKey string) {
	now := time.Now()
	today := now.Format("2006-01-02")

	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CustomKey{}).
			Where("api_key = ?", apiKey).
			Updates(map[string]interface{}{
				"usage_count": gorm.Expr("usage_count + 1"),
				"last_used":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Key deleted between the request and the metering write.
			return nil
		}

		var cell models.DailyUsage
		err := tx.Where("date = ? AND custom_api_key = ?", today, apiKey).First(&cell).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cell = models.DailyUsage{Date: today, CustomAPIKey: apiKey}
		} else if err != nil {
			return err
		}
		cell.Count++
		return tx.Save(&cell).Error
	})
	if err != nil {
		logger.Sugar.Warnw("failed to record usage", "error", err)
	}
}

// ResolveOriginalKey follows the mapping from a custom key's secret to its
// original key record. Returns nil when there is no mapping or the target
// was deleted.
func (s *KeyService) ResolveOriginalKey(customAPIKey string) (*models.OriginalKey, error) {
	var mapping models.KeyMapping
	err := s.db.Where("custom_api_key = ?", customAPIKey).First(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var original models.OriginalKey
	err = s.db.Where("id = ?", mapping.OriginalKeyID).First(&original).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &original, nil
}

// MaskAPIKey truncates a secret for display.
func MaskAPIKey(apiKey string) string {
	if len(apiKey) <= 10 {
		return apiKey
	}
	return apiKey[:10] + "..."
}

// ListCustomKeys returns all custom keys annotated with the linked original
// key's name. When masked, secrets are truncated for display.
func (s *KeyService) ListCustomKeys(masked bool) ([]models.CustomKeyView, error) {
	var keys []models.CustomKey
	if err := s.db.Order("created_at DESC").Find(&keys).Error; err != nil {
		return nil, err
	}

	var originals []models.OriginalKey
	if err := s.db.Find(&originals).Error; err != nil {
		return nil, err
	}
	namesByID := make(map[string]string, len(originals))
	for _, o := range originals {
		namesByID[o.ID] = o.Name
	}

	views := make([]models.CustomKeyView, 0, len(keys))
	for _, k := range keys {
		view := models.CustomKeyView{CustomKey: k, APIKey: k.APIKey}
		if masked {
			view.APIKey = MaskAPIKey(k.APIKey)
		}
		if k.OriginalKeyID != nil {
			if name, ok := namesByID[*k.OriginalKeyID]; ok {
				view.OriginalKeyName = &name
			}
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *KeyService) ListOriginalKeys() ([]models.OriginalKey, error) {
	var keys []models.OriginalKey
	err := s.db.Order("created_at DESC").Find(&keys).Error
	return keys, err
}

// UpdateKeyMapping points a custom key at a different original key, keeping
// the denormalized OriginalKeyID in step.
func (s *KeyService) UpdateKeyMapping(customAPIKey, originalKeyID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var original models.OriginalKey
		if err := tx.Where("id = ?", originalKeyID).First(&original).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierror.NotFound("Original key not found")
			}
			return err
		}

		mapping := models.KeyMapping{CustomAPIKey: customAPIKey, OriginalKeyID: originalKeyID}
		if err := tx.Save(&mapping).Error; err != nil {
			return fmt.Errorf("failed to update key mapping: %w", err)
		}

		return tx.Model(&models.CustomKey{}).
			Where("api_key = ?", customAPIKey).
			Update("original_key_id", originalKeyID).Error
	})
}

// DeleteCustomKey removes the key record and any mapping entry keyed by its
// secret.
func (s *KeyService) DeleteCustomKey(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var key models.CustomKey
		if err := tx.Where("id = ?", id).First(&key).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierror.NotFound("API key not found")
			}
			return err
		}

		if err := tx.Where("custom_api_key = ?", key.APIKey).Delete(&models.KeyMapping{}).Error; err != nil {
			return err
		}
		return tx.Delete(&key).Error
	})
}

// DeleteOriginalKey removes the record and cascades: every custom key that
// referenced it is unlinked, and every mapping entry targeting it is removed.
func (s *KeyService) DeleteOriginalKey(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var key models.OriginalKey
		if err := tx.Where("id = ?", id).First(&key).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierror.NotFound("Original API key not found")
			}
			return err
		}

		if err := tx.Where("original_key_id = ?", id).Delete(&models.KeyMapping{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.CustomKey{}).
			Where("original_key_id = ?", id).
			Update("original_key_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&key).Error
	})
}

// UsageStats aggregates the full custom key set plus the raw usage ledger.
func (s *KeyService) UsageStats() (*models.UsageStats, error) {
	stats := &models.UsageStats{
		DailyUsage: make(map[string]map[string]int),
	}

	if err := s.db.Model(&models.CustomKey{}).Count(&stats.TotalKeys).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.CustomKey{}).
		Where("status = ?", models.KeyStatusActive).
		Count(&stats.ActiveKeys).Error; err != nil {
		return nil, err
	}

	var total *int64
	if err := s.db.Model(&models.CustomKey{}).
		Select("COALESCE(SUM(usage_count), 0)").
		Scan(&total).Error; err != nil {
		return nil, err
	}
	if total != nil {
		stats.TotalUsage = *total
	}

	var cells []models.DailyUsage
	if err := s.db.Find(&cells).Error; err != nil {
		return nil, err
	}
	for _, c := range cells {
		day, ok := stats.DailyUsage[c.Date]
		if !ok {
			day = make(map[string]int)
			stats.DailyUsage[c.Date] = day
		}
		day[c.CustomAPIKey] = c.Count
	}

	return stats, nil
}
