package models

import (
	"time"
)

// CustomKey is a caller-facing credential issued by the gateway operator.
// The secret is immutable after creation; UsageCount only ever increases.
type CustomKey struct {
	ID            string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name          string     `gorm:"type:varchar(255);not null" json:"name"`
	APIKey        string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"apiKey"`
	Status        string     `gorm:"type:varchar(20);default:'active'" json:"status"`
	RateLimit     int        `gorm:"default:1000" json:"rateLimit"`
	UsageCount    int        `gorm:"default:0" json:"usageCount"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastUsed      *time.Time `json:"lastUsed"`
	OriginalKeyID *string    `gorm:"type:varchar(36);index" json:"originalKeyId"`
}

const (
	KeyStatusActive   = "active"
	KeyStatusDisabled = "disabled"
)

// OriginalKey is an upstream provider credential/endpoint pair that custom
// keys are routed against.
type OriginalKey struct {
	ID         string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name       string     `gorm:"type:varchar(255);not null" json:"name"`
	APIKey     string     `gorm:"type:varchar(255);not null" json:"apiKey"`
	Endpoint   string     `gorm:"type:varchar(500);not null" json:"endpoint"`
	Status     string     `gorm:"type:varchar(20);default:'active'" json:"status"`
	UsageCount int        `gorm:"default:0" json:"usageCount"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsed   *time.Time `json:"lastUsed"`
}

// KeyMapping indexes a custom key's raw secret to its original key id for
// fast lookup on the forwarding path. It is kept consistent with
// CustomKey.OriginalKeyID inside the same transaction whenever either side
// is written.
type KeyMapping struct {
	CustomAPIKey  string `gorm:"primaryKey;type:varchar(64)" json:"customApiKey"`
	OriginalKeyID string `gorm:"type:varchar(36);index;not null" json:"originalKeyId"`
}

// DailyUsage is one cell of the usage ledger: calls made with one custom
// key on one calendar day. Rows are only ever incremented.
type DailyUsage struct {
	ID           int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Date         string `gorm:"type:varchar(10);uniqueIndex:idx_date_key" json:"date"`
	CustomAPIKey string `gorm:"type:varchar(64);uniqueIndex:idx_date_key" json:"customApiKey"`
	Count        int    `gorm:"default:0" json:"count"`
}

// CustomKeyView is a CustomKey prepared for dashboard display: the secret
// may be masked and the linked original key's name is denormalized in.
type CustomKeyView struct {
	CustomKey
	APIKey          string  `json:"apiKey"`
	OriginalKeyName *string `json:"originalKeyName"`
}

// UsageStats aggregates the custom key set and the raw usage ledger.
type UsageStats struct {
	TotalKeys  int64                     `json:"totalKeys"`
	ActiveKeys int64                     `json:"activeKeys"`
	TotalUsage int64                     `json:"totalUsage"`
	DailyUsage map[string]map[string]int `json:"dailyUsage"`
}

// Voice is one entry of the enriched upstream catalog. ID is derived from
// the (name, language, engine) triple, which also defines uniqueness.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Engine   string `json:"engine"`
	Gender   string `json:"gender"`
	Category string `json:"category"`
	Quality  string `json:"quality"`
}

const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderUnknown = "unknown"

	QualityHigh   = "high"
	QualityMedium = "medium"
	QualityBasic  = "basic"
)

// VoiceFilters compose with logical AND. Language and Search are
// case-insensitive substring matches, the rest are exact.
type VoiceFilters struct {
	Language string
	Engine   string
	Gender   string
	Category string
	Search   string
}

// VoiceStats holds four independent frequency tables over the catalog.
// ByLanguage is keyed by the two-letter language prefix.
type VoiceStats struct {
	Total      int            `json:"total"`
	ByLanguage map[string]int `json:"byLanguage"`
	ByEngine   map[string]int `json:"byEngine"`
	ByGender   map[string]int `json:"byGender"`
	ByCategory map[string]int `json:"byCategory"`
}

// HistoryEntry is one playground synthesis result. Transient: the history
// ring is process-lifetime only.
type HistoryEntry struct {
	ID         string    `json:"id"`
	Audio      string    `json:"audio"`
	Timestamp  time.Time `json:"timestamp"`
	Voice      string    `json:"voice"`
	Text       string    `json:"text"`
	Duration   int       `json:"duration"`
	APIKey     string    `json:"apiKey"`
	APIKeyName string    `json:"apiKeyName"`
}
