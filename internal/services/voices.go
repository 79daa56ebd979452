package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tts-gateway/internal/apierror"
	"tts-gateway/internal/config"
	"tts-gateway/internal/logger"
	"tts-gateway/internal/models"

	"github.com/patrickmn/go-cache"
)

const catalogCacheKey = "catalog"

// RawVoice is a voice as reported by the upstream provider, before
// dedupe and enrichment.
type RawVoice struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Engine   string `json:"engine"`
}

// GenderClassifier derives a gender label from a voice name. The default
// implementation is a curated-name-list heuristic; it is a field so a
// better classifier can be swapped in.
type GenderClassifier func(name string) string

// VoiceCatalog fetches, enriches, and caches the upstream voice list.
//
// The provider has no dedicated list endpoint, so the fetch deliberately
// sends an invalid voice identifier and reads the full catalog out of the
// structured error response. The enriched catalog is held in a go-cache
// entry whose TTL is the freshness window, and persisted as a JSON snapshot
// whose mtime serves as the freshness clock across restarts.
type VoiceCatalog struct {
	mu             sync.Mutex
	memory         *cache.Cache
	snapshotPath   string
	ttl            time.Duration
	client         *http.Client
	endpoint       string
	apiKey         string
	ClassifyGender GenderClassifier
}

func NewVoiceCatalog(cfg *config.Config) *VoiceCatalog {
	ttl := time.Duration(cfg.Voices.TTLMinutes) * time.Minute
	return &VoiceCatalog{
		memory:       cache.New(ttl, 2*ttl),
		snapshotPath: cfg.Voices.CachePath,
		ttl:          ttl,
		client: &http.Client{
			Timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		endpoint:       cfg.Upstream.Endpoint,
		apiKey:         cfg.Upstream.APIKey,
		ClassifyGender: classifyGenderByName,
	}
}

// FetchFromUpstream requests the catalog by triggering the provider's
// invalid-voice error response, which carries available_voices. Any 2xx-4xx
// status is acceptable; what matters is the field being present.
func (c *VoiceCatalog) FetchFromUpstream() ([]RawVoice, error) {
	if c.endpoint == "" {
		return nil, apierror.UpstreamUnavailable("Upstream TTS endpoint not configured")
	}

	q := url.Values{}
	q.Set("text", "test")
	q.Set("voice", "invalid-voice-name")

	req, err := http.NewRequest(http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apierror.UpstreamUnavailable("Failed to reach upstream TTS service")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, apierror.UpstreamUnavailable(fmt.Sprintf("Upstream returned status %d", resp.StatusCode))
	}

	var body struct {
		AvailableVoices []RawVoice `json:"available_voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apierror.UpstreamUnavailable("Invalid response from upstream TTS service")
	}
	if len(body.AvailableVoices) == 0 {
		return nil, apierror.UpstreamUnavailable("No available_voices in upstream response")
	}

	logger.Sugar.Infow("fetched voices from upstream", "count", len(body.AvailableVoices))
	return body.AvailableVoices, nil
}

// DedupeAndEnrich drops duplicate (name, language, engine) triples (first
// occurrence wins) and attaches the derived id, category, gender, and
// quality fields.
func (c *VoiceCatalog) DedupeAndEnrich(raw []RawVoice) []models.Voice {
	seen := make(map[string]bool, len(raw))
	voices := make([]models.Voice, 0, len(raw))

	for _, r := range raw {
		id := r.Name + "-" + r.Language + "-" + r.Engine
		if seen[id] {
			continue
		}
		seen[id] = true

		voices = append(voices, models.Voice{
			ID:       id,
			Name:     r.Name,
			Language: r.Language,
			Engine:   r.Engine,
			Category: voiceCategory(r.Name, r.Language),
			Gender:   c.ClassifyGender(r.Name),
			Quality:  voiceQuality(r.Engine),
		})
	}
	return voices
}

func voiceCategory(name, language string) string {
	for _, celeb := range celebrityVoiceNames {
		if name == celeb {
			return "celebrity"
		}
	}
	if len(language) >= 2 {
		prefix := language[:2]
		if cat, ok := languageCategories[prefix]; ok && (language == prefix || strings.HasPrefix(language, prefix+"-")) {
			return cat
		}
	}
	return "other"
}

func classifyGenderByName(name string) string {
	lower := strings.ToLower(name)
	for _, n := range femaleVoiceNames {
		if lower == n {
			return models.GenderFemale
		}
	}
	for _, n := range maleVoiceNames {
		if lower == n {
			return models.GenderMale
		}
	}
	return models.GenderUnknown
}

func voiceQuality(engine string) string {
	switch engine {
	case "neural", "resemble":
		return models.QualityHigh
	case "azure", "speechify":
		return models.QualityMedium
	case "standard":
		return models.QualityBasic
	default:
		return models.QualityMedium
	}
}

// LoadAll returns the catalog, refreshing it when the freshness window has
// expired. The swap is atomic: callers either see the previous snapshot or
// the complete new one. Failure to refresh falls back to the last persisted
// snapshot, else an empty catalog.
func (c *VoiceCatalog) LoadAll() []models.Voice {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, found := c.memory.Get(catalogCacheKey); found {
		return cached.([]models.Voice)
	}

	// Cold start: a fresh-enough snapshot file seeds the window without an
	// upstream round trip. The file's mtime is the freshness clock.
	if voices, age, err := c.readSnapshot(); err == nil && age < c.ttl {
		c.memory.Set(catalogCacheKey, voices, c.ttl-age)
		logger.Sugar.Infow("using cached voice snapshot", "count", len(voices), "age", age.Round(time.Second))
		return voices
	}

	return c.refreshLocked()
}

// ForceRefresh discards any cached snapshot and refetches, ignoring the
// freshness window.
func (c *VoiceCatalog) ForceRefresh() ([]models.Voice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.memory.Delete(catalogCacheKey)
	os.Remove(c.snapshotPath)

	raw, err := c.FetchFromUpstream()
	if err != nil {
		return nil, err
	}
	voices := c.DedupeAndEnrich(raw)
	c.store(voices)
	return voices, nil
}

// refreshLocked fetches and enriches a new catalog. Caller holds c.mu.
func (c *VoiceCatalog) refreshLocked() []models.Voice {
	raw, err := c.FetchFromUpstream()
	if err != nil {
		logger.Sugar.Warnw("voice fetch failed, falling back to snapshot", "error", err)
		if voices, _, snapErr := c.readSnapshot(); snapErr == nil {
			c.memory.Set(catalogCacheKey, voices, c.ttl)
			return voices
		}
		return []models.Voice{}
	}

	voices := c.DedupeAndEnrich(raw)
	c.store(voices)
	return voices
}

func (c *VoiceCatalog) store(voices []models.Voice) {
	c.memory.Set(catalogCacheKey, voices, c.ttl)
	if err := c.writeSnapshot(voices); err != nil {
		logger.Sugar.Warnw("failed to persist voice snapshot", "error", err)
	}
}

func (c *VoiceCatalog) readSnapshot() ([]models.Voice, time.Duration, error) {
	info, err := os.Stat(c.snapshotPath)
	if err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(c.snapshotPath)
	if err != nil {
		return nil, 0, err
	}
	var voices []models.Voice
	if err := json.Unmarshal(data, &voices); err != nil {
		return nil, 0, err
	}
	if len(voices) == 0 {
		return nil, 0, fmt.Errorf("empty voice snapshot")
	}
	return voices, time.Since(info.ModTime()), nil
}

// writeSnapshot replaces the snapshot via temp file + rename so a partial
// catalog is never visible on disk.
func (c *VoiceCatalog) writeSnapshot(voices []models.Voice) error {
	data, err := json.MarshalIndent(voices, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.snapshotPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "voices-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.snapshotPath)
}

// Query applies the given filters with logical AND over the current
// catalog. Result order follows catalog order.
func (c *VoiceCatalog) Query(filters models.VoiceFilters) []models.Voice {
	voices := c.LoadAll()
	result := make([]models.Voice, 0, len(voices))

	for _, v := range voices {
		if filters.Language != "" && !strings.Contains(strings.ToLower(v.Language), strings.ToLower(filters.Language)) {
			continue
		}
		if filters.Engine != "" && !strings.EqualFold(v.Engine, filters.Engine) {
			continue
		}
		if filters.Gender != "" && !strings.EqualFold(v.Gender, filters.Gender) {
			continue
		}
		if filters.Category != "" && !strings.EqualFold(v.Category, filters.Category) {
			continue
		}
		if filters.Search != "" {
			term := strings.ToLower(filters.Search)
			if !strings.Contains(strings.ToLower(v.Name), term) &&
				!strings.Contains(strings.ToLower(v.Language), term) &&
				!strings.Contains(strings.ToLower(v.Engine), term) {
				continue
			}
		}
		result = append(result, v)
	}
	return result
}

// GetByID returns the voice with the given derived id, or nil.
func (c *VoiceCatalog) GetByID(id string) *models.Voice {
	for _, v := range c.LoadAll() {
		if v.ID == id {
			voice := v
			return &voice
		}
	}
	return nil
}

// GetByName returns the first voice with the given name, or nil.
func (c *VoiceCatalog) GetByName(name string) *models.Voice {
	for _, v := range c.LoadAll() {
		if v.Name == name {
			voice := v
			return &voice
		}
	}
	return nil
}

// Resolve looks a voice up by derived id first, then by exact name.
func (c *VoiceCatalog) Resolve(identifier string) *models.Voice {
	if v := c.GetByID(identifier); v != nil {
		return v
	}
	return c.GetByName(identifier)
}

// Stats builds four independent frequency tables over the current catalog.
func (c *VoiceCatalog) Stats() *models.VoiceStats {
	voices := c.LoadAll()
	stats := &models.VoiceStats{
		Total:      len(voices),
		ByLanguage: make(map[string]int),
		ByEngine:   make(map[string]int),
		ByGender:   make(map[string]int),
		ByCategory: make(map[string]int),
	}
	for _, v := range voices {
		lang := v.Language
		if i := strings.Index(lang, "-"); i > 0 {
			lang = lang[:i]
		}
		stats.ByLanguage[lang]++
		stats.ByEngine[v.Engine]++
		stats.ByGender[v.Gender]++
		stats.ByCategory[v.Category]++
	}
	return stats
}

func qualityRank(quality string) int {
	switch quality {
	case models.QualityHigh:
		return 0
	case models.QualityMedium:
		return 1
	default:
		return 2
	}
}

// SortByQuality orders voices high > medium > everything else, in place.
// The sort is stable: equal quality preserves prior relative order.
func SortByQuality(voices []models.Voice) {
	sort.SliceStable(voices, func(i, j int) bool {
		return qualityRank(voices[i].Quality) < qualityRank(voices[j].Quality)
	})
}
