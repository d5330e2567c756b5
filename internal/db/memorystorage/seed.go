package memorystorage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/olly-social/olly/internal/models"
)

// Seed describes the fixtures a development instance starts with.
type Seed struct {
	Users []struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Credits  int    `json:"credits"`
		APIKeys  []struct {
			Key    string `json:"key"`
			Vendor string `json:"vendor"`
		} `json:"api_keys"`
		LicenseKeys []string `json:"license_keys"`
		Configs     []struct {
			Platform       string                `json:"platform"`
			UseBrandVoice  bool                  `json:"use_brand_voice"`
			PromoteProduct bool                  `json:"promote_product"`
			ProductDetails string                `json:"product_details"`
			PromptMode     string                `json:"prompt_mode"`
			CustomPrompts  []models.CustomPrompt `json:"custom_prompts"`
		} `json:"configs"`
	} `json:"users"`
}

// LoadSeedFile reads a JSON seed file and applies it.
func (s *MemoryStorage) LoadSeedFile(fileName string) error {
	content, err := os.ReadFile(fileName)
	if err != nil {
		return err
	}

	var seed Seed
	if err := json.Unmarshal(content, &seed); err != nil {
		return fmt.Errorf("in internal/db/memorystorage/seed.go/LoadSeedFile(): error while `json.Unmarshal()` calling: %w", err)
	}

	s.ApplySeed(&seed)

	return nil
}

// ApplySeed inserts the users of seed together with their keys, licenses,
// balances and configurations.
func (s *MemoryStorage) ApplySeed(seed *Seed) {
	for _, seededUser := range seed.Users {
		user := s.AddUser(seededUser.Email, seededUser.Username)
		s.SetCredits(user.ID, seededUser.Credits)
		for _, apiKey := range seededUser.APIKeys {
			s.AddAPIKey(user.ID, apiKey.Key, apiKey.Vendor, true)
		}
		for _, licenseKey := range seededUser.LicenseKeys {
			s.AddLicenseKey(user.ID, licenseKey)
		}
		for _, cfg := range seededUser.Configs {
			s.SaveAutoCommenterConfig(&models.AutoCommenterConfig{
				UserID:         user.ID,
				Platform:       cfg.Platform,
				UseBrandVoice:  cfg.UseBrandVoice,
				PromoteProduct: cfg.PromoteProduct,
				ProductDetails: cfg.ProductDetails,
				PromptMode:     cfg.PromptMode,
				CustomPrompts:  cfg.CustomPrompts,
			})
		}
	}
}

func (s *MemoryStorage) AddUser(email, username string) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertUser(email, username)
}

func (s *MemoryStorage) AddAPIKey(userID, key, vendor string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.apiKeys[key] = &models.APIKey{ID: uuid.NewString(), Key: key, Vendor: vendor, IsActive: active}
	if userID != "" {
		s.apiKeyUsers[key] = append(s.apiKeyUsers[key], userID)
	}
}

func (s *MemoryStorage) AddLicenseKey(userID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	license, ok := s.licenses[key]
	if !ok {
		license = &models.LicenseKey{ID: uuid.NewString(), Key: key, IsActive: true, IsMainKey: true}
		s.licenses[key] = license
	}
	s.licenseUsers[license.ID] = append(s.licenseUsers[license.ID], userID)
}

// SetCredits creates or overwrites the balance of the user. A negative
// balance removes the credit record.
func (s *MemoryStorage) SetCredits(userID string, balance int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if balance < 0 {
		delete(s.credits, userID)
		return
	}
	if credit, ok := s.credits[userID]; ok {
		credit.balance = balance
		return
	}
	s.credits[userID] = &userCredit{id: uuid.NewString(), balance: balance}
}

func (s *MemoryStorage) SaveAutoCommenterConfig(cfg *models.AutoCommenterConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *cfg
	s.configs[configKey(cfg.UserID, cfg.Platform)] = &stored
}

func (s *MemoryStorage) SaveOAuthToken(token models.OAuthToken) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	s.oauthTokens[token.ID] = &token

	return token.ID
}

func (s *MemoryStorage) SaveDMAutomation(automation models.DMAutomation) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if automation.ID == "" {
		automation.ID = uuid.NewString()
	}
	s.dmAutomations[automation.ID] = &automation

	return automation.ID
}

func (s *MemoryStorage) Balance(userID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credit, ok := s.credits[userID]
	if !ok {
		return 0, false
	}

	return credit.balance, true
}

func (s *MemoryStorage) Transactions() []models.CreditTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.CreditTransaction(nil), s.transactions...)
}

func (s *MemoryStorage) APIUsages() []models.APIUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.APIUsage(nil), s.usages...)
}

func (s *MemoryStorage) CommentHistory() []models.CommentHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.CommentHistory(nil), s.commentHistory...)
}

func (s *MemoryStorage) OAuthToken(id string) (models.OAuthToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.oauthTokens[id]
	if !ok {
		return models.OAuthToken{}, false
	}

	return *token, true
}

func (s *MemoryStorage) LicenseKey(key string) (models.LicenseKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	license, ok := s.licenses[key]
	if !ok {
		return models.LicenseKey{}, false
	}

	return *license, true
}

func (s *MemoryStorage) SubLicenses(mainKey string) []models.SubLicense {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.SubLicense{}
	for _, subLicense := range s.subLicenses {
		if subLicense.MainLicenseKey == mainKey {
			result = append(result, *subLicense)
		}
	}

	return result
}

func (s *MemoryStorage) Subscriptions(userID string) []models.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.Subscription{}
	for _, subscription := range s.subscriptions {
		if subscription.UserID == userID {
			result = append(result, *subscription)
		}
	}

	return result
}

func (s *MemoryStorage) InstallationCount(licenseKeyID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, entry := range s.installations {
		if entry.licenseKeyID == licenseKeyID {
			count++
		}
	}

	return count
}

func (s *MemoryStorage) HasLeaderboardEntry(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.leaderboard[userID]

	return ok
}

// SeedSubscription stores a subscription as is, keeping any preset ID.
func (s *MemoryStorage) SeedSubscription(subscription models.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if subscription.ID == "" {
		subscription.ID = uuid.NewString()
	}
	s.subscriptions = append(s.subscriptions, &subscription)
}

