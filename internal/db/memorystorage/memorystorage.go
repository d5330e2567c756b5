// Package memorystorage keeps every entity in process memory. It backs the
// service when no database DSN is configured and serves as a fake in tests.
package memorystorage

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/olly-social/olly/internal/models"
)

type userCredit struct {
	id      string
	balance int
}

type installation struct {
	licenseKeyID string
	status       string
}

type MemoryStorage struct {
	mu sync.RWMutex

	users          map[string]*models.User
	apiKeys        map[string]*models.APIKey
	apiKeyUsers    map[string][]string
	credits        map[string]*userCredit
	transactions   []models.CreditTransaction
	licenses       map[string]*models.LicenseKey
	licenseUsers   map[string][]string
	subLicenses    map[string]*models.SubLicense
	installations  []installation
	leaderboard    map[string]struct{}
	plans          map[string]*models.Plan
	subscriptions  []*models.Subscription
	configs        map[string]*models.AutoCommenterConfig
	usages         []models.APIUsage
	oauthTokens    map[string]*models.OAuthToken
	dmAutomations  map[string]*models.DMAutomation
	commentHistory []models.CommentHistory
}

func New() (*MemoryStorage, error) {
	return &MemoryStorage{
		users:         map[string]*models.User{},
		apiKeys:       map[string]*models.APIKey{},
		apiKeyUsers:   map[string][]string{},
		credits:       map[string]*userCredit{},
		licenses:      map[string]*models.LicenseKey{},
		licenseUsers:  map[string][]string{},
		subLicenses:   map[string]*models.SubLicense{},
		leaderboard:   map[string]struct{}{},
		plans:         map[string]*models.Plan{},
		configs:       map[string]*models.AutoCommenterConfig{},
		oauthTokens:   map[string]*models.OAuthToken{},
		dmAutomations: map[string]*models.DMAutomation{},
	}, nil
}

func (s *MemoryStorage) CommitTransaction(transaction *sql.Tx) error {
	return nil
}

func (s *MemoryStorage) RollbackTransaction(transaction *sql.Tx) error {
	return nil
}

func (s *MemoryStorage) BeginTransaction() (*sql.Tx, error) {
	return nil, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

func (s *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStorage) GetAPIKey(ctx context.Context, key string) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	apiKey, ok := s.apiKeys[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	result := *apiKey

	return &result, nil
}

func (s *MemoryStorage) DeductCredits(ctx context.Context, apiKey string, amount int, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.apiKeyUsers[apiKey]
	if len(users) == 0 {
		return models.ErrNoUserForAPIKey
	}

	credit, ok := s.credits[users[0]]
	if !ok {
		return models.ErrNoCreditAccount
	}
	if credit.balance < amount {
		return models.ErrInsufficientCredits
	}

	credit.balance -= amount
	s.recordTransaction(credit.id, -amount, models.TransactionSpent, description)

	return nil
}

func (s *MemoryStorage) AddCredits(
	ctx context.Context,
	userID string,
	amount int,
	description string,
	transaction *sql.Tx,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credit, ok := s.credits[userID]
	if !ok {
		credit = &userCredit{id: uuid.NewString()}
		s.credits[userID] = credit
	}
	credit.balance += amount
	s.recordTransaction(credit.id, amount, models.TransactionPurchased, description)

	return nil
}

func (s *MemoryStorage) WithdrawCredits(
	ctx context.Context,
	userID string,
	amount int,
	reason string,
	transaction *sql.Tx,
) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	credit, ok := s.credits[userID]
	if !ok {
		return 0, models.ErrNoCreditAccount
	}

	withdrawn := min(amount, credit.balance)
	if withdrawn <= 0 {
		return 0, nil
	}
	credit.balance -= withdrawn
	s.recordTransaction(credit.id, -withdrawn, models.TransactionPurchased, models.WithdrawalDescription(withdrawn, reason))

	return withdrawn, nil
}

func (s *MemoryStorage) recordTransaction(creditID string, amount int, txType models.TransactionType, description string) {
	s.transactions = append(s.transactions, models.CreditTransaction{
		ID:           uuid.NewString(),
		UserCreditID: creditID,
		Amount:       amount,
		Type:         txType,
		Description:  description,
		CreatedAt:    time.Now(),
	})
}

func (s *MemoryStorage) GetAutoCommenterConfig(
	ctx context.Context,
	licenseKey string,
	platform string,
) (*models.AutoCommenterConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	license, ok := s.licenses[licenseKey]
	if !ok || len(s.licenseUsers[license.ID]) == 0 {
		return nil, models.ErrNotFound
	}

	cfg, ok := s.configs[configKey(s.licenseUsers[license.ID][0], platform)]
	if !ok {
		return nil, models.ErrNotFound
	}
	result := *cfg

	return &result, nil
}

func (s *MemoryStorage) SaveAPIUsages(ctx context.Context, usages []models.APIUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usages = append(s.usages, usages...)

	return nil
}

func (s *MemoryStorage) ListActiveOAuthTokens(
	ctx context.Context,
	platform string,
	now time.Time,
) ([]models.OAuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.OAuthToken{}
	for _, token := range s.oauthTokens {
		if token.Platform == platform && token.IsValid && token.ExpiresAt.After(now) {
			result = append(result, *token)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (s *MemoryStorage) MarkOAuthTokenInvalid(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token, ok := s.oauthTokens[tokenID]; ok {
		token.IsValid = false
	}

	return nil
}

func (s *MemoryStorage) UpdateOAuthToken(
	ctx context.Context,
	tokenID string,
	encryptedToken string,
	expiresAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.oauthTokens[tokenID]
	if !ok {
		return models.ErrNotFound
	}
	token.AccessToken = encryptedToken
	token.ExpiresAt = expiresAt
	token.IsValid = true

	return nil
}

func (s *MemoryStorage) ListEnabledDMAutomations(ctx context.Context, userID string) ([]models.DMAutomation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.DMAutomation{}
	for _, automation := range s.dmAutomations {
		if automation.UserID == userID && automation.IsEnabled {
			result = append(result, *automation)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (s *MemoryStorage) ListProcessedCommentIDs(ctx context.Context, automationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]struct{}{}
	result := []string{}
	for _, entry := range s.commentHistory {
		if entry.DMAutomationID != automationID {
			continue
		}
		if _, ok := seen[entry.CommentID]; ok {
			continue
		}
		seen[entry.CommentID] = struct{}{}
		result = append(result, entry.CommentID)
	}

	return result, nil
}

func (s *MemoryStorage) SaveCommentHistory(ctx context.Context, entry *models.CommentHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	stored.ID = uuid.NewString()
	s.commentHistory = append(s.commentHistory, stored)

	return nil
}

func (s *MemoryStorage) FindUserByEmail(ctx context.Context, email string, transaction *sql.Tx) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Email == email {
			result := *user
			return &result, nil
		}
	}

	return nil, models.ErrNotFound
}

func (s *MemoryStorage) UpsertUser(
	ctx context.Context,
	email string,
	username string,
	transaction *sql.Tx,
) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertUser(email, username), nil
}

func (s *MemoryStorage) upsertUser(email, username string) *models.User {
	for _, user := range s.users {
		if user.Email == email {
			result := *user
			return &result
		}
	}

	user := &models.User{ID: uuid.NewString(), Email: email, Username: username}
	s.users[user.ID] = user
	result := *user

	return &result
}

func (s *MemoryStorage) UpsertLicenseKey(
	ctx context.Context,
	license *models.LicenseKey,
	transaction *sql.Tx,
) (*models.LicenseKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.licenses[license.Key]
	if !ok {
		stored = &models.LicenseKey{ID: uuid.NewString(), Key: license.Key}
		s.licenses[license.Key] = stored
	}
	stored.IsActive = license.IsActive
	if license.ActivatedAt != nil {
		activatedAt := *license.ActivatedAt
		stored.ActivatedAt = &activatedAt
	}
	stored.IsMainKey = license.IsMainKey
	stored.LemonProductID = license.LemonProductID
	result := *stored

	return &result, nil
}

func (s *MemoryStorage) FindLicenseKeyForUserProduct(
	ctx context.Context,
	userID string,
	productID int,
	transaction *sql.Tx,
) (*models.LicenseKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, license := range s.licenses {
		if license.LemonProductID != productID {
			continue
		}
		for _, linked := range s.licenseUsers[license.ID] {
			if linked == userID {
				result := *license
				return &result, nil
			}
		}
	}

	return nil, models.ErrNotFound
}

func (s *MemoryStorage) LinkUserLicenseKey(
	ctx context.Context,
	userID string,
	licenseKeyID string,
	transaction *sql.Tx,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, linked := range s.licenseUsers[licenseKeyID] {
		if linked == userID {
			return nil
		}
	}
	s.licenseUsers[licenseKeyID] = append(s.licenseUsers[licenseKeyID], userID)

	return nil
}

func (s *MemoryStorage) CreateInstallation(
	ctx context.Context,
	licenseKeyID string,
	status string,
	transaction *sql.Tx,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.installations = append(s.installations, installation{licenseKeyID: licenseKeyID, status: status})

	return nil
}

func (s *MemoryStorage) EnsureLeaderboardEntry(ctx context.Context, userID string, transaction *sql.Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leaderboard[userID] = struct{}{}

	return nil
}

func (s *MemoryStorage) CreateSubLicenses(
	ctx context.Context,
	subLicenses []models.SubLicense,
	transaction *sql.Tx,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, subLicense := range subLicenses {
		if existing, ok := s.subLicenses[subLicense.Key]; ok {
			existing.Status = subLicense.Status
			continue
		}
		stored := subLicense
		stored.ID = uuid.NewString()
		s.subLicenses[stored.Key] = &stored
	}

	return nil
}

func (s *MemoryStorage) UpdateSubLicensesStatus(
	ctx context.Context,
	mainKey string,
	status models.LicenseStatus,
	transaction *sql.Tx,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, subLicense := range s.subLicenses {
		if subLicense.MainLicenseKey == mainKey {
			subLicense.Status = status
		}
	}

	return nil
}

func (s *MemoryStorage) UpsertPlan(ctx context.Context, plan *models.Plan, transaction *sql.Tx) (*models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := plan.Vendor + "/" + plan.ProductID
	stored, ok := s.plans[key]
	if !ok {
		created := *plan
		created.ID = uuid.NewString()
		stored = &created
		s.plans[key] = stored
	}
	result := *stored

	return &result, nil
}

func (s *MemoryStorage) CancelActiveSubscriptions(
	ctx context.Context,
	userID string,
	endDate time.Time,
	transaction *sql.Tx,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, subscription := range s.subscriptions {
		if subscription.UserID == userID && subscription.Status == models.SubscriptionActive {
			end := endDate
			subscription.Status = models.SubscriptionCancelled
			subscription.EndDate = &end
		}
	}

	return nil
}

func (s *MemoryStorage) ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired int64
	for _, subscription := range s.subscriptions {
		if subscription.Status == models.SubscriptionActive && subscription.EndDate != nil && subscription.EndDate.Before(now) {
			subscription.Status = models.SubscriptionCancelled
			expired++
		}
	}

	return expired, nil
}

func (s *MemoryStorage) CreateSubscription(
	ctx context.Context,
	subscription *models.Subscription,
	transaction *sql.Tx,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subscription.ID = uuid.NewString()
	stored := *subscription
	s.subscriptions = append(s.subscriptions, &stored)

	return nil
}

func (s *MemoryStorage) FindSubscriptionByVendorID(
	ctx context.Context,
	vendorSubID string,
	transaction *sql.Tx,
) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, subscription := range s.subscriptions {
		if subscription.VendorSubID != "" && subscription.VendorSubID == vendorSubID {
			result := *subscription
			return &result, nil
		}
	}

	return nil, models.ErrNotFound
}

func (s *MemoryStorage) UpdateSubscription(
	ctx context.Context,
	subscription *models.Subscription,
	transaction *sql.Tx,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, stored := range s.subscriptions {
		if stored.ID == subscription.ID {
			updated := *subscription
			s.subscriptions[i] = &updated
			return nil
		}
	}

	return models.ErrNotFound
}

func (s *MemoryStorage) GetInternalStats(ctx context.Context) (*models.InternalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := &models.InternalStats{
		Users:    int64(len(s.users)),
		APICalls: int64(len(s.usages)),
	}
	for _, license := range s.licenses {
		if license.IsActive {
			result.ActiveLicenses++
		}
	}
	for _, entry := range s.commentHistory {
		if entry.ResponseStatus == models.ResponseStatusSent {
			result.RepliesSent++
		}
	}

	return result, nil
}

func configKey(userID, platform string) string {
	return userID + "/" + strings.ToUpper(platform)
}
