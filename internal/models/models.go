// Package models holds the wire payloads, stored rows and sentinel errors
// shared by the storage, service and router layers.
package models

import (
	"errors"
	"fmt"
	"time"
)

type ThreadMessage struct {
	Content string `json:"content"`
}

type CommentRequest struct {
	Vendor             string          `json:"vendor"`
	LicenseKey         string          `json:"license_key"`
	ContentToCommentOn string          `json:"content_to_comment_on" validate:"required"`
	Platform           string          `json:"platform"`
	Context            string          `json:"context"`
	PreferredTone      string          `json:"preferred_tone"`
	ThreadHistory      []ThreadMessage `json:"thread_history"`
	Images             []string        `json:"images" validate:"omitempty,dive,url"`
	PostID             string          `json:"post_id"`
}

type CommentResult struct {
	GeneratedComment string `json:"generatedComment"`
	ConfigApplied    bool   `json:"configApplied"`
	BrandVoiceUsed   bool   `json:"brandVoiceUsed"`
}

type CommentResponse struct {
	Success bool           `json:"success"`
	Data    *CommentResult `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type WebhookResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

type CronResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type InternalStats struct {
	Users          int64 `json:"users"`
	ActiveLicenses int64 `json:"active_licenses"`
	APICalls       int64 `json:"api_calls"`
	RepliesSent    int64 `json:"replies_sent"`
}

type User struct {
	ID       string
	Email    string
	Username string
}

type APIKey struct {
	ID       string
	Key      string
	Vendor   string
	IsActive bool
}

type TransactionType string

const (
	TransactionSpent     TransactionType = "SPENT"
	TransactionPurchased TransactionType = "PURCHASED"
)

type UserCredit struct {
	ID      string
	UserID  string
	Balance int
}

type CreditTransaction struct {
	ID           string
	UserCreditID string
	Amount       int
	Type         TransactionType
	Description  string
	CreatedAt    time.Time
}

// WithdrawalDescription is the ledger text of a balance withdrawal.
func WithdrawalDescription(amount int, reason string) string {
	return fmt.Sprintf("%d LLM credits deducted due to %s", amount, reason)
}

type CustomPrompt struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

type AutoCommenterConfig struct {
	UserID         string
	Platform       string
	UseBrandVoice  bool
	PromoteProduct bool
	ProductDetails string
	PromptMode     string
	CustomPrompts  []CustomPrompt
}

type APIUsage struct {
	APIKey    string
	Content   string
	Prompt    string
	Platform  string
	CreatedAt time.Time
}

const PlatformInstagram = "INSTAGRAM"

type OAuthToken struct {
	ID          string
	UserID      string
	Platform    string
	AccessToken string
	ExpiresAt   time.Time
	IsValid     bool
}

type DMAutomation struct {
	ID        string
	UserID    string
	PostID    string
	IsEnabled bool
	DMRules   string
}

type DMRule struct {
	Keyword string `json:"keyword"`
	Message string `json:"message"`
}

const (
	ResponseTypePrivateReply = "private_reply"
	ResponseStatusSent       = "sent"
	ResponseStatusFailed     = "failed"
)

type CommentHistory struct {
	ID             string
	DMAutomationID string
	UserID         string
	PostID         string
	CommentID      string
	CommentText    string
	CommenterName  string
	ResponseType   string
	ResponseText   string
	ResponseStatus string
	ErrorMessage   string
	Processed      bool
	MatchedRules   bool
	RespondedAt    *time.Time
}

type LicenseStatus string

const (
	LicenseActive   LicenseStatus = "ACTIVE"
	LicenseInactive LicenseStatus = "INACTIVE"
)

type LicenseKey struct {
	ID             string
	Key            string
	IsActive       bool
	ActivatedAt    *time.Time
	IsMainKey      bool
	LemonProductID int
}

type SubLicense struct {
	ID             string
	Key            string
	Status         LicenseStatus
	MainLicenseKey string
}

const (
	InstallationInstalled   = "INSTALLED"
	InstallationUninstalled = "UNINSTALLED"
)

const PlanVendorLemon = "LEMON"

const (
	PlanDurationLifetime = "LIFETIME"
	PlanDurationMonthly  = "MONTHLY"
)

type Plan struct {
	ID        string
	Vendor    string
	ProductID string
	Tier      string
	Duration  string
	Name      string
	MaxUsers  int
	IsActive  bool
}

const (
	SubscriptionActive        = "ACTIVE"
	SubscriptionCancelled     = "CANCELLED"
	SubscriptionPaymentFailed = "PAYMENT_FAILED"
	SubscriptionPaused        = "PAUSED"
)

type Subscription struct {
	ID                string
	UserID            string
	PlanID            string
	Status            string
	VendorSubID       string
	OrderID           string
	CustomerID        string
	LicenseKeyID      string
	NextBillingDate   *time.Time
	LastBillingDate   *time.Time
	PaymentFailedDate *time.Time
	CancelledAt       *time.Time
	PausedAt          *time.Time
	ResumedAt         *time.Time
	EndDate           *time.Time
}

const (
	StorageTypeUnknown = iota
	StorageTypePostgresql
	StorageTypeMemory
)

var (
	ErrNotFound            = errors.New("not found")
	ErrNoUserForAPIKey     = errors.New("No user associated with this API key")
	ErrNoCreditAccount     = errors.New("User has no credit record")
	ErrInsufficientCredits = errors.New("Insufficient credits. Please add credits at https://www.olly.social/dashboard/plans")
)
