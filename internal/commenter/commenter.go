// Package commenter turns a comment request into a generated comment: it
// authenticates the API key, charges a credit, resolves the user's
// auto-commenter configuration and asks the language model.
package commenter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/olly-social/olly/internal/guidelines"
	"github.com/olly-social/olly/internal/llm"
	"github.com/olly-social/olly/internal/logger"
	"github.com/olly-social/olly/internal/models"
)

const (
	defaultVendor = "olly"
	commentCost   = 1
)

var (
	ErrInvalidAPIKey  = errors.New("Invalid API key")
	ErrInactiveAPIKey = errors.New("Invalid or inactive API key")
)

type apiKeyKeeper interface {
	GetAPIKey(ctx context.Context, key string) (*models.APIKey, error)
}

type creditDeductor interface {
	DeductCredits(ctx context.Context, apiKey string, amount int, description string) error
}

type configKeeper interface {
	GetAutoCommenterConfig(ctx context.Context, licenseKey string, platform string) (*models.AutoCommenterConfig, error)
}

type storage interface {
	apiKeyKeeper
	creditDeductor
	configKeeper
}

type completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

type usageRecorder interface {
	EnqueueUsage(usage *models.APIUsage)
}

type summaryFetcher interface {
	LatestSummary(ctx context.Context, key string) (string, error)
}

type Service struct {
	db        storage
	model     completer
	usage     usageRecorder
	summaries summaryFetcher
}

func New(db storage, model completer, usage usageRecorder, summaries summaryFetcher) *Service {
	return &Service{
		db:        db,
		model:     model,
		usage:     usage,
		summaries: summaries,
	}
}

// Authenticate returns the stored record of an active API key.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*models.APIKey, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrInvalidAPIKey
	}

	record, err := s.db.GetAPIKey(ctx, apiKey)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}
	if !record.IsActive {
		return nil, ErrInactiveAPIKey
	}

	return record, nil
}

// ChargeDescription is the ledger text of one comment generation.
func ChargeDescription(vendor string) string {
	if strings.EqualFold(vendor, defaultVendor) {
		return "API usage - Auto Comment"
	}

	return fmt.Sprintf("API usage - Auto Comment (%s)", vendor)
}

// GenerateComment charges the owner of apiKey one credit and returns the
// generated comment.
func (s *Service) GenerateComment(
	ctx context.Context,
	apiKey string,
	request *models.CommentRequest,
) (*models.CommentResult, error) {
	record, err := s.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	vendor := request.Vendor
	if vendor == "" {
		vendor = record.Vendor
	}
	if vendor == "" {
		vendor = defaultVendor
	}

	if err := s.db.DeductCredits(ctx, apiKey, commentCost, ChargeDescription(vendor)); err != nil {
		return nil, err
	}

	cfg := s.userConfig(ctx, request.LicenseKey, request.Platform)
	logger.Log.Debugw(
		"comment configuration resolved",
		"config_applied", cfg != nil,
		"brand_voice_enabled", cfg != nil && cfg.UseBrandVoice,
		"brand_summary_available", cfg.BrandVoiceActive(),
	)

	instructions := guidelines.Build(request.Platform, request.ContentToCommentOn, request.PreferredTone, cfg)
	comment, err := s.model.Complete(ctx, buildMessages(request, instructions, cfg.BrandVoiceActive()))
	if err != nil {
		return nil, err
	}

	s.usage.EnqueueUsage(&models.APIUsage{
		APIKey:   apiKey,
		Content:  comment,
		Prompt:   request.ContentToCommentOn,
		Platform: request.Platform,
	})

	return &models.CommentResult{
		GeneratedComment: comment,
		ConfigApplied:    cfg != nil,
		BrandVoiceUsed:   cfg.BrandVoiceActive(),
	}, nil
}

func buildMessages(request *models.CommentRequest, instructions string, brandVoiceActive bool) []llm.Message {
	messages := []llm.Message{llm.SystemMessage(guidelines.SystemPrompt(instructions, brandVoiceActive))}
	for _, entry := range request.ThreadHistory {
		messages = append(messages, llm.UserMessage(entry.Content))
	}

	additionalContext := ""
	if request.Context != "" {
		additionalContext = "Additional context: " + request.Context
	}
	text := fmt.Sprintf(
		"Content to comment on: %s\n%s\n\nCreate a human-like comment that responds to this content naturally and authentically, as if written by a real person with genuine thoughts and emotions.",
		request.ContentToCommentOn,
		additionalContext,
	)

	return append(messages, llm.UserParts(text, request.Images...))
}

// userConfig returns nil when the license has no configuration for the
// platform or it cannot be read.
func (s *Service) userConfig(ctx context.Context, licenseKey, platform string) *guidelines.Config {
	if licenseKey == "" || platform == "" {
		return nil
	}

	stored, err := s.db.GetAutoCommenterConfig(ctx, licenseKey, platform)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			logger.Log.Errorw("error retrieving user configuration", zap.Error(err))
		}
		return nil
	}

	cfg := &guidelines.Config{
		UseBrandVoice:  stored.UseBrandVoice,
		PromoteProduct: stored.PromoteProduct,
		ProductDetails: stored.ProductDetails,
		PromptMode:     guidelines.PromptMode(stored.PromptMode),
	}
	if cfg.PromptMode == "" {
		cfg.PromptMode = guidelines.PromptModeAutomatic
	}
	if cfg.PromptMode == guidelines.PromptModeCustom && len(stored.CustomPrompts) > 0 {
		first := stored.CustomPrompts[0]
		cfg.CustomPrompt = &guidelines.CustomPrompt{ID: first.ID, Title: first.Title, Text: first.Text}
	}

	if cfg.UseBrandVoice {
		summary, err := s.summaries.LatestSummary(ctx, licenseKey)
		if err != nil {
			logger.Log.Errorw("error fetching brand summary", zap.Error(err))
		} else {
			cfg.BrandSummary = summary
		}
	}

	return cfg
}
