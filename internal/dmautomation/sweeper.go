// Package dmautomation answers Instagram comments with private replies. A
// sweep walks every connected Instagram account, reads new comments on the
// posts the user automated and sends the configured message for every
// keyword the comment contains.
package dmautomation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/olly-social/olly/internal/instagram"
	"github.com/olly-social/olly/internal/logger"
	"github.com/olly-social/olly/internal/models"
)

const (
	DefaultRefreshWindow = 7 * 24 * time.Hour
	maxErrorMessageRunes = 255
	unknownCommentID     = "unknown"
)

var ErrSweepInProgress = errors.New("an Instagram DM automation sweep is already running")

type tokenKeeper interface {
	ListActiveOAuthTokens(ctx context.Context, platform string, now time.Time) ([]models.OAuthToken, error)

	MarkOAuthTokenInvalid(ctx context.Context, tokenID string) error

	UpdateOAuthToken(ctx context.Context, tokenID string, encryptedToken string, expiresAt time.Time) error
}

type automationKeeper interface {
	ListEnabledDMAutomations(ctx context.Context, userID string) ([]models.DMAutomation, error)

	ListProcessedCommentIDs(ctx context.Context, automationID string) ([]string, error)

	SaveCommentHistory(ctx context.Context, entry *models.CommentHistory) error
}

type storage interface {
	tokenKeeper
	automationKeeper
}

type graphAPI interface {
	RefreshToken(ctx context.Context, accessToken string) (*instagram.RefreshedToken, error)

	ValidateToken(ctx context.Context, accessToken string) error

	BusinessAccountID(ctx context.Context, accessToken string) (string, error)

	VerifyPost(ctx context.Context, postID, accessToken string) error

	Comments(ctx context.Context, postID, accessToken string) ([]instagram.Comment, error)

	CommentsFromMedia(ctx context.Context, postID, accessToken string) ([]instagram.Comment, error)

	SendPrivateReply(ctx context.Context, igBusinessID, commentID, message, accessToken string) error
}

type tokenCipher interface {
	Encrypt(plaintext string) (string, error)

	Decrypt(encoded string) (string, error)
}

type replyObserver interface {
	ObserveReply(status string)
}

// Report summarises one sweep.
type Report struct {
	Accounts        int
	Comments        int
	RepliesSent     int
	RepliesFailed   int
	InvalidatedKeys int
}

type Sweeper struct {
	db            storage
	graph         graphAPI
	cipher        tokenCipher
	observer      replyObserver
	now           func() time.Time
	refreshWindow time.Duration
	running       sync.Mutex
}

type InitOption func(*Sweeper)

func WithClock(now func() time.Time) InitOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

// WithRefreshWindow sets how close to expiry a token is refreshed.
func WithRefreshWindow(window time.Duration) InitOption {
	return func(s *Sweeper) {
		s.refreshWindow = window
	}
}

func WithReplyObserver(observer replyObserver) InitOption {
	return func(s *Sweeper) {
		s.observer = observer
	}
}

func New(db storage, graph graphAPI, cipher tokenCipher, opts ...InitOption) *Sweeper {
	result := &Sweeper{
		db:            db,
		graph:         graph,
		cipher:        cipher,
		now:           time.Now,
		refreshWindow: DefaultRefreshWindow,
	}

	for _, opt := range opts {
		opt(result)
	}

	return result
}

// Run performs one sweep. Only a failure to list tokens is returned; every
// other failure is logged and the sweep moves on. Overlapping calls fail
// with ErrSweepInProgress.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	if !s.running.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.running.Unlock()

	tokens, err := s.db.ListActiveOAuthTokens(ctx, models.PlatformInstagram, s.now())
	if err != nil {
		return nil, fmt.Errorf("listing instagram tokens: %w", err)
	}
	logger.Log.Infof("found %d users with valid Instagram tokens", len(tokens))

	report := &Report{}
	for _, token := range tokens {
		if ctx.Err() != nil {
			break
		}
		s.processToken(ctx, token, report)
	}

	logger.Log.Infow(
		"instagram DM automation sweep completed",
		"accounts", report.Accounts,
		"comments", report.Comments,
		"replies_sent", report.RepliesSent,
		"replies_failed", report.RepliesFailed,
		"invalidated_tokens", report.InvalidatedKeys,
	)

	return report, nil
}

func (s *Sweeper) invalidate(ctx context.Context, token models.OAuthToken, report *Report) {
	report.InvalidatedKeys++
	if err := s.db.MarkOAuthTokenInvalid(ctx, token.ID); err != nil {
		logger.Log.Errorw("failed to mark token as invalid", "token_id", token.ID, zap.Error(err))
	}
}

func (s *Sweeper) processToken(ctx context.Context, token models.OAuthToken, report *Report) {
	accessToken, err := s.cipher.Decrypt(token.AccessToken)
	if err != nil || strings.TrimSpace(accessToken) == "" {
		logger.Log.Errorw("stored token cannot be decrypted", "user_id", token.UserID, zap.Error(err))
		s.invalidate(ctx, token, report)
		return
	}

	if token.ExpiresAt.Before(s.now().Add(s.refreshWindow)) {
		logger.Log.Infow("token is about to expire, refreshing", "token_id", token.ID, "user_id", token.UserID)
		if refreshed := s.refresh(ctx, token, accessToken); refreshed != "" {
			accessToken = refreshed
		}
	}

	err = s.graph.ValidateToken(ctx, accessToken)
	if err != nil {
		var graphErr *instagram.GraphError
		logger.Log.Errorw("token validation failed", "token_id", token.ID, zap.Error(err))
		if instagram.IsInvalidToken(err) || !errors.As(err, &graphErr) {
			s.invalidate(ctx, token, report)
		}
		return
	}

	igBusinessID, err := s.graph.BusinessAccountID(ctx, accessToken)
	if err != nil {
		logger.Log.Errorw("no Instagram user id found", "user_id", token.UserID, zap.Error(err))
		return
	}
	report.Accounts++

	automations, err := s.db.ListEnabledDMAutomations(ctx, token.UserID)
	if err != nil {
		logger.Log.Errorw("failed to list DM automations", "user_id", token.UserID, zap.Error(err))
		return
	}
	logger.Log.Debugf("found %d active DM configurations for user %s", len(automations), token.UserID)

	for _, automation := range automations {
		s.processAutomation(ctx, automation, igBusinessID, accessToken, report)
	}
}

// refresh returns the new plaintext token, or "" when the refresh failed.
func (s *Sweeper) refresh(ctx context.Context, token models.OAuthToken, accessToken string) string {
	refreshed, err := s.graph.RefreshToken(ctx, accessToken)
	if err != nil {
		logger.Log.Errorw("token refresh failed", "token_id", token.ID, zap.Error(err))
		return ""
	}

	encrypted, err := s.cipher.Encrypt(refreshed.AccessToken)
	if err != nil {
		logger.Log.Errorw("refreshed token cannot be encrypted", "token_id", token.ID, zap.Error(err))
		return ""
	}

	if err := s.db.UpdateOAuthToken(ctx, token.ID, encrypted, s.now().Add(refreshed.ExpiresIn)); err != nil {
		logger.Log.Errorw("refreshed token cannot be stored", "token_id", token.ID, zap.Error(err))
		return ""
	}
	logger.Log.Infow("token refreshed", "token_id", token.ID)

	return refreshed.AccessToken
}

func (s *Sweeper) processAutomation(
	ctx context.Context,
	automation models.DMAutomation,
	igBusinessID string,
	accessToken string,
	report *Report,
) {
	if err := s.graph.VerifyPost(ctx, automation.PostID, accessToken); err != nil {
		logger.Log.Errorw("post does not exist or is inaccessible", "post_id", automation.PostID, zap.Error(err))
		return
	}

	comments := s.fetchComments(ctx, automation.PostID, accessToken)
	if len(comments) == 0 {
		logger.Log.Debugw("no comments found", "post_id", automation.PostID)
		return
	}

	processedIDs, err := s.db.ListProcessedCommentIDs(ctx, automation.ID)
	if err != nil {
		logger.Log.Errorw("failed to read comment history", "automation_id", automation.ID, zap.Error(err))
		return
	}
	processed := make(map[string]struct{}, len(processedIDs))
	for _, id := range processedIDs {
		processed[id] = struct{}{}
	}

	rules := ParseRules(automation.DMRules)
	for _, comment := range comments {
		if _, ok := processed[comment.ID]; ok {
			continue
		}
		report.Comments++
		if err := s.processComment(ctx, automation, rules, comment, igBusinessID, accessToken, report); err != nil {
			logger.Log.Errorw("error processing comment", "comment_id", comment.ID, zap.Error(err))
			s.saveFailure(ctx, automation, comment.ID, err)
		}
	}
}

// fetchComments tries the comments edge first and the media fields second.
func (s *Sweeper) fetchComments(ctx context.Context, postID, accessToken string) []instagram.Comment {
	comments, err := s.graph.Comments(ctx, postID, accessToken)
	if err == nil && len(comments) > 0 {
		return comments
	}
	if err != nil {
		logger.Log.Errorw("failed to fetch comments", "post_id", postID, zap.Error(err))
	}

	comments, err = s.graph.CommentsFromMedia(ctx, postID, accessToken)
	if err != nil {
		logger.Log.Errorw("failed to fetch comments from media", "post_id", postID, zap.Error(err))
		return nil
	}

	return comments
}

func (s *Sweeper) processComment(
	ctx context.Context,
	automation models.DMAutomation,
	rules []models.DMRule,
	comment instagram.Comment,
	igBusinessID string,
	accessToken string,
	report *Report,
) error {
	if comment.Text == "" || comment.Username == "" {
		logger.Log.Debugw("skipping comment without text or username", "comment_id", comment.ID)
		return nil
	}

	entry := func() *models.CommentHistory {
		return &models.CommentHistory{
			DMAutomationID: automation.ID,
			UserID:         automation.UserID,
			PostID:         automation.PostID,
			CommentID:      comment.ID,
			CommentText:    comment.Text,
			CommenterName:  comment.Username,
			Processed:      true,
		}
	}

	matching := MatchRules(rules, comment.Text)
	if len(matching) == 0 {
		return s.db.SaveCommentHistory(ctx, entry())
	}

	replied := false
	for _, rule := range matching {
		if rule.Message == "" {
			continue
		}
		replied = true

		history := entry()
		history.MatchedRules = true
		history.ResponseType = models.ResponseTypePrivateReply

		err := s.graph.SendPrivateReply(ctx, igBusinessID, comment.ID, rule.Message, accessToken)
		if err != nil {
			logger.Log.Errorw("failed to send private reply", "commenter", comment.Username, zap.Error(err))
			history.ResponseStatus = models.ResponseStatusFailed
			history.ErrorMessage = truncate(err.Error(), maxErrorMessageRunes)
			report.RepliesFailed++
		} else {
			respondedAt := s.now()
			history.ResponseStatus = models.ResponseStatusSent
			history.ResponseText = rule.Message
			history.RespondedAt = &respondedAt
			report.RepliesSent++
		}
		s.observe(history.ResponseStatus)

		if err := s.db.SaveCommentHistory(ctx, history); err != nil {
			logger.Log.Errorw("failed to save comment history", "comment_id", comment.ID, zap.Error(err))
		}
	}

	if !replied {
		history := entry()
		history.MatchedRules = true
		return s.db.SaveCommentHistory(ctx, history)
	}

	return nil
}

func (s *Sweeper) observe(status string) {
	if s.observer != nil {
		s.observer.ObserveReply(status)
	}
}

// saveFailure records a comment that could not be processed so that the next
// sweep does not pick it up again.
func (s *Sweeper) saveFailure(ctx context.Context, automation models.DMAutomation, commentID string, cause error) {
	if commentID == "" {
		commentID = unknownCommentID
	}

	err := s.db.SaveCommentHistory(ctx, &models.CommentHistory{
		DMAutomationID: automation.ID,
		UserID:         automation.UserID,
		PostID:         automation.PostID,
		CommentID:      commentID,
		Processed:      true,
		ErrorMessage:   truncate(cause.Error(), maxErrorMessageRunes),
	})
	if err != nil {
		logger.Log.Errorw("failed to mark comment as processed", "comment_id", commentID, zap.Error(err))
	}
}

// ParseRules decodes the stored rule list. Malformed JSON yields no rules.
func ParseRules(raw string) []models.DMRule {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var rules []models.DMRule
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		logger.Log.Errorw("error parsing DM rules", zap.Error(err))
		return nil
	}

	return rules
}

// MatchRules returns the rules whose keyword occurs in text, ignoring case.
func MatchRules(rules []models.DMRule, text string) []models.DMRule {
	lowered := strings.ToLower(text)

	var result []models.DMRule
	for _, rule := range rules {
		if rule.Keyword == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(rule.Keyword)) {
			result = append(result, rule)
		}
	}

	return result
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}

	return string(runes[:limit])
}
