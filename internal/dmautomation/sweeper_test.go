package dmautomation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/olly-social/olly/internal/db/memorystorage"
	"github.com/olly-social/olly/internal/instagram"
	"github.com/olly-social/olly/internal/logger"
	"github.com/olly-social/olly/internal/models"
	"github.com/olly-social/olly/internal/tokencipher"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error"); err != nil {
		panic(err)
	}
	m.Run()
}

type mockGraph struct {
	mock.Mock
}

func (g *mockGraph) RefreshToken(ctx context.Context, accessToken string) (*instagram.RefreshedToken, error) {
	args := g.Called(accessToken)
	token, _ := args.Get(0).(*instagram.RefreshedToken)
	return token, args.Error(1)
}

func (g *mockGraph) ValidateToken(ctx context.Context, accessToken string) error {
	return g.Called(accessToken).Error(0)
}

func (g *mockGraph) BusinessAccountID(ctx context.Context, accessToken string) (string, error) {
	args := g.Called(accessToken)
	return args.String(0), args.Error(1)
}

func (g *mockGraph) VerifyPost(ctx context.Context, postID, accessToken string) error {
	return g.Called(postID, accessToken).Error(0)
}

func (g *mockGraph) Comments(ctx context.Context, postID, accessToken string) ([]instagram.Comment, error) {
	args := g.Called(postID, accessToken)
	comments, _ := args.Get(0).([]instagram.Comment)
	return comments, args.Error(1)
}

func (g *mockGraph) CommentsFromMedia(ctx context.Context, postID, accessToken string) ([]instagram.Comment, error) {
	args := g.Called(postID, accessToken)
	comments, _ := args.Get(0).([]instagram.Comment)
	return comments, args.Error(1)
}

func (g *mockGraph) SendPrivateReply(ctx context.Context, igBusinessID, commentID, message, accessToken string) error {
	return g.Called(igBusinessID, commentID, message, accessToken).Error(0)
}

type countingObserver struct {
	statuses []string
}

func (o *countingObserver) ObserveReply(status string) {
	o.statuses = append(o.statuses, status)
}

type fixture struct {
	storage  *memorystorage.MemoryStorage
	graph    *mockGraph
	cipher   *tokencipher.Cipher
	observer *countingObserver
	sweeper  *Sweeper
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	storage, err := memorystorage.New()
	require.NoError(t, err)
	cipher, err := tokencipher.New("test-secret")
	require.NoError(t, err)

	f := &fixture{
		storage:  storage,
		graph:    &mockGraph{},
		cipher:   cipher,
		observer: &countingObserver{},
		now:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.sweeper = New(
		storage,
		f.graph,
		cipher,
		WithClock(func() time.Time { return f.now }),
		WithReplyObserver(f.observer),
	)

	return f
}

func (f *fixture) addToken(t *testing.T, userID, plaintext string, expiresIn time.Duration) string {
	t.Helper()

	encrypted, err := f.cipher.Encrypt(plaintext)
	require.NoError(t, err)

	return f.storage.SaveOAuthToken(models.OAuthToken{
		UserID:      userID,
		Platform:    models.PlatformInstagram,
		AccessToken: encrypted,
		ExpiresAt:   f.now.Add(expiresIn),
		IsValid:     true,
	})
}

func TestSweepSendsRepliesForMatchingRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addToken(t, "user-1", "ig-token", 30*24*time.Hour)
	automationID := f.storage.SaveDMAutomation(models.DMAutomation{
		UserID:    "user-1",
		PostID:    "post-1",
		IsEnabled: true,
		DMRules:   `[{"keyword":"PRICE","message":"Check your DMs!"},{"keyword":"link","message":""},{"keyword":"ebook","message":"Here is the ebook"}]`,
	})
	require.NoError(t, f.storage.SaveCommentHistory(ctx, &models.CommentHistory{DMAutomationID: automationID, CommentID: "c-old"}))

	f.graph.On("ValidateToken", "ig-token").Return(nil)
	f.graph.On("BusinessAccountID", "ig-token").Return("ig-biz", nil)
	f.graph.On("VerifyPost", "post-1", "ig-token").Return(nil)
	f.graph.On("Comments", "post-1", "ig-token").Return([]instagram.Comment{
		{ID: "c-old", Text: "price?", Username: "old"},
		{ID: "c-1", Text: "What's the price and link?", Username: "bob"},
		{ID: "c-2", Text: "nice post", Username: "eve"},
		{ID: "c-3", Text: "", Username: "ghost"},
		{ID: "c-4", Text: "ebook please", Username: "kim"},
	}, nil)
	f.graph.On("SendPrivateReply", "ig-biz", "c-1", "Check your DMs!", "ig-token").Return(nil).Once()
	f.graph.On("SendPrivateReply", "ig-biz", "c-4", "Here is the ebook", "ig-token").
		Return(&instagram.GraphError{StatusCode: 400, Body: strings.Repeat("x", 300)}).Once()

	report, err := f.sweeper.Run(ctx)

	require.NoError(t, err)
	f.graph.AssertExpectations(t)
	assert.Equal(t, &Report{Accounts: 1, Comments: 4, RepliesSent: 1, RepliesFailed: 1}, report)
	assert.Equal(t, []string{models.ResponseStatusSent, models.ResponseStatusFailed}, f.observer.statuses)

	history := f.storage.CommentHistory()
	require.Len(t, history, 4)
	byComment := map[string]models.CommentHistory{}
	for _, entry := range history {
		byComment[entry.CommentID] = entry
	}

	sent := byComment["c-1"]
	assert.True(t, sent.MatchedRules)
	assert.Equal(t, models.ResponseStatusSent, sent.ResponseStatus)
	assert.Equal(t, "Check your DMs!", sent.ResponseText)
	assert.Equal(t, "bob", sent.CommenterName)
	require.NotNil(t, sent.RespondedAt)

	unmatched := byComment["c-2"]
	assert.False(t, unmatched.MatchedRules)
	assert.True(t, unmatched.Processed)

	failed := byComment["c-4"]
	assert.Equal(t, models.ResponseStatusFailed, failed.ResponseStatus)
	assert.Len(t, []rune(failed.ErrorMessage), 255)

	_, skipped := byComment["c-3"]
	assert.False(t, skipped)
}

func TestSweepRecordsMatchesWithoutReplies(t *testing.T) {
	f := newFixture(t)
	f.addToken(t, "user-1", "ig-token", 30*24*time.Hour)
	f.storage.SaveDMAutomation(models.DMAutomation{
		UserID:    "user-1",
		PostID:    "post-1",
		IsEnabled: true,
		DMRules:   `[{"keyword":"link","message":""}]`,
	})

	f.graph.On("ValidateToken", "ig-token").Return(nil)
	f.graph.On("BusinessAccountID", "ig-token").Return("ig-biz", nil)
	f.graph.On("VerifyPost", "post-1", "ig-token").Return(nil)
	f.graph.On("Comments", "post-1", "ig-token").Return([]instagram.Comment{{ID: "c-1", Text: "link?", Username: "bob"}}, nil)

	_, err := f.sweeper.Run(context.Background())
	require.NoError(t, err)

	history := f.storage.CommentHistory()
	require.Len(t, history, 1)
	assert.True(t, history[0].MatchedRules)
	assert.True(t, history[0].Processed)
	assert.Empty(t, history[0].ResponseStatus)

	_, err = f.sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.storage.CommentHistory(), 1)
	f.graph.AssertNotCalled(t, "SendPrivateReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepFallsBackToMediaComments(t *testing.T) {
	f := newFixture(t)
	f.addToken(t, "user-1", "ig-token", 30*24*time.Hour)
	f.storage.SaveDMAutomation(models.DMAutomation{UserID: "user-1", PostID: "post-1", IsEnabled: true, DMRules: `not json`})

	f.graph.On("ValidateToken", "ig-token").Return(nil)
	f.graph.On("BusinessAccountID", "ig-token").Return("ig-biz", nil)
	f.graph.On("VerifyPost", "post-1", "ig-token").Return(nil)
	f.graph.On("Comments", "post-1", "ig-token").Return(nil, errors.New("boom"))
	f.graph.On("CommentsFromMedia", "post-1", "ig-token").Return([]instagram.Comment{{ID: "c-1", Text: "hi", Username: "bob"}}, nil)

	report, err := f.sweeper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Comments)
	history := f.storage.CommentHistory()
	require.Len(t, history, 1)
	assert.False(t, history[0].MatchedRules)
	f.graph.AssertNotCalled(t, "SendPrivateReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepInvalidatesBrokenTokens(t *testing.T) {
	f := newFixture(t)
	undecryptable := f.storage.SaveOAuthToken(models.OAuthToken{
		UserID: "user-1", Platform: models.PlatformInstagram, AccessToken: "garbage", ExpiresAt: f.now.Add(time.Hour * 24 * 30), IsValid: true,
	})
	revoked := f.addToken(t, "user-2", "revoked-token", 30*24*time.Hour)
	flaky := f.addToken(t, "user-3", "flaky-token", 30*24*time.Hour)

	f.graph.On("ValidateToken", "revoked-token").
		Return(&instagram.GraphError{StatusCode: 400, Body: `{"error":{"message":"Invalid OAuth access token."}}`})
	f.graph.On("ValidateToken", "flaky-token").
		Return(&instagram.GraphError{StatusCode: 500, Body: `{"error":{"message":"Please retry"}}`})

	report, err := f.sweeper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, report.InvalidatedKeys)
	for id, wantValid := range map[string]bool{undecryptable: false, revoked: false, flaky: true} {
		token, ok := f.storage.OAuthToken(id)
		require.True(t, ok)
		assert.Equal(t, wantValid, token.IsValid, id)
	}
}

func TestSweepRefreshesExpiringTokens(t *testing.T) {
	f := newFixture(t)
	id := f.addToken(t, "user-1", "old-token", 2*24*time.Hour)

	f.graph.On("RefreshToken", "old-token").Return(&instagram.RefreshedToken{AccessToken: "new-token", ExpiresIn: 60 * 24 * time.Hour}, nil)
	f.graph.On("ValidateToken", "new-token").Return(nil)
	f.graph.On("BusinessAccountID", "new-token").Return("ig-biz", nil)

	_, err := f.sweeper.Run(context.Background())

	require.NoError(t, err)
	f.graph.AssertExpectations(t)
	token, ok := f.storage.OAuthToken(id)
	require.True(t, ok)
	assert.Equal(t, f.now.Add(60*24*time.Hour), token.ExpiresAt)
	plaintext, err := f.cipher.Decrypt(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "new-token", plaintext)
}

func TestSweepRejectsOverlappingRuns(t *testing.T) {
	f := newFixture(t)
	f.sweeper.running.Lock()
	defer f.sweeper.running.Unlock()

	_, err := f.sweeper.Run(context.Background())

	assert.ErrorIs(t, err, ErrSweepInProgress)
}

func TestMatchRules(t *testing.T) {
	rules := ParseRules(`[{"keyword":"Price","message":"a"},{"keyword":"","message":"b"},{"keyword":"ship","message":"c"}]`)
	require.Len(t, rules, 3)

	matched := MatchRules(rules, "what's the PRICE incl. shipping?")

	assert.Equal(t, []models.DMRule{{Keyword: "Price", Message: "a"}, {Keyword: "ship", Message: "c"}}, matched)
	assert.Empty(t, MatchRules(rules, "lovely"))
	assert.Nil(t, ParseRules("{broken"))
	assert.Nil(t, ParseRules(""))
}
