package examples

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olly-social/olly/internal/auth"
	"github.com/olly-social/olly/internal/billing"
	"github.com/olly-social/olly/internal/commenter"
	"github.com/olly-social/olly/internal/crm"
	"github.com/olly-social/olly/internal/db/memorystorage"
	"github.com/olly-social/olly/internal/dmautomation"
	"github.com/olly-social/olly/internal/instagram"
	"github.com/olly-social/olly/internal/ipchecker"
	"github.com/olly-social/olly/internal/llm"
	"github.com/olly-social/olly/internal/logger"
	"github.com/olly-social/olly/internal/mailer"
	"github.com/olly-social/olly/internal/models"
	"github.com/olly-social/olly/internal/notify"
	"github.com/olly-social/olly/internal/router"
	"github.com/olly-social/olly/internal/tokencipher"
	"github.com/olly-social/olly/internal/usagerecorder"
)

const (
	webhookSecret = "lemon-secret"
	operatorKey   = "operator-key"
	apiKey        = "olly-api-key"
	userEmail     = "ann@example.com"
	outboundLimit = 5 * time.Second
)

type stack struct {
	server   *httptest.Server
	upstream *httptest.Server
	db       *memorystorage.MemoryStorage
	usage    *usagerecorder.UsageRecorder
	stop     context.CancelFunc
	operator *auth.Auth
	user     *models.User
}

func (s *stack) Close() {
	s.stop()
	<-s.usage.Done()
	s.server.Close()
	s.upstream.Close()
}

// upstream answers every outbound call of the service: the completion
// endpoint, Discord, the mail API and Brevo.
func newUpstream() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(response http.ResponseWriter, request *http.Request) {
		response.Header().Set("Content-Type", "application/json")
		_, _ = response.Write([]byte(`{"choices":[{"message":{"content":"Love this take!"}}]}`))
	})
	mux.HandleFunc("/", func(response http.ResponseWriter, request *http.Request) {
		response.WriteHeader(http.StatusNoContent)
	})

	return httptest.NewServer(mux)
}

func setupTestStack(t *testing.T) *stack {
	upstream := newUpstream()

	db, err := memorystorage.New()
	if t != nil {
		require.NoError(t, err)
	}
	user := db.AddUser(userEmail, "Ann Lee")
	db.AddAPIKey(user.ID, apiKey, "olly", true)
	db.SetCredits(user.ID, 0)

	cipher, err := tokencipher.New("token-secret")
	if t != nil {
		require.NoError(t, err)
	}

	checker, err := ipchecker.New(nil)
	if t != nil {
		require.NoError(t, err)
	}

	usage := usagerecorder.New(db, 16, 10*time.Millisecond)
	ctx, stop := context.WithCancel(context.Background())
	usage.Run(ctx)

	comments := commenter.New(
		db,
		llm.NewClient(llm.Config{APIKey: "sk-test", BaseURL: upstream.URL}),
		usage,
		commenter.NewSummaryClient(upstream.URL, outboundLimit),
	)

	webhooks := billing.New(
		db,
		billing.NewCatalog(nil, nil, nil, nil),
		notify.NewDiscord(upstream.URL+"/discord", outboundLimit),
		mailer.New(upstream.URL+"/mail", "mail-key", "yash@olly.social", outboundLimit),
		crm.NewBrevo(upstream.URL+"/brevo", "brevo-key", outboundLimit),
	)

	sweeper := dmautomation.New(db, instagram.NewClient(upstream.URL, 100, outboundLimit), cipher)

	operator := auth.New(checker, []byte(operatorKey))

	return &stack{
		server:   httptest.NewServer(router.New(db, comments, webhooks, sweeper, operator, webhookSecret)),
		upstream: upstream,
		db:       db,
		usage:    usage,
		stop:     stop,
		operator: operator,
		user:     user,
	}
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func creditPurchase(credits int) []byte {
	return []byte(fmt.Sprintf(`{
		"meta": {
			"event_name": "order_created",
			"webhook_id": "wh-1",
			"custom_data": {"is_credit_purchase": "true", "credits": %d}
		},
		"data": {
			"id": "order-1",
			"attributes": {
				"user_name": "Ann Lee", "user_email": %q,
				"total": 1000, "currency": "USD", "created_at": "2025-03-01T12:00:00Z"
			}
		}
	}`, credits, userEmail))
}

func postComment(client *resty.Client, content string) (*resty.Response, error) {
	return client.R().
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(models.CommentRequest{
			Vendor:             "olly",
			ContentToCommentOn: content,
			Platform:           "linkedin",
		}).
		Post("/api/ai/ac/comment")
}

func Example_commentAfterCreditPurchase() {
	s := setupTestStack(nil)
	defer s.Close()

	client := resty.New().SetBaseURL(s.server.URL)

	resp, err := postComment(client, "We just shipped our new onboarding flow!")
	if err != nil {
		panic(err)
	}
	fmt.Println("Without credits:", resp.StatusCode(), resp.String())

	body := creditPurchase(3)
	resp, err = client.R().
		SetHeader("X-Signature", sign(body)).
		SetBody(body).
		Post("/api/lemon-drops")
	if err != nil {
		panic(err)
	}
	fmt.Println("Credit purchase:", resp.StatusCode())

	resp, err = postComment(client, "We just shipped our new onboarding flow!")
	if err != nil {
		panic(err)
	}
	fmt.Println("With credits:", resp.StatusCode(), resp.String())

	balance, _ := s.db.Balance(s.user.ID)
	fmt.Println("Balance:", balance)

	// Output:
	// Without credits: 402 Insufficient credits. Please add credits at https://www.olly.social/dashboard/plans
	// Credit purchase: 200
	// With credits: 200 {"success":true,"data":{"generatedComment":"Love this take!","configApplied":false,"brandVoiceUsed":false}}
	// Balance: 2
}

func TestCommentUsageIsFlushed(t *testing.T) {
	s := setupTestStack(t)
	defer s.server.Close()
	defer s.upstream.Close()
	s.db.SetCredits(s.user.ID, 5)

	client := resty.New().SetBaseURL(s.server.URL)
	for i := 0; i < 2; i++ {
		resp, err := postComment(client, fmt.Sprintf("post number %d", i))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode())
	}

	s.stop()
	<-s.usage.Done()

	usages := s.db.APIUsages()
	require.Len(t, usages, 2)
	assert.Equal(t, apiKey, usages[0].APIKey)
	assert.Equal(t, "Love this take!", usages[0].Content)

	transactions := s.db.Transactions()
	require.Len(t, transactions, 2)
	assert.Equal(t, commenter.ChargeDescription("olly"), transactions[0].Description)
}

func TestOperatorEndpoints(t *testing.T) {
	s := setupTestStack(t)
	defer s.Close()

	token, err := s.operator.BuildOperatorToken("ops@olly.social", time.Minute)
	require.NoError(t, err)

	client := resty.New().SetBaseURL(s.server.URL)

	resp, err := client.R().Get("/api/cron/instagram-dm-automation")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode())

	var cron models.CronResponse
	resp, err = client.R().SetAuthToken(token).SetResult(&cron).Get("/api/cron/instagram-dm-automation")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.True(t, cron.Success)

	var stats models.InternalStats
	resp, err = client.R().SetAuthToken(token).SetResult(&stats).Get("/api/internal/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, int64(1), stats.Users)
}

func TestMain(m *testing.M) {
	if err := logger.Init("error"); err != nil {
		panic(err)
	}
	m.Run()
}
