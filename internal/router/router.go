// Package router wires the HTTP API: comment generation for the browser
// extension, the billing webhook, the operator cron trigger and stats, and
// the health and metrics endpoints.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/olly-social/olly/internal/billing"
	"github.com/olly-social/olly/internal/commenter"
	"github.com/olly-social/olly/internal/dmautomation"
	"github.com/olly-social/olly/internal/gzippedhttp"
	"github.com/olly-social/olly/internal/llm"
	"github.com/olly-social/olly/internal/logger"
	"github.com/olly-social/olly/internal/metrics"
	"github.com/olly-social/olly/internal/models"
)

const maxWebhookBodyBytes = 1 << 20

type pinger interface {
	Ping(ctx context.Context) error
}

type statsKeeper interface {
	GetInternalStats(ctx context.Context) (*models.InternalStats, error)
}

type storage interface {
	pinger
	statsKeeper
}

type commentGenerator interface {
	GenerateComment(ctx context.Context, apiKey string, request *models.CommentRequest) (*models.CommentResult, error)
}

type webhookProcessor interface {
	Process(ctx context.Context, body []byte) (*models.WebhookResponse, error)
}

type dmSweeper interface {
	Run(ctx context.Context) (*dmautomation.Report, error)
}

type authenticator interface {
	AuthenticateOperator(h http.Handler) http.Handler
}

type Router struct {
	db            storage
	comments      commentGenerator
	webhooks      webhookProcessor
	sweeper       dmSweeper
	webhookSecret string
	validate      *validator.Validate
}

func New(
	db storage,
	comments commentGenerator,
	webhooks webhookProcessor,
	sweeper dmSweeper,
	operatorAuth authenticator,
	webhookSecret string,
) *chi.Mux {
	myRouter := Router{
		db:            db,
		comments:      comments,
		webhooks:      webhooks,
		sweeper:       sweeper,
		webhookSecret: webhookSecret,
		validate:      validator.New(),
	}

	router := chi.NewRouter()
	router.Use(
		logger.WithLoggingHTTPMiddleware,
		gzippedhttp.UngzipRequest,
		gzippedhttp.GzipResponse,
		metrics.InstrumentHandler,
	)

	router.Get(`/ping`, myRouter.GetPing)
	router.Handle(`/metrics`, metrics.Handler())

	router.Options(`/api/ai/ac/comment`, myRouter.OptionsAiAcComment)
	router.Post(`/api/ai/ac/comment`, myRouter.PostAiAcComment)

	router.Post(`/api/lemon-drops`, myRouter.PostLemonDrops)

	router.Group(func(operator chi.Router) {
		operator.Use(operatorAuth.AuthenticateOperator)
		operator.Get(`/api/cron/instagram-dm-automation`, myRouter.GetCronInstagramDMAutomation)
		operator.Get(`/api/internal/stats`, myRouter.GetInternalStats)
	})

	return router
}

func writeJSON(response http.ResponseWriter, status int, payload interface{}) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)
	if err := json.NewEncoder(response).Encode(payload); err != nil {
		logger.Log.Debugln("Error calling the `json.NewEncoder(response).Encode()`: ", zap.Error(err))
	}
}

func writeText(response http.ResponseWriter, status int, text string) {
	response.Header().Set("Content-Type", "text/plain; charset=utf-8")
	response.WriteHeader(status)
	_, _ = io.WriteString(response, text)
}

func (router *Router) GetPing(response http.ResponseWriter, request *http.Request) {
	if err := router.db.Ping(request.Context()); err != nil {
		logger.Log.Errorw("storage ping failed", zap.Error(err))
		writeJSON(response, http.StatusInternalServerError, models.ErrorResponse{Error: "storage unavailable"})
		return
	}

	response.WriteHeader(http.StatusOK)
}

func setCORSHeaders(response http.ResponseWriter) {
	header := response.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET,OPTIONS,PATCH,DELETE,POST,PUT")
	header.Set("Access-Control-Allow-Headers", "*")
}

func (router *Router) OptionsAiAcComment(response http.ResponseWriter, request *http.Request) {
	setCORSHeaders(response)
	response.WriteHeader(http.StatusNoContent)
}

func (router *Router) PostAiAcComment(response http.ResponseWriter, request *http.Request) {
	setCORSHeaders(response)

	apiKey, ok := strings.CutPrefix(request.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(apiKey) == "" {
		writeText(response, http.StatusUnauthorized, commenter.ErrInvalidAPIKey.Error())
		return
	}

	var commentRequest models.CommentRequest
	if err := json.NewDecoder(request.Body).Decode(&commentRequest); err != nil {
		writeJSON(response, http.StatusBadRequest, models.CommentResponse{Error: "Invalid request body"})
		return
	}
	if err := router.validate.Struct(commentRequest); err != nil {
		writeJSON(response, http.StatusBadRequest, models.CommentResponse{Error: err.Error()})
		return
	}

	result, err := router.comments.GenerateComment(request.Context(), apiKey, &commentRequest)
	metrics.RecordComment(commentRequest.Platform, err == nil)

	var apiError *llm.APIError
	switch {
	case err == nil:
		writeJSON(response, http.StatusOK, models.CommentResponse{Success: true, Data: result})
	case errors.Is(err, commenter.ErrInvalidAPIKey), errors.Is(err, commenter.ErrInactiveAPIKey):
		writeText(response, http.StatusUnauthorized, err.Error())
	case errors.Is(err, models.ErrNoUserForAPIKey),
		errors.Is(err, models.ErrNoCreditAccount),
		errors.Is(err, models.ErrInsufficientCredits):
		writeText(response, http.StatusPaymentRequired, err.Error())
	case errors.As(err, &apiError):
		logger.Log.Errorw("comment generation failed at the provider", "status", apiError.StatusCode, zap.Error(err))
		writeJSON(response, apiError.StatusCode, models.CommentResponse{Error: apiError.Message})
	default:
		logger.Log.Errorw("comment generation failed", zap.Error(err))
		writeJSON(response, http.StatusInternalServerError, models.CommentResponse{Error: err.Error()})
	}
}

func (router *Router) PostLemonDrops(response http.ResponseWriter, request *http.Request) {
	body, err := io.ReadAll(io.LimitReader(request.Body, maxWebhookBodyBytes))
	if err != nil {
		writeJSON(response, http.StatusBadRequest, models.ErrorResponse{Error: "Unable to read body"})
		return
	}

	if router.webhookSecret != "" && !billing.VerifySignature(router.webhookSecret, body, request.Header.Get("X-Signature")) {
		logger.Log.Warnw("billing webhook signature mismatch", "remote_addr", request.RemoteAddr)
		writeJSON(response, http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid signature"})
		return
	}

	result, err := router.webhooks.Process(request.Context(), body)
	if errors.Is(err, billing.ErrMalformedPayload) {
		writeJSON(response, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		logger.Log.Errorw("billing webhook failed", zap.Error(err))
		writeJSON(response, http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(response, http.StatusOK, result)
}

func (router *Router) GetCronInstagramDMAutomation(response http.ResponseWriter, request *http.Request) {
	report, err := router.sweeper.Run(request.Context())
	if errors.Is(err, dmautomation.ErrSweepInProgress) {
		writeJSON(response, http.StatusConflict, models.CronResponse{Error: err.Error()})
		return
	}
	if err != nil {
		logger.Log.Errorw("Error running Instagram DM automation cron job", zap.Error(err))
		writeJSON(response, http.StatusInternalServerError, models.CronResponse{Error: "Failed to run Instagram DM automation"})
		return
	}

	logger.Log.Infow("instagram DM automation finished",
		"accounts", report.Accounts,
		"comments", report.Comments,
		"replies_sent", report.RepliesSent,
		"replies_failed", report.RepliesFailed,
		"invalidated_keys", report.InvalidatedKeys,
	)
	writeJSON(response, http.StatusOK, models.CronResponse{Success: true, Message: "Instagram DM automation completed"})
}

func (router *Router) GetInternalStats(response http.ResponseWriter, request *http.Request) {
	stats, err := router.db.GetInternalStats(request.Context())
	if err != nil {
		logger.Log.Errorw("Error calling the `router.db.GetInternalStats()`", zap.Error(err))
		writeJSON(response, http.StatusInternalServerError, models.ErrorResponse{Error: "Internal Error"})
		return
	}

	writeJSON(response, http.StatusOK, stats)
}
