package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentHandlerUsesRoutePattern(t *testing.T) {
	router := chi.NewRouter()
	router.Use(InstrumentHandler)
	router.Get("/api/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/api/items/{id}", "418"))
	for _, id := range []string{"1", "2"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/items/"+id, nil))
	}

	assert.Equal(t, before+2, testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/api/items/{id}", "418")))
}

func TestRecorders(t *testing.T) {
	RecordComment("Reddit", true)
	RecordWebhookEvent("order_created", false)
	RecordJobRun("instagram-dm-automation", time.Second, true)
	ReplyObserver{}.ObserveReply("sent")

	assert.GreaterOrEqual(t, testutil.ToFloat64(commentsGenerated.WithLabelValues("reddit", "true")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(webhookEvents.WithLabelValues("order_created", "false")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(jobRuns.WithLabelValues("instagram-dm-automation", "true")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(dmReplies.WithLabelValues("sent")), 1.0)
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordComment("github", false)
	recorder := httptest.NewRecorder()

	Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "olly_comments_generated_total")
}
