package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olly-social/olly/internal/ipchecker"
	"github.com/olly-social/olly/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error"); err != nil {
		panic(err)
	}
	m.Run()
}

func newTestAuth(t *testing.T) *Auth {
	t.Helper()

	checker, err := ipchecker.New([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	return New(checker, []byte("operator-secret"))
}

func TestAuthenticateOperator(t *testing.T) {
	a := newTestAuth(t)
	validToken, err := a.BuildOperatorToken("ops", time.Hour)
	require.NoError(t, err)

	foreignToken, err := New(nil, []byte("other-secret")).BuildOperatorToken("ops", time.Hour)
	require.NoError(t, err)

	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, err := a.BuildOperatorToken("ops", time.Hour)
	require.NoError(t, err)
	a.now = time.Now

	testCases := []struct {
		name         string
		remoteAddr   string
		token        string
		wantStatus   int
		wantOperator string
	}{
		{name: "trusted subnet", remoteAddr: "10.0.0.5:1234", wantStatus: http.StatusOK, wantOperator: "subnet:10.0.0.5:1234"},
		{name: "valid token", remoteAddr: "8.8.8.8:1234", token: "Bearer " + validToken, wantStatus: http.StatusOK, wantOperator: "ops"},
		{name: "raw token", remoteAddr: "8.8.8.8:1234", token: validToken, wantStatus: http.StatusOK, wantOperator: "ops"},
		{name: "no credentials", remoteAddr: "8.8.8.8:1234", wantStatus: http.StatusForbidden},
		{name: "foreign signature", remoteAddr: "8.8.8.8:1234", token: "Bearer " + foreignToken, wantStatus: http.StatusUnauthorized},
		{name: "expired", remoteAddr: "8.8.8.8:1234", token: "Bearer " + expiredToken, wantStatus: http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var gotOperator string
			handler := a.AuthenticateOperator(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotOperator, _ = r.Context().Value(OperatorKey).(string)
			}))

			request := httptest.NewRequest(http.MethodGet, "/api/internal/stats", nil)
			request.RemoteAddr = tc.remoteAddr
			if tc.token != "" {
				request.Header.Set("Authorization", tc.token)
			}
			recorder := httptest.NewRecorder()

			handler.ServeHTTP(recorder, request)

			assert.Equal(t, tc.wantStatus, recorder.Code)
			assert.Equal(t, tc.wantOperator, gotOperator)
		})
	}
}

func TestOperatorFromTokenRejectsOtherAlgorithms(t *testing.T) {
	a := newTestAuth(t)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Operator: "ops"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = a.OperatorFromToken(unsigned)

	assert.ErrorIs(t, err, ErrInvalidTokenOrJwtParsing)
}

func TestBuildOperatorTokenWithoutKey(t *testing.T) {
	_, err := New(nil, nil).BuildOperatorToken("ops", time.Hour)

	assert.Error(t, err)
}
