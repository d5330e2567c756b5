package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertContact(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "created", status: http.StatusCreated},
		{name: "updated", status: http.StatusNoContent},
		{name: "rejected", status: http.StatusBadRequest, wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var received map[string]interface{}
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/contacts", r.URL.Path)
				assert.Equal(t, "secret", r.Header.Get("api-key"))
				require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
				w.WriteHeader(test.status)
			}))
			defer server.Close()

			err := NewBrevo(server.URL, "secret", time.Second).UpsertContact(context.Background(), Contact{
				Email:         "ann@example.com",
				Attributes:    map[string]interface{}{"FIRSTNAME": "Ann", "PAID": true},
				ListIDs:       []int{12},
				UpdateEnabled: true,
			})

			if test.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ann@example.com", received["email"])
			assert.Equal(t, true, received["updateEnabled"])
			assert.Equal(t, []interface{}{float64(12)}, received["listIds"])
		})
	}
}
