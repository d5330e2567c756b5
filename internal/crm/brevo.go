// Package crm keeps customer contacts in sync with Brevo.
package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultBaseURL = "https://api.brevo.com/v3"

type Contact struct {
	Email         string                 `json:"email"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
	ListIDs       []int                  `json:"listIds,omitempty"`
	UpdateEnabled bool                   `json:"updateEnabled"`
}

type Brevo struct {
	http *resty.Client
}

func NewBrevo(baseURL, apiKey string, timeout time.Duration) *Brevo {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Brevo{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("api-key", apiKey).
			SetHeader("Accept", "application/json"),
	}
}

// UpsertContact creates the contact or, with UpdateEnabled, updates it.
func (b *Brevo) UpsertContact(ctx context.Context, contact Contact) error {
	response, err := b.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(contact).
		Post("/contacts")
	if err != nil {
		return err
	}
	if response.IsError() {
		return fmt.Errorf("brevo contact upsert failed with status %d: %s", response.StatusCode(), response.String())
	}

	return nil
}
