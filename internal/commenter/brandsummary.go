package commenter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// SummaryClient reads the latest brand summary published by the web app.
type SummaryClient struct {
	http *resty.Client
}

func NewSummaryClient(appURL string, timeout time.Duration) *SummaryClient {
	return &SummaryClient{
		http: resty.New().
			SetBaseURL(strings.TrimRight(appURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

func (c *SummaryClient) LatestSummary(ctx context.Context, key string) (string, error) {
	response, err := c.http.R().
		SetContext(ctx).
		Get("/api/license-key/" + url.PathEscape(key) + "/latest-summary")
	if err != nil {
		return "", err
	}
	if response.IsError() {
		return "", fmt.Errorf("brand summary request failed: %s", response.Status())
	}

	return gjson.GetBytes(response.Body(), "summary").String(), nil
}
