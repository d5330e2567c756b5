// Package instagram is a small client for the parts of the Instagram Graph
// API used by the DM automation: token refresh and validation, comment
// listing and private replies.
package instagram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://graph.instagram.com/v22.0"

var invalidTokenMarkers = []string{
	"Invalid OAuth access token",
	"Cannot parse access token",
	"Session has expired",
}

var ErrMissingField = errors.New("graph response is missing a required field")

// GraphError carries the status and raw body of a failed Graph API call.
type GraphError struct {
	StatusCode int
	Body       string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("instagram graph api status %d: %s", e.StatusCode, e.Body)
}

// IsInvalidToken reports whether err says the access token can never work
// again.
func IsInvalidToken(err error) bool {
	var graphErr *GraphError
	if !errors.As(err, &graphErr) {
		return false
	}
	for _, marker := range invalidTokenMarkers {
		if strings.Contains(graphErr.Body, marker) {
			return true
		}
	}

	return false
}

type Comment struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

type RefreshedToken struct {
	AccessToken string
	ExpiresIn   time.Duration
}

type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// NewClient builds a client that issues at most requestsPerSecond calls per
// second. A non-positive value disables pacing.
func NewClient(baseURL string, requestsPerSecond float64, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}

	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout),
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (c *Client) get(ctx context.Context, path string, params map[string]string) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}

	response, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return gjson.Result{}, err
	}
	if response.IsError() {
		return gjson.Result{}, &GraphError{StatusCode: response.StatusCode(), Body: response.String()}
	}

	return gjson.ParseBytes(response.Body()), nil
}

// RefreshToken exchanges a long-lived token for a fresh one.
func (c *Client) RefreshToken(ctx context.Context, accessToken string) (*RefreshedToken, error) {
	body, err := c.get(ctx, "/refresh_access_token", map[string]string{
		"grant_type":   "ig_refresh_token",
		"access_token": accessToken,
	})
	if err != nil {
		return nil, err
	}

	token := body.Get("access_token").String()
	expiresIn := body.Get("expires_in").Int()
	if token == "" || expiresIn == 0 {
		return nil, fmt.Errorf("refresh token: %w", ErrMissingField)
	}

	return &RefreshedToken{AccessToken: token, ExpiresIn: time.Duration(expiresIn) * time.Second}, nil
}

// ValidateToken performs the cheapest authenticated call.
func (c *Client) ValidateToken(ctx context.Context, accessToken string) error {
	_, err := c.get(ctx, "/me", map[string]string{
		"fields":       "id,username",
		"access_token": accessToken,
	})

	return err
}

// BusinessAccountID returns the id of the account owning accessToken.
func (c *Client) BusinessAccountID(ctx context.Context, accessToken string) (string, error) {
	body, err := c.get(ctx, "/me", map[string]string{
		"fields":       "id,username,account_type",
		"access_token": accessToken,
	})
	if err != nil {
		return "", err
	}

	id := body.Get("id").String()
	if id == "" {
		return "", fmt.Errorf("business account id: %w", ErrMissingField)
	}

	return id, nil
}

// VerifyPost checks that the media exists and is visible to the token.
func (c *Client) VerifyPost(ctx context.Context, postID, accessToken string) error {
	_, err := c.get(ctx, "/"+postID, map[string]string{
		"fields":       "id,caption,media_type,media_url,permalink,timestamp",
		"access_token": accessToken,
	})

	return err
}

// Comments lists the comments of a post through the comments edge.
func (c *Client) Comments(ctx context.Context, postID, accessToken string) ([]Comment, error) {
	body, err := c.get(ctx, "/"+postID+"/comments", map[string]string{
		"fields":       "id,text,username,timestamp",
		"access_token": accessToken,
	})
	if err != nil {
		return nil, err
	}

	return parseComments(body.Get("data")), nil
}

// CommentsFromMedia lists the comments of a post through the media object's
// comments field.
func (c *Client) CommentsFromMedia(ctx context.Context, postID, accessToken string) ([]Comment, error) {
	body, err := c.get(ctx, "/"+postID, map[string]string{
		"fields":       "comments{id,text,username,timestamp}",
		"access_token": accessToken,
	})
	if err != nil {
		return nil, err
	}

	return parseComments(body.Get("comments.data")), nil
}

func parseComments(list gjson.Result) []Comment {
	result := []Comment{}
	list.ForEach(func(_, value gjson.Result) bool {
		result = append(result, Comment{
			ID:        value.Get("id").String(),
			Text:      value.Get("text").String(),
			Username:  value.Get("username").String(),
			Timestamp: value.Get("timestamp").String(),
		})
		return true
	})

	return result
}

type privateReply struct {
	Recipient struct {
		CommentID string `json:"comment_id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
	AccessToken string `json:"access_token"`
}

// SendPrivateReply sends message as a direct message to the author of the
// comment.
func (c *Client) SendPrivateReply(ctx context.Context, igBusinessID, commentID, message, accessToken string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body privateReply
	body.Recipient.CommentID = commentID
	body.Message.Text = message
	body.AccessToken = accessToken

	response, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/" + igBusinessID + "/messages")
	if err != nil {
		return err
	}
	if response.IsError() {
		return &GraphError{StatusCode: response.StatusCode(), Body: response.String()}
	}

	return nil
}
