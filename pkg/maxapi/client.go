// Package maxapi is a minimal MAX messenger Bot API client covering what
// the answer bot needs: identity lookup, long polling, sending, and editing
// messages. Authentication is an access_token query parameter.
package maxapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the production Bot API endpoint.
	DefaultBaseURL = "https://platform-api.max.ru"
	// DefaultPollTimeout is the long-poll wait the server holds a request open.
	DefaultPollTimeout = 30 * time.Second
	// DefaultPollLimit caps updates returned per poll.
	DefaultPollLimit = 100

	// pollGrace pads the HTTP deadline past the server-side poll timeout.
	pollGrace   = 15 * time.Second
	callTimeout = 15 * time.Second
)

// Client talks to the MAX Bot API. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// New creates a client for the given API base URL and bot token.
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
}

// Me fetches the bot account and doubles as a token check at startup.
func (c *Client) Me(ctx context.Context) (BotInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var info BotInfo
	if err := c.do(ctx, http.MethodGet, "/me", url.Values{}, nil, &info); err != nil {
		return BotInfo{}, err
	}
	return info, nil
}

// Poll requests updates past marker, waiting up to timeout server-side.
// A zero marker asks for the oldest pending updates.
func (c *Client) Poll(ctx context.Context, marker int64, timeout time.Duration, limit int) (UpdatesResponse, error) {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	if limit <= 0 {
		limit = DefaultPollLimit
	}

	q := url.Values{}
	if marker > 0 {
		q.Set("marker", strconv.FormatInt(marker, 10))
	}
	q.Set("timeout", strconv.Itoa(int(timeout/time.Second)))
	q.Set("limit", strconv.Itoa(limit))

	ctx, cancel := context.WithTimeout(ctx, timeout+pollGrace)
	defer cancel()

	var ur UpdatesResponse
	if err := c.do(ctx, http.MethodGet, "/updates", q, nil, &ur); err != nil {
		return UpdatesResponse{}, err
	}
	return ur, nil
}

// SendMessage posts msg to a chat and returns the stored message, whose
// Body.Mid is needed for later edits.
func (c *Client) SendMessage(ctx context.Context, chatID int64, msg OutgoingMessage) (Message, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("chat_id", strconv.FormatInt(chatID, 10))

	var res sendResult
	if err := c.do(ctx, http.MethodPost, "/messages", q, msg, &res); err != nil {
		return Message{}, err
	}
	return res.Message, nil
}

// EditMessage replaces the text of a previously sent message.
func (c *Client) EditMessage(ctx context.Context, messageID string, msg OutgoingMessage) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("message_id", messageID)
	return c.do(ctx, http.MethodPut, "/messages", q, msg, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	query.Set("access_token", c.token)

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query.Encode(), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = truncate(strings.TrimSpace(string(data)), 200)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("max api: decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
