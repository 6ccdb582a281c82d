// Package telegram implements the operator channel on the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/operator"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	defaultTimeout = 15 * time.Second
	// maxTextRunes is the Bot API limit for sendMessage text.
	maxTextRunes = 4096
)

// Client calls the Bot API methods the bridge needs. Calls without a context deadline
// are bounded by defaultTimeout; long polls set their own.
type Client struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client for the bot token. baseURL defaults to the public API.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		Token:      token,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
	}
}

// APIError is a Bot API response with ok=false or a non-2xx status.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed status=%d: %s", e.Method, e.StatusCode, e.Description)
}

func (c *Client) call(ctx context.Context, method string, body any, result any) error {
	if c.Token == "" {
		return operator.ErrNotConfigured
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	url := c.BaseURL + "/bot" + c.Token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// The URL embeds the token; drop it from transport errors.
		return fmt.Errorf("telegram: %s: %w", method, redact(err, c.Token))
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	var env apiResponse[json.RawMessage]
	if err := json.Unmarshal(b, &env); err != nil {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: string(b)}
	}
	if resp.StatusCode != http.StatusOK || !env.OK {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: env.Description}
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(env.Result, result)
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, token string) error {
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}

// Send posts text to the chat, inside the thread when one is set. Text longer than the
// API limit is truncated.
func (c *Client) Send(ctx context.Context, to domain.Address, text string) error {
	if to.IsZero() {
		return fmt.Errorf("telegram: sendMessage: empty chat")
	}
	if r := []rune(text); len(r) > maxTextRunes {
		text = string(r[:maxTextRunes])
	}
	body := map[string]any{
		"chat_id": to.Chat,
		"text":    text,
	}
	if to.Thread != domain.NoThread {
		thread, err := strconv.ParseInt(to.Thread, 10, 64)
		if err != nil {
			return fmt.Errorf("telegram: sendMessage: thread %q: %w", to.Thread, err)
		}
		body["message_thread_id"] = thread
	}
	return c.call(ctx, "sendMessage", body, nil)
}

// CreateTopic opens a forum topic in a supergroup and returns its thread id.
func (c *Client) CreateTopic(ctx context.Context, chat, name string) (string, error) {
	if r := []rune(name); len(r) > 128 {
		name = string(r[:128])
	}
	var topic ForumTopic
	if err := c.call(ctx, "createForumTopic", map[string]any{"chat_id": chat, "name": name}, &topic); err != nil {
		return "", err
	}
	return strconv.FormatInt(topic.MessageThreadID, 10), nil
}

// GetUpdates long-polls for updates with id >= offset. The request deadline is the poll
// timeout plus the client's own timeout.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	secs := int(timeout / time.Second)
	ctx, cancel := context.WithTimeout(ctx, timeout+defaultTimeout)
	defer cancel()
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         secs,
		"allowed_updates": []string{"message"},
	}, &updates)
	return updates, err
}

var (
	_ operator.Sender       = (*Client)(nil)
	_ operator.TopicCreator = (*Client)(nil)
)
