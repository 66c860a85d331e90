package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/opstrack/opstrack/internal/redact"
)

// DefaultTimeout bounds a single webhook request.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a webhook response is read.
const maxResponseBytes = 64 << 10

// Dispatch errors. They are carried in Result.Err so callers can classify
// a failure without parsing the message.
var (
	ErrEmptyWebhook   = errors.New("webhook url is empty")
	ErrTransport      = errors.New("webhook transport error")
	ErrRemoteRejected = errors.New("webhook rejected message")
)

// Result is the outcome of one dispatch attempt.
type Result struct {
	Delivered bool
	Message   string
	Err       error
}

type markdownPayload struct {
	MsgType  string           `json:"msgtype"`
	Markdown *markdownContent `json:"markdown,omitempty"`
	Text     *textContent     `json:"text,omitempty"`
}

type markdownContent struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type textContent struct {
	Content string `json:"content"`
}

type webhookResponse struct {
	ErrCode *int   `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// WebhookDispatcher posts messages to chat-robot webhooks that answer with
// an {"errcode": 0} JSON body on success.
type WebhookDispatcher struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// DispatcherOption customizes a WebhookDispatcher.
type DispatcherOption func(*WebhookDispatcher)

// WithHTTPClient replaces the HTTP client. Mainly used by tests to inject a
// custom transport.
func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *WebhookDispatcher) {
		d.client = c
	}
}

// NewWebhookDispatcher creates a dispatcher whose transport ignores any
// proxy configured in the environment.
func NewWebhookDispatcher(timeout time.Duration, logger *slog.Logger, opts ...DispatcherOption) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := cleanhttp.DefaultPooledTransport()
	transport.Proxy = nil

	d := &WebhookDispatcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		timeout: timeout,
		logger:  logger.With("component", "webhook_dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send posts text to url. A non-empty title selects the markdown message
// shape, otherwise a plain text message is sent. Send never panics and
// reports every failure through the returned Result.
func (d *WebhookDispatcher) Send(ctx context.Context, url, text, title string) Result {
	url = strings.TrimSpace(url)
	if url == "" {
		return failure(ErrEmptyWebhook, ErrEmptyWebhook.Error())
	}

	payload := markdownPayload{MsgType: "text", Text: &textContent{Content: text}}
	if title != "" {
		payload = markdownPayload{
			MsgType:  "markdown",
			Markdown: &markdownContent{Title: title, Text: text},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return failure(ErrTransport, fmt.Sprintf("send failed: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return failure(ErrTransport, fmt.Sprintf("send failed: %s", redact.WebhookURLs(err.Error())))
	}
	req.Header.Set("Content-Type", "application/json")

	log := d.logger.With(
		slog.String("webhook", redact.WebhookURL(url)),
		slog.String("msgtype", payload.MsgType))

	resp, err := d.client.Do(req)
	if err != nil {
		log.Warn("webhook request failed", slog.String("error", redact.WebhookURLs(err.Error())))
		return failure(ErrTransport, fmt.Sprintf("send failed: %s", redact.WebhookURLs(err.Error())))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		log.Warn("failed to read webhook response",
			slog.Int("status_code", resp.StatusCode),
			slog.String("error", err.Error()))
		return failure(ErrTransport, fmt.Sprintf("send failed: reading response: %v", err))
	}

	var parsed webhookResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.ErrCode == nil {
		log.Warn("unparseable webhook response", slog.Int("status_code", resp.StatusCode))
		return failure(ErrRemoteRejected,
			fmt.Sprintf("remote rejected: unexpected response (HTTP %d)", resp.StatusCode))
	}

	if *parsed.ErrCode != 0 {
		log.Warn("webhook rejected message",
			slog.Int("status_code", resp.StatusCode),
			slog.Int("errcode", *parsed.ErrCode),
			slog.String("errmsg", parsed.ErrMsg))
		reason := parsed.ErrMsg
		if reason == "" {
			reason = fmt.Sprintf("errcode %d", *parsed.ErrCode)
		}
		return failure(ErrRemoteRejected, fmt.Sprintf("remote rejected: %s", reason))
	}

	log.Debug("webhook message delivered", slog.Int("status_code", resp.StatusCode))
	return Result{Delivered: true, Message: "sent"}
}

func failure(err error, msg string) Result {
	return Result{Delivered: false, Message: msg, Err: err}
}
