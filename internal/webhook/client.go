package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/go-resty/resty/v2"
)

const (
	HeaderSignature = "X-Avatarcrop-Signature"
	HeaderTimestamp = "X-Avatarcrop-Timestamp"
	HeaderEvent     = "X-Avatarcrop-Event"

	EventAvatarUploaded = "avatar.uploaded"
)

type Config struct {
	Endpoint       string
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client posts signed JSON notifications. The signature is
// HMAC-SHA256(secret, timestamp + "." + body).
type Client struct {
	http          *resty.Client
	endpoint      string
	signingSecret string
	maxAttempts   int
	now           func() time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxAttempts := max(cfg.MaxAttempts, 1)
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}
	maxBackoff := max(cfg.MaxBackoff, initialBackoff)

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(maxAttempts - 1).
		SetRetryWaitTime(initialBackoff).
		SetRetryMaxWaitTime(maxBackoff).
		AddRetryCondition(retryCondition)

	return &Client{
		http:          client,
		endpoint:      strings.TrimSpace(cfg.Endpoint),
		signingSecret: cfg.SigningSecret,
		maxAttempts:   maxAttempts,
		now:           time.Now,
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c.endpoint != ""
}

func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == 429 || code == 408
}

// Send posts payload to the configured endpoint. It is a no-op when no
// endpoint is set.
func (c *Client) Send(ctx context.Context, event string, payload any) error {
	if !c.Enabled() {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(c.now().UTC().Unix(), 10)
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(HeaderTimestamp, timestamp).
		SetHeader(HeaderSignature, c.sign(timestamp, body)).
		SetHeader(HeaderEvent, event).
		SetBody(body).
		Post(c.endpoint)
	if err != nil {
		return fmt.Errorf("webhook delivery failed after %d attempts: %w", c.maxAttempts, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook delivery failed after %d attempts: status=%d", c.maxAttempts, resp.StatusCode())
	}
	return nil
}

type AvatarUploaded struct {
	UserID     string    `json:"user_id"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// NotifyUploaded sends the avatar.uploaded event for a completed upload.
func (c *Client) NotifyUploaded(ctx context.Context, avatar domain.Avatar) error {
	return c.Send(ctx, EventAvatarUploaded, AvatarUploaded{
		UserID:     avatar.UserID,
		URL:        avatar.URL,
		UploadedAt: avatar.UpdatedAt,
	})
}

func (c *Client) sign(timestamp string, body []byte) string {
	return signature(c.signingSecret, timestamp, body)
}

// Verify checks a signature header value against the body. Receivers use it.
func Verify(secret, timestamp string, body []byte, sig string) bool {
	return hmac.Equal([]byte(signature(secret, timestamp, body)), []byte(sig))
}

func signature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
