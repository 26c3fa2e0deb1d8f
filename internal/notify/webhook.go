package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type webhookPayload struct {
	MsgType    string      `json:"msgtype"`
	Subscriber string      `json:"subscriber"`
	Text       webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookTransport posts each message to a webhook endpoint.
type WebhookTransport struct {
	url    string
	client *http.Client
}

// HTTPOption configures HTTP based transports.
type HTTPOption func(*httpOptions)

type httpOptions struct {
	client  *http.Client
	baseURL string
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(o *httpOptions) {
		if client != nil {
			o.client = client
		}
	}
}

// WithBaseURL overrides the API base URL of the Telegram transport.
func WithBaseURL(url string) HTTPOption {
	return func(o *httpOptions) {
		if url != "" {
			o.baseURL = url
		}
	}
}

func applyHTTPOptions(defaultBase string, opts []HTTPOption) httpOptions {
	o := httpOptions{client: &http.Client{Timeout: 10 * time.Second}, baseURL: defaultBase}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewWebhookTransport constructs a webhook transport.
func NewWebhookTransport(url string, opts ...HTTPOption) (*WebhookTransport, error) {
	if url == "" {
		return nil, errors.New("webhook transport: empty url")
	}
	o := applyHTTPOptions("", opts)
	return &WebhookTransport{url: url, client: o.client}, nil
}

// Send posts a DingTalk/WeCom-compatible text payload tagged with the subscriber.
func (w *WebhookTransport) Send(ctx context.Context, subscriberID, text string) error {
	if w == nil || w.url == "" {
		return errors.New("webhook transport: empty url")
	}
	body, err := json.Marshal(webhookPayload{
		MsgType:    "text",
		Subscriber: subscriberID,
		Text:       webhookText{Content: text},
	})
	if err != nil {
		return err
	}
	return postJSON(ctx, w.client, w.url, body, "webhook transport")
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: non-2xx response %d", name, resp.StatusCode)
	}
	return nil
}
