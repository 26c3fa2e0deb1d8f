package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

type telegramMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// TelegramTransport sends messages through the Telegram Bot API. The subscriber
// id is used as the chat id.
type TelegramTransport struct {
	endpoint string
	client   *http.Client
}

// NewTelegramTransport constructs a bot transport for token.
func NewTelegramTransport(token string, opts ...HTTPOption) (*TelegramTransport, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram transport: empty token")
	}
	o := applyHTTPOptions(defaultTelegramBaseURL, opts)
	return &TelegramTransport{
		endpoint: strings.TrimRight(o.baseURL, "/") + "/bot" + token + "/sendMessage",
		client:   o.client,
	}, nil
}

// Send posts one sendMessage call.
func (t *TelegramTransport) Send(ctx context.Context, subscriberID, text string) error {
	if t == nil {
		return errors.New("telegram transport: nil")
	}
	if subscriberID == "" {
		return errors.New("telegram transport: empty chat id")
	}
	body, err := json.Marshal(telegramMessage{ChatID: subscriberID, Text: text})
	if err != nil {
		return err
	}
	return postJSON(ctx, t.client, t.endpoint, body, "telegram transport")
}
