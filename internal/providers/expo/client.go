// Package expo sends push notifications through Expo's push service.
package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/velra-app/velra/internal/config"
	"go.uber.org/zap"
)

// DeviceNotRegistered is the ticket error Expo returns for tokens that
// must be deactivated.
const DeviceNotRegistered = "DeviceNotRegistered"

const maxBatchSize = 100

var ErrUpstream = errors.New("expo_upstream_error")

// Message is one push notification.
type Message struct {
	To    string         `json:"to"`
	Title string         `json:"title,omitempty"`
	Body  string         `json:"body,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
	Sound string         `json:"sound,omitempty"`
}

// Ticket is Expo's per-message receipt.
type Ticket struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

// Ok reports whether the message was accepted.
func (t Ticket) Ok() bool { return t.Status == "ok" }

// ShouldDeactivateToken reports whether the target token is dead.
func (t Ticket) ShouldDeactivateToken() bool {
	return t.Details.Error == DeviceNotRegistered
}

type pushResponse struct {
	Data []Ticket `json:"data"`
}

type Client struct {
	pushURL     string
	accessToken string
	http        *http.Client
	log         *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		pushURL:     cfg.Expo.PushURL,
		accessToken: cfg.Expo.AccessToken,
		http:        &http.Client{Timeout: 30 * time.Second},
		log:         log.Named("providers.expo"),
	}
}

// Send delivers messages in batches of at most 100, Expo's documented
// limit. Tickets come back in message order.
func (c *Client) Send(ctx context.Context, messages []Message) ([]Ticket, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	tickets := make([]Ticket, 0, len(messages))
	for start := 0; start < len(messages); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(messages) {
			end = len(messages)
		}
		batch, err := c.sendBatch(ctx, messages[start:end])
		if err != nil {
			return tickets, err
		}
		tickets = append(tickets, batch...)
	}
	return tickets, nil
}

func (c *Client) sendBatch(ctx context.Context, batch []Message) ([]Ticket, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pushURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		c.log.Warn("push send failed", zap.Int("status", res.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, res.StatusCode)
	}

	var out pushResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if len(out.Data) != len(batch) {
		return nil, fmt.Errorf("%w: got %d tickets for %d messages", ErrUpstream, len(out.Data), len(batch))
	}
	return out.Data, nil
}
