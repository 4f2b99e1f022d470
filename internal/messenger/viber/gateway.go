package viber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/menubot/menubot/internal/keyboard"
	"github.com/menubot/menubot/internal/messenger"
)

// DefaultBaseURL is the Viber chat API endpoint.
const DefaultBaseURL = "https://chatapi.viber.com/pa"

// BroadcastChunkSize is the platform ceiling on recipients per
// broadcast_message call.
const BroadcastChunkSize = 300

const authTokenHeader = "X-Viber-Auth-Token"

// webhook event types subscribed on registration.
var webhookEventTypes = []string{
	"subscribed", "unsubscribed", "conversation_started",
	"delivered", "failed", "message", "seen",
}

// Gateway is the outbound Viber client. Broadcasts larger than the
// platform ceiling are chunked into consecutive calls, the caller never
// sees the limit.
type Gateway struct {
	logger  *slog.Logger
	client  *http.Client
	baseURL string
}

// Option adjusts gateway construction.
type Option func(*Gateway)

// WithBaseURL overrides the API endpoint, for tests.
func WithBaseURL(url string) Option {
	return func(g *Gateway) { g.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// NewGateway creates a Viber gateway.
func NewGateway(log *slog.Logger, opts ...Option) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{
		logger:  log.With(slog.String("gateway", "viber")),
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Messenger reports the platform this gateway sends to.
func (*Gateway) Messenger() messenger.Messenger {
	return messenger.Viber
}

// message is the send_message/broadcast_message request body.
type message struct {
	MinAPIVersion int            `json:"min_api_version"`
	Receiver      string         `json:"receiver,omitempty"`
	BroadcastList []string       `json:"broadcast_list,omitempty"`
	Type          string         `json:"type"`
	Text          string         `json:"text,omitempty"`
	Media         string         `json:"media,omitempty"`
	FileName      string         `json:"file_name,omitempty"`
	Size          int64          `json:"size,omitempty"`
	StickerID     string         `json:"sticker_id,omitempty"`
	Location      *location      `json:"location,omitempty"`
	Keyboard      *viberKeyboard `json:"keyboard,omitempty"`
}

type location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type apiResponse struct {
	Status        int         `json:"status"`
	StatusMessage string      `json:"status_message"`
	MessageToken  json.Number `json:"message_token"`
}

// SendText sends a text message with the keyboard attached.
func (g *Gateway) SendText(ctx context.Context, token string, target messenger.Target, text string, kb *keyboard.Keyboard) ([]messenger.SentRef, error) {
	return g.send(ctx, token, target, message{
		Type:     "text",
		Text:     text,
		Keyboard: renderKeyboard(kb),
	})
}

// SendMedia sends a picture, video, file or link. Viber fetches media by
// public URL, there is no upload primitive.
func (g *Gateway) SendMedia(ctx context.Context, token string, target messenger.Target, media messenger.Media, kb *keyboard.Keyboard) ([]messenger.SentRef, error) {
	msg := message{
		Type:     string(media.Kind),
		Media:    media.URL,
		Keyboard: renderKeyboard(kb),
	}
	switch media.Kind {
	case messenger.MediaVideo:
		msg.Size = media.Size
	case messenger.MediaDocument:
		msg.FileName = media.FileName
		msg.Size = media.Size
	}
	return g.send(ctx, token, target, msg)
}

// SendLocation sends a lat/lon point.
func (g *Gateway) SendLocation(ctx context.Context, token string, target messenger.Target, loc messenger.Location, kb *keyboard.Keyboard) ([]messenger.SentRef, error) {
	return g.send(ctx, token, target, message{
		Type:     "location",
		Location: &location{Lat: loc.Lat, Lon: loc.Lon},
		Keyboard: renderKeyboard(kb),
	})
}

// SendSticker sends a sticker by its Viber sticker id.
func (g *Gateway) SendSticker(ctx context.Context, token string, target messenger.Target, stickerID string, kb *keyboard.Keyboard) ([]messenger.SentRef, error) {
	return g.send(ctx, token, target, message{
		Type:      "sticker",
		StickerID: stickerID,
		Keyboard:  renderKeyboard(kb),
	})
}

// DeleteMessage is not supported, Viber has no delete primitive.
func (g *Gateway) DeleteMessage(ctx context.Context, token, chatID, messageID string) error {
	return messenger.ErrUnsupported
}

// SetWebhook registers the callback URL for a bot token.
func (g *Gateway) SetWebhook(ctx context.Context, token, url string) error {
	body := map[string]any{
		"url":         url,
		"event_types": webhookEventTypes,
	}
	_, err := g.post(ctx, token, "set_webhook", body)
	return err
}

// RemoveWebhook unregisters the callback URL. Viber treats an empty url
// as removal.
func (g *Gateway) RemoveWebhook(ctx context.Context, token string) error {
	_, err := g.post(ctx, token, "set_webhook", map[string]any{"url": ""})
	return err
}

// WebhookInfo returns the registered callback URL from account info.
func (g *Gateway) WebhookInfo(ctx context.Context, token string) (string, error) {
	var info struct {
		Status  int    `json:"status"`
		Webhook string `json:"webhook"`
	}
	raw, err := g.post(ctx, token, "get_account_info", map[string]any{})
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return "", fmt.Errorf("decode account info: %w", err)
	}
	return info.Webhook, nil
}

// AccountInfo returns the bot account name for a token.
func (g *Gateway) AccountInfo(ctx context.Context, token string) (string, error) {
	var info struct {
		Name string `json:"name"`
	}
	raw, err := g.post(ctx, token, "get_account_info", map[string]any{})
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return "", fmt.Errorf("decode account info: %w", err)
	}
	return info.Name, nil
}

// send routes a message to one recipient or a chunked broadcast.
// Broadcast responses carry no per-recipient message tokens, so only
// single sends yield refs.
func (g *Gateway) send(ctx context.Context, token string, target messenger.Target, msg message) ([]messenger.SentRef, error) {
	msg.MinAPIVersion = 1
	if !target.IsBroadcast() {
		msg.Receiver = target.ChatID
		resp, err := g.call(ctx, token, "send_message", msg)
		if err != nil {
			return nil, err
		}
		if resp.MessageToken == "" {
			return nil, nil
		}
		return []messenger.SentRef{{ChatID: target.ChatID, MessageID: resp.MessageToken.String()}}, nil
	}
	for _, chunk := range chunkRecipients(target.Broadcast, BroadcastChunkSize) {
		msg.Receiver = ""
		msg.BroadcastList = chunk
		if _, err := g.call(ctx, token, "broadcast_message", msg); err != nil {
			g.logger.Warn("viber broadcast chunk failed",
				slog.Int("recipients", len(chunk)), slog.Any("error", err))
		}
	}
	return nil, nil
}

func (g *Gateway) call(ctx context.Context, token, endpoint string, msg message) (apiResponse, error) {
	raw, err := g.post(ctx, token, endpoint, msg)
	if err != nil {
		return apiResponse{}, err
	}
	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return apiResponse{}, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	if resp.Status != 0 {
		return resp, fmt.Errorf("viber %s: status %d %s", endpoint, resp.Status, resp.StatusMessage)
	}
	return resp, nil
}

func (g *Gateway) post(ctx context.Context, token, endpoint string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set(authTokenHeader, token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("viber %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("viber %s: http %d", endpoint, resp.StatusCode)
	}
	return buf.Bytes(), nil
}

// chunkRecipients splits a recipient list into consecutive slices of at
// most size entries, preserving order.
func chunkRecipients(recipients []string, size int) [][]string {
	var chunks [][]string
	for len(recipients) > size {
		chunks = append(chunks, recipients[:size])
		recipients = recipients[size:]
	}
	if len(recipients) > 0 {
		chunks = append(chunks, recipients)
	}
	return chunks
}
