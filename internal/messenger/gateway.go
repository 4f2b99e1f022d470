package messenger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/menubot/menubot/internal/keyboard"
)

var (
	// ErrMalformedPayload means the webhook body is not the JSON shape
	// the provider documents. Handlers answer it with a client error.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrBlockedByUser is the normalized provider rejection for a user
	// who blocked the bot. The gateway deactivates the subscriber before
	// returning it.
	ErrBlockedByUser = errors.New("bot was blocked by the user")
	// ErrUnsupported marks an operation the platform has no primitive for.
	ErrUnsupported = errors.New("operation not supported by messenger")
)

// Normalizer parses one platform's raw webhook body into the shared
// event model. It is a pure parse, no side effects.
type Normalizer interface {
	Messenger() Messenger
	Normalize(body []byte) (Event, error)
}

// Gateway is the outbound client for one messenger platform. All sends
// are keyed by bot token and return one SentRef per delivered message
// where the platform reports ids. Implementations own their platform's
// rate limiting and recipient chunking.
type Gateway interface {
	Messenger() Messenger
	SendText(ctx context.Context, token string, target Target, text string, kb *keyboard.Keyboard) ([]SentRef, error)
	SendMedia(ctx context.Context, token string, target Target, media Media, kb *keyboard.Keyboard) ([]SentRef, error)
	SendLocation(ctx context.Context, token string, target Target, loc Location, kb *keyboard.Keyboard) ([]SentRef, error)
	SendSticker(ctx context.Context, token string, target Target, stickerID string, kb *keyboard.Keyboard) ([]SentRef, error)
	DeleteMessage(ctx context.Context, token, chatID, messageID string) error
	SetWebhook(ctx context.Context, token, url string) error
	RemoveWebhook(ctx context.Context, token string) error
	WebhookInfo(ctx context.Context, token string) (string, error)
}

// FileResolver is an optional gateway capability: turning a platform
// file handle into a downloadable URL. Used when archiving inbound
// media on platforms whose webhooks carry an id instead of a link.
type FileResolver interface {
	FileURL(ctx context.Context, token, fileID string) (string, error)
}

// Registry holds the gateway and normalizer for each supported
// messenger. It is created once at boot and read-only afterwards,
// the mutex only guards registration order at startup.
type Registry struct {
	mu          sync.RWMutex
	gateways    map[Messenger]Gateway
	normalizers map[Messenger]Normalizer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		gateways:    map[Messenger]Gateway{},
		normalizers: map[Messenger]Normalizer{},
	}
}

// Register adds one platform's gateway and normalizer pair.
func (r *Registry) Register(gw Gateway, n Normalizer) error {
	if gw == nil || n == nil {
		return fmt.Errorf("gateway and normalizer are required")
	}
	if gw.Messenger() != n.Messenger() {
		return fmt.Errorf("gateway %q and normalizer %q disagree", gw.Messenger(), n.Messenger())
	}
	m := gw.Messenger()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.gateways[m]; exists {
		return fmt.Errorf("messenger already registered: %s", m)
	}
	r.gateways[m] = gw
	r.normalizers[m] = n
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(gw Gateway, n Normalizer) {
	if err := r.Register(gw, n); err != nil {
		panic(err)
	}
}

// Gateway returns the gateway for the given messenger.
func (r *Registry) Gateway(m Messenger) (Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[m]
	return gw, ok
}

// Normalizer returns the normalizer for the given messenger.
func (r *Registry) Normalizer(m Messenger) (Normalizer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.normalizers[m]
	return n, ok
}
