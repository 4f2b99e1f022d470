package viber_test

import (
	"errors"
	"testing"

	"github.com/menubot/menubot/internal/messenger"
	"github.com/menubot/menubot/internal/messenger/viber"
)

func TestNormalize_TextMessage(t *testing.T) {
	t.Parallel()
	body := []byte(`{"event":"message","message_token":4912661846655238145,
		"sender":{"id":"01234567890A=","name":"John","avatar":"http://avatar.example.com"},
		"message":{"type":"text","text":"Call 102"}}`)
	ev, err := viber.NewNormalizer().Normalize(body)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.Kind != messenger.EventMessage {
		t.Fatalf("Kind = %q, want message", ev.Kind)
	}
	if ev.Sender.ID != "01234567890A=" || ev.Sender.Name != "John" {
		t.Fatalf("Sender = %+v", ev.Sender)
	}
	if ev.MessageToken != "4912661846655238145" {
		t.Fatalf("MessageToken = %q", ev.MessageToken)
	}
}

func TestNormalize_SlashCommand(t *testing.T) {
	t.Parallel()
	body := []byte(`{"event":"message","sender":{"id":"u"},"message":{"type":"text","text":"/HELP"}}`)
	ev, err := viber.NewNormalizer().Normalize(body)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.Kind != messenger.EventSystemCommand || !ev.IsHelpCommand() {
		t.Fatalf("event = %+v, want help system command", ev)
	}
}

func TestNormalize_ConversationStartedSubscribes(t *testing.T) {
	t.Parallel()
	body := []byte(`{"event":"conversation_started","type":"open","user":{"id":"u1","name":"Ann"}}`)
	ev, err := viber.NewNormalizer().Normalize(body)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.Kind != messenger.EventSubscribed || ev.Sender.ID != "u1" {
		t.Fatalf("event = %+v, want subscribed for u1", ev)
	}
}

func TestNormalize_Unsubscribed(t *testing.T) {
	t.Parallel()
	body := []byte(`{"event":"unsubscribed","user_id":"u1"}`)
	ev, err := viber.NewNormalizer().Normalize(body)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.Kind != messenger.EventUnsubscribed || ev.Sender.ID != "u1" {
		t.Fatalf("event = %+v, want unsubscribed for u1", ev)
	}
}

func TestNormalize_DeliveryStatuses(t *testing.T) {
	t.Parallel()
	for _, event := range []string{"failed", "delivered", "seen"} {
		body := []byte(`{"event":"` + event + `","user_id":"u1","message_token":12}`)
		ev, err := viber.NewNormalizer().Normalize(body)
		if err != nil {
			t.Fatalf("Normalize(%s): %v", event, err)
		}
		if ev.Kind != messenger.EventDeliveryStatus || ev.Status != event {
			t.Fatalf("Normalize(%s) = %+v", event, ev)
		}
	}
}

func TestNormalize_WebhookEventIsUnknown(t *testing.T) {
	t.Parallel()
	ev, err := viber.NewNormalizer().Normalize([]byte(`{"event":"webhook","timestamp":1}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.Kind != messenger.EventUnknown {
		t.Fatalf("Kind = %q, want unknown", ev.Kind)
	}
}

func TestNormalize_MalformedJSON(t *testing.T) {
	t.Parallel()
	_, err := viber.NewNormalizer().Normalize([]byte(`not json`))
	if !errors.Is(err, messenger.ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
}

func TestNormalize_MessageWithoutSender(t *testing.T) {
	t.Parallel()
	_, err := viber.NewNormalizer().Normalize([]byte(`{"event":"message","message":{"type":"text","text":"x"}}`))
	if !errors.Is(err, messenger.ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
}
