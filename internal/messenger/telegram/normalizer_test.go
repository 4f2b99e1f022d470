package telegram_test

import (
	"errors"
	"testing"

	"github.com/menubot/menubot/internal/messenger"
	"github.com/menubot/menubot/internal/messenger/telegram"
)

func TestNormalize_Start(t *testing.T) {
	t.Parallel()
	body := []byte(`{"update_id":1,"message":{"message_id":42,"chat":{"id":100,"username":"alice"},"text":"/start"}}`)
	ev, err := telegram.NewNormalizer().Normalize(body)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.Kind != messenger.EventSubscribed {
		t.Fatalf("Kind = %q, want subscribed", ev.Kind)
	}
	if ev.Sender.ID != "100" || ev.Sender.Name != "alice" {
		t.Fatalf("Sender = %+v, want id 100 name alice", ev.Sender)
	}
	if ev.MessageToken != "42" {
		t.Fatalf("MessageToken = %q, want 42", ev.MessageToken)
	}
}

func TestNormalize_SystemCommand(t *testing.T) {
	t.Parallel()
	body := []byte(`{"message":{"message_id":1,"chat":{"id":5,"first_name":"Bob"},"text":"/help me please"}}`)
	ev, err := telegram.NewNormalizer().Normalize(body)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.Kind != messenger.EventSystemCommand {
		t.Fatalf("Kind = %q, want system_command", ev.Kind)
	}
	if !ev.IsHelpCommand() {
		t.Fatal("IsHelpCommand = false, want true")
	}
	if ev.Sender.Name != "Bob" {
		t.Fatalf("Sender.Name = %q, want first name fallback", ev.Sender.Name)
	}
}

func TestNormalize_OrdinaryMessage(t *testing.T) {
	t.Parallel()
	body := []byte(`{"message":{"message_id":2,"chat":{"id":5},"text":"Call 102"}}`)
	ev, err := telegram.NewNormalizer().Normalize(body)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.Kind != messenger.EventMessage || ev.Text != "Call 102" {
		t.Fatalf("event = %+v, want message with text", ev)
	}
}

func TestNormalize_EditedMessageIsUnknown(t *testing.T) {
	t.Parallel()
	body := []byte(`{"update_id":3,"edited_message":{"message_id":9,"chat":{"id":5},"text":"hi"}}`)
	ev, err := telegram.NewNormalizer().Normalize(body)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.Kind != messenger.EventUnknown {
		t.Fatalf("Kind = %q, want unknown", ev.Kind)
	}
}

func TestNormalize_PhotoPicksOriginalSize(t *testing.T) {
	t.Parallel()
	body := []byte(`{"message":{"message_id":4,"chat":{"id":5},"caption":"sunset","photo":[{"file_id":"small"},{"file_id":"big"}]}}`)
	ev, err := telegram.NewNormalizer().Normalize(body)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.MediaFileID != "big" || ev.MediaType != "photo" {
		t.Fatalf("media = (%q, %q), want last photo size", ev.MediaFileID, ev.MediaType)
	}
	if ev.Text != "sunset" {
		t.Fatalf("Text = %q, want caption", ev.Text)
	}
}

func TestNormalize_MalformedJSON(t *testing.T) {
	t.Parallel()
	_, err := telegram.NewNormalizer().Normalize([]byte(`{"message":`))
	if !errors.Is(err, messenger.ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
}
