package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/menubot/menubot/internal/channel"
	"github.com/menubot/menubot/internal/dispatch"
	"github.com/menubot/menubot/internal/keyboard"
	"github.com/menubot/menubot/internal/messenger"
	"github.com/menubot/menubot/internal/messenger/telegram"
	"github.com/menubot/menubot/internal/messenger/viber"
	"github.com/menubot/menubot/internal/subscriber"
)

type fakeChannels struct {
	ch  channel.Channel
	err error
}

func (f fakeChannels) GetBySlug(context.Context, string) (channel.Channel, error) {
	return f.ch, f.err
}

type fakeSubscribers struct {
	upserts     []messenger.Sender
	deactivated []string
	saved       []subscriber.Message
}

func (f *fakeSubscribers) Upsert(_ context.Context, botID int64, sender messenger.Sender) (subscriber.Subscriber, bool, error) {
	f.upserts = append(f.upserts, sender)
	return subscriber.Subscriber{ID: 11, BotID: botID, UserID: sender.ID, IsActive: true}, len(f.upserts) == 1, nil
}

func (f *fakeSubscribers) Deactivate(_ context.Context, _ int64, userID string) error {
	f.deactivated = append(f.deactivated, userID)
	return nil
}

func (f *fakeSubscribers) SaveMessage(_ context.Context, msg subscriber.Message) (subscriber.Message, error) {
	msg.ID = int64(len(f.saved) + 1)
	f.saved = append(f.saved, msg)
	return msg, nil
}

type fakeResolver struct {
	welcome   *keyboard.Action
	resolved  *keyboard.Action
	home      *keyboard.Action
	emergency *keyboard.Action
}

func (f fakeResolver) Resolve(context.Context, int64, int64, string) (keyboard.Action, bool, error) {
	if f.resolved == nil {
		return keyboard.Action{}, false, nil
	}
	return *f.resolved, true, nil
}

func (f fakeResolver) Welcome(context.Context, int64) (keyboard.Action, bool, error) {
	if f.welcome == nil {
		return keyboard.Action{}, false, nil
	}
	return *f.welcome, true, nil
}

func (f fakeResolver) Home(context.Context, int64, int64) (keyboard.Action, error) {
	if f.home == nil {
		return keyboard.Action{}, keyboard.ErrMissingHomeAction
	}
	return *f.home, nil
}

func (f fakeResolver) Help(ctx context.Context, channelID, welcomeActionID int64) (keyboard.Action, error) {
	if f.emergency != nil {
		return *f.emergency, nil
	}
	return f.Home(ctx, channelID, welcomeActionID)
}

func testChannel() channel.Channel {
	return channel.Channel{
		ID:              7,
		Slug:            "city-bot",
		MediaAllowed:    true,
		GeoAllowed:      true,
		WelcomeActionID: 9,
		Bots: []channel.Bot{
			{ID: 1, ChannelID: 7, Messenger: messenger.Telegram, Token: "tg-token"},
			{ID: 2, ChannelID: 7, Messenger: messenger.Viber, Token: "vb-token"},
		},
	}
}

func newProcessor(t *testing.T, channels dispatch.ChannelSource, subs dispatch.SubscriberRegistry, resolver dispatch.ActionResolver) (*dispatch.Processor, *fakeGateway, *fakeGateway) {
	t.Helper()
	tg := &fakeGateway{platform: messenger.Telegram}
	vb := &fakeGateway{platform: messenger.Viber}
	reg := messenger.NewRegistry()
	reg.MustRegister(tg, telegram.NewNormalizer())
	reg.MustRegister(vb, viber.NewNormalizer())
	d := dispatch.NewDispatcher(nil, fakeKeyboards{}, "/var/media", "https://example.com/media")
	return dispatch.NewProcessor(nil, reg, channels, subs, resolver, d, true), tg, vb
}

func TestHandleWebhook_StartUpsertsAndSendsWelcome(t *testing.T) {
	t.Parallel()
	subs := &fakeSubscribers{}
	welcome := &keyboard.Action{ID: 9, Type: keyboard.ActionText, Text: "Welcome!"}
	p, tg, _ := newProcessor(t, fakeChannels{ch: testChannel()}, subs, fakeResolver{welcome: welcome})

	body := []byte(`{"message":{"message_id":5,"chat":{"id":100,"username":"alice"},"text":"/start"}}`)
	if err := p.HandleWebhook(context.Background(), messenger.Telegram, "city-bot", body); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if len(subs.upserts) == 0 || subs.upserts[0].ID != "100" {
		t.Fatalf("upserts = %+v, want subscriber 100", subs.upserts)
	}
	if len(tg.calls) != 1 || tg.calls[0].text != "Welcome!" {
		t.Fatalf("calls = %+v, want welcome text", tg.calls)
	}
	if len(subs.saved) != 1 || subs.saved[0].IsHelpMessage {
		t.Fatalf("saved = %+v, want one archived non-help message", subs.saved)
	}
}

func TestHandleWebhook_SecondStartDoesNotDuplicate(t *testing.T) {
	t.Parallel()
	subs := &fakeSubscribers{}
	p, _, _ := newProcessor(t, fakeChannels{ch: testChannel()}, subs, fakeResolver{})

	body := []byte(`{"message":{"message_id":5,"chat":{"id":100},"text":"/start"}}`)
	for range 2 {
		if err := p.HandleWebhook(context.Background(), messenger.Telegram, "city-bot", body); err != nil {
			t.Fatalf("HandleWebhook: %v", err)
		}
	}
	for _, s := range subs.upserts {
		if s.ID != "100" {
			t.Fatalf("unexpected upsert %+v", s)
		}
	}
}

func TestHandleWebhook_ViberUnsubscribed(t *testing.T) {
	t.Parallel()
	subs := &fakeSubscribers{}
	p, _, vb := newProcessor(t, fakeChannels{ch: testChannel()}, subs, fakeResolver{})

	body := []byte(`{"event":"unsubscribed","user_id":"u42"}`)
	if err := p.HandleWebhook(context.Background(), messenger.Viber, "city-bot", body); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if len(subs.deactivated) != 1 || subs.deactivated[0] != "u42" {
		t.Fatalf("deactivated = %+v, want u42", subs.deactivated)
	}
	if len(subs.saved) != 0 {
		t.Fatalf("saved = %+v, want no archived message", subs.saved)
	}
	if len(vb.calls) != 0 {
		t.Fatalf("calls = %+v, want no outbound send", vb.calls)
	}
}

func TestHandleWebhook_ViberSubscribeSendsWelcomeWithoutArchiving(t *testing.T) {
	t.Parallel()
	for _, event := range []string{"subscribed", "conversation_started"} {
		t.Run(event, func(t *testing.T) {
			t.Parallel()
			subs := &fakeSubscribers{}
			welcome := &keyboard.Action{ID: 9, Type: keyboard.ActionText, Text: "Welcome!"}
			p, _, vb := newProcessor(t, fakeChannels{ch: testChannel()}, subs, fakeResolver{welcome: welcome})

			// Viber attaches a message_token to contact events too, but
			// there is no message text behind them.
			body := []byte(`{"event":"` + event + `","timestamp":1,"message_token":4912661846655238145,"user":{"id":"u9","name":"Zoe"}}`)
			if err := p.HandleWebhook(context.Background(), messenger.Viber, "city-bot", body); err != nil {
				t.Fatalf("HandleWebhook: %v", err)
			}
			if len(subs.upserts) != 1 || subs.upserts[0].ID != "u9" {
				t.Fatalf("upserts = %+v, want subscriber u9", subs.upserts)
			}
			if len(vb.calls) != 1 || vb.calls[0].text != "Welcome!" {
				t.Fatalf("calls = %+v, want welcome text", vb.calls)
			}
			if len(subs.saved) != 0 {
				t.Fatalf("saved = %+v, want no archived message for a contact event", subs.saved)
			}
		})
	}
}

func TestHandleWebhook_UnknownChannelAcksSilently(t *testing.T) {
	t.Parallel()
	subs := &fakeSubscribers{}
	p, tg, _ := newProcessor(t, fakeChannels{err: channel.ErrChannelNotFound}, subs, fakeResolver{})

	body := []byte(`{"message":{"message_id":5,"chat":{"id":100},"text":"hello"}}`)
	if err := p.HandleWebhook(context.Background(), messenger.Telegram, "ghost", body); err != nil {
		t.Fatalf("HandleWebhook = %v, want nil for unknown tenant", err)
	}
	if len(tg.calls) != 0 || len(subs.upserts) != 0 {
		t.Fatal("unknown tenant must not dispatch or touch subscribers")
	}
}

func TestHandleWebhook_MalformedBody(t *testing.T) {
	t.Parallel()
	p, _, _ := newProcessor(t, fakeChannels{ch: testChannel()}, &fakeSubscribers{}, fakeResolver{})
	err := p.HandleWebhook(context.Background(), messenger.Telegram, "city-bot", []byte(`{"message":`))
	if !errors.Is(err, messenger.ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
}

func TestHandleWebhook_HelpCommandArchivesHelpMessage(t *testing.T) {
	t.Parallel()
	subs := &fakeSubscribers{}
	emergency := &keyboard.Action{ID: 4, Type: keyboard.ActionText, Text: "An operator will reach you"}
	p, _, vb := newProcessor(t, fakeChannels{ch: testChannel()}, subs, fakeResolver{emergency: emergency})

	body := []byte(`{"event":"message","message_token":99,"sender":{"id":"u1","name":"Ann"},"message":{"type":"text","text":"/HELP"}}`)
	if err := p.HandleWebhook(context.Background(), messenger.Viber, "city-bot", body); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if len(vb.calls) != 1 || vb.calls[0].text != "An operator will reach you" {
		t.Fatalf("calls = %+v, want emergency reply", vb.calls)
	}
	if len(subs.saved) != 1 || !subs.saved[0].IsHelpMessage {
		t.Fatalf("saved = %+v, want help-flagged message", subs.saved)
	}
}

func TestHandleWebhook_OrdinaryMessageResolvesAndArchives(t *testing.T) {
	t.Parallel()
	subs := &fakeSubscribers{}
	resolved := &keyboard.Action{ID: 3, Type: keyboard.ActionText, Text: "Police called"}
	p, _, vb := newProcessor(t, fakeChannels{ch: testChannel()}, subs, fakeResolver{resolved: resolved})

	body := []byte(`{"event":"message","message_token":77,"sender":{"id":"u1"},"message":{"type":"text","text":"Call 102"}}`)
	if err := p.HandleWebhook(context.Background(), messenger.Viber, "city-bot", body); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if len(vb.calls) != 1 || vb.calls[0].text != "Police called" {
		t.Fatalf("calls = %+v, want resolved action text", vb.calls)
	}
	if len(subs.saved) != 1 || subs.saved[0].Text != "Call 102" {
		t.Fatalf("saved = %+v, want archived inbound text", subs.saved)
	}
}

func TestHandleWebhook_DeliveredIsNoop(t *testing.T) {
	t.Parallel()
	subs := &fakeSubscribers{}
	p, _, vb := newProcessor(t, fakeChannels{ch: testChannel()}, subs, fakeResolver{})

	body := []byte(`{"event":"delivered","user_id":"u1","message_token":12}`)
	if err := p.HandleWebhook(context.Background(), messenger.Viber, "city-bot", body); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if len(vb.calls) != 0 || len(subs.saved) != 0 || len(subs.deactivated) != 0 {
		t.Fatal("delivery receipt must be a no-op")
	}
}
