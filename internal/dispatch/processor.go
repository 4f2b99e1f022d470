package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/menubot/menubot/internal/channel"
	"github.com/menubot/menubot/internal/keyboard"
	"github.com/menubot/menubot/internal/messenger"
	"github.com/menubot/menubot/internal/subscriber"
)

// ChannelSource resolves a tenant by webhook slug. *channel.Store
// satisfies it.
type ChannelSource interface {
	GetBySlug(ctx context.Context, slug string) (channel.Channel, error)
}

// SubscriberRegistry is the subscriber state the processor touches.
// *subscriber.Store satisfies it.
type SubscriberRegistry interface {
	Upsert(ctx context.Context, botID int64, sender messenger.Sender) (subscriber.Subscriber, bool, error)
	Deactivate(ctx context.Context, botID int64, userID string) error
	SaveMessage(ctx context.Context, msg subscriber.Message) (subscriber.Message, error)
}

// ActionResolver picks the action answering an inbound event.
// *keyboard.Resolver satisfies it.
type ActionResolver interface {
	Resolve(ctx context.Context, channelID, welcomeActionID int64, text string) (keyboard.Action, bool, error)
	Welcome(ctx context.Context, welcomeActionID int64) (keyboard.Action, bool, error)
	Home(ctx context.Context, channelID, welcomeActionID int64) (keyboard.Action, error)
	Help(ctx context.Context, channelID, welcomeActionID int64) (keyboard.Action, error)
}

// Processor routes one webhook request end to end: normalize, branch on
// event kind, resolve, dispatch, archive. Each request is an independent
// unit of work, the store is the only shared state.
type Processor struct {
	logger       *slog.Logger
	registry     *messenger.Registry
	channels     ChannelSource
	subscribers  SubscriberRegistry
	resolver     ActionResolver
	dispatcher   *Dispatcher
	saveMessages bool
}

// NewProcessor creates a webhook processor.
func NewProcessor(
	log *slog.Logger,
	registry *messenger.Registry,
	channels ChannelSource,
	subscribers SubscriberRegistry,
	resolver ActionResolver,
	dispatcher *Dispatcher,
	saveMessages bool,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		logger:       log.With(slog.String("component", "processor")),
		registry:     registry,
		channels:     channels,
		subscribers:  subscribers,
		resolver:     resolver,
		dispatcher:   dispatcher,
		saveMessages: saveMessages,
	}
}

// HandleWebhook processes one raw webhook body for a messenger and
// tenant slug. Only ErrMalformedPayload propagates to the HTTP layer;
// everything else fails softly so the provider still gets its 200 and
// does not retry-flood a broken channel.
func (p *Processor) HandleWebhook(ctx context.Context, m messenger.Messenger, slug string, body []byte) error {
	normalizer, ok := p.registry.Normalizer(m)
	if !ok {
		return fmt.Errorf("no normalizer for messenger %s", m)
	}
	ev, err := normalizer.Normalize(body)
	if err != nil {
		return err
	}
	if ev.Kind == messenger.EventUnknown {
		return nil
	}

	ch, err := p.channels.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, channel.ErrChannelNotFound) {
			p.logger.Warn("webhook for unknown channel",
				slog.String("slug", slug), slog.String("messenger", m.String()))
			return nil
		}
		return fmt.Errorf("load channel %q: %w", slug, err)
	}
	bot, ok := ch.Bot(m)
	if !ok {
		p.logger.Warn("channel has no bot for messenger",
			slog.String("slug", slug), slog.String("messenger", m.String()))
		return nil
	}
	gw, ok := p.registry.Gateway(m)
	if !ok {
		return fmt.Errorf("no gateway for messenger %s", m)
	}

	log := p.logger.With(
		slog.String("slug", slug),
		slog.String("messenger", m.String()),
		slog.String("user_id", ev.Sender.ID),
	)

	switch ev.Kind {
	case messenger.EventSubscribed:
		p.handleSubscribed(ctx, log, gw, ch, bot, ev)
	case messenger.EventUnsubscribed:
		if err := p.subscribers.Deactivate(ctx, bot.ID, ev.Sender.ID); err != nil {
			if !errors.Is(err, subscriber.ErrSubscriberNotFound) {
				log.Error("deactivate subscriber", slog.Any("error", err))
			}
			return nil
		}
		log.Info("subscriber unsubscribed")
	case messenger.EventDeliveryStatus:
		if ev.Status == "failed" {
			log.Error("provider reported failed delivery", slog.String("desc", ev.Text))
		}
	case messenger.EventSystemCommand:
		p.handleSystemCommand(ctx, log, gw, ch, bot, ev)
	case messenger.EventMessage:
		p.handleMessage(ctx, log, gw, ch, bot, ev)
	}
	return nil
}

func (p *Processor) handleSubscribed(ctx context.Context, log *slog.Logger, gw messenger.Gateway, ch channel.Channel, bot channel.Bot, ev messenger.Event) {
	sub, created, err := p.subscribers.Upsert(ctx, bot.ID, ev.Sender)
	if err != nil {
		log.Error("upsert subscriber", slog.Any("error", err))
		return
	}
	log.Info("subscriber contact", slog.Int64("subscriber_id", sub.ID), slog.Bool("created", created))

	action, ok, err := p.resolver.Welcome(ctx, ch.WelcomeActionID)
	if err != nil {
		log.Error("resolve welcome action", slog.Any("error", err))
		return
	}
	var toSend *keyboard.Action
	if ok {
		toSend = &action
	} else {
		log.Warn("no welcome action")
	}
	if _, err := p.dispatcher.Dispatch(ctx, gw, bot.Token, messenger.To(ev.Sender.ID), toSend); err != nil {
		log.Warn("dispatch welcome", slog.Any("error", err))
	}
	p.archive(ctx, log, gw, ch, bot, ev, false)
}

func (p *Processor) handleSystemCommand(ctx context.Context, log *slog.Logger, gw messenger.Gateway, ch channel.Channel, bot channel.Bot, ev messenger.Event) {
	isHelp := ev.IsHelpCommand()
	var (
		action keyboard.Action
		err    error
	)
	if isHelp {
		action, err = p.resolver.Help(ctx, ch.ID, ch.WelcomeActionID)
	} else {
		// unrecognized commands get the home menu back
		action, err = p.resolver.Home(ctx, ch.ID, ch.WelcomeActionID)
	}
	if err != nil {
		log.Error("resolve system command", slog.Bool("help", isHelp), slog.Any("error", err))
		return
	}
	if _, err := p.dispatcher.Dispatch(ctx, gw, bot.Token, messenger.To(ev.Sender.ID), &action); err != nil {
		log.Warn("dispatch system command", slog.Any("error", err))
	}
	p.archive(ctx, log, gw, ch, bot, ev, isHelp)
}

func (p *Processor) handleMessage(ctx context.Context, log *slog.Logger, gw messenger.Gateway, ch channel.Channel, bot channel.Bot, ev messenger.Event) {
	action, ok, err := p.resolver.Resolve(ctx, ch.ID, ch.WelcomeActionID, ev.Text)
	if err != nil {
		log.Error("resolve action", slog.Any("error", err))
		return
	}
	var toSend *keyboard.Action
	if ok {
		toSend = &action
	}
	if _, err := p.dispatcher.Dispatch(ctx, gw, bot.Token, messenger.To(ev.Sender.ID), toSend); err != nil {
		log.Warn("dispatch action", slog.Any("error", err))
	}
	p.archive(ctx, log, gw, ch, bot, ev, false)
}

// archive persists the inbound message, honoring the channel's media and
// geo flags. Only message-bearing events are archived: contact events
// carry no message text (Viber sends a message_token on subscribe
// callbacks too, but there is no message behind it), while a Telegram
// /start arrives as an actual message and is kept.
func (p *Processor) archive(ctx context.Context, log *slog.Logger, gw messenger.Gateway, ch channel.Channel, bot channel.Bot, ev messenger.Event, isHelp bool) {
	if !p.saveMessages || ev.MessageToken == "" {
		return
	}
	if ev.Kind == messenger.EventSubscribed && ev.Text == "" {
		return
	}
	sub, _, err := p.subscribers.Upsert(ctx, bot.ID, ev.Sender)
	if err != nil {
		log.Error("archive: upsert subscriber", slog.Any("error", err))
		return
	}
	msg := subscriber.Message{
		SubscriberID:  sub.ID,
		MessageToken:  ev.MessageToken,
		Text:          ev.Text,
		IsHelpMessage: isHelp,
	}
	if ch.MediaAllowed {
		msg.MediaURL = p.inboundMediaURL(ctx, log, gw, bot.Token, ev)
	}
	if ch.GeoAllowed && ev.Location != nil {
		loc := *ev.Location
		msg.Location = &loc
	}
	if _, err := p.subscribers.SaveMessage(ctx, msg); err != nil {
		log.Error("archive message", slog.Any("error", err))
	}
}

// inboundMediaURL resolves the archived media link. Viber ships a direct
// URL, Telegram only a file id that the gateway can exchange for one.
func (p *Processor) inboundMediaURL(ctx context.Context, log *slog.Logger, gw messenger.Gateway, token string, ev messenger.Event) string {
	if ev.MediaURL != "" {
		return ev.MediaURL
	}
	if ev.MediaFileID == "" {
		return ""
	}
	resolver, ok := gw.(messenger.FileResolver)
	if !ok {
		return ""
	}
	url, err := resolver.FileURL(ctx, token, ev.MediaFileID)
	if err != nil {
		log.Warn("resolve inbound media url", slog.Any("error", err))
		return ""
	}
	return url
}
