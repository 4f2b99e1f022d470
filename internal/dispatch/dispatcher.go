// Package dispatch turns resolved actions into outbound gateway calls
// and routes normalized webhook events through the engine.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/menubot/menubot/internal/keyboard"
	"github.com/menubot/menubot/internal/messenger"
)

// NoWelcomeActionText is sent verbatim when a channel has no welcome
// action configured. Degraded but user-visible beats a hard failure.
const NoWelcomeActionText = "No welcome action"

// KeyboardSource loads the keyboard an action represents.
// *keyboard.Store satisfies it.
type KeyboardSource interface {
	KeyboardByID(ctx context.Context, id int64) (keyboard.Keyboard, error)
}

// Dispatcher translates one action into gateway calls. Media and text in
// the same action go out as two separate calls, mirroring the two
// underlying platform primitives.
type Dispatcher struct {
	logger    *slog.Logger
	keyboards KeyboardSource
	// mediaRoot is where action media lives on disk, for Telegram uploads.
	mediaRoot string
	// mediaBaseURL is the public prefix Viber fetches media through.
	mediaBaseURL string
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(log *slog.Logger, keyboards KeyboardSource, mediaRoot, mediaBaseURL string) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		logger:       log.With(slog.String("component", "dispatcher")),
		keyboards:    keyboards,
		mediaRoot:    mediaRoot,
		mediaBaseURL: strings.TrimRight(mediaBaseURL, "/"),
	}
}

// Dispatch sends an action to the target through the given gateway and
// returns the provider refs of every delivered message, in send order.
// A nil action sends the NoWelcomeActionText fallback. Failed calls are
// logged and do not stop the remaining calls of the same action; the
// first failure is still reported to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, gw messenger.Gateway, token string, target messenger.Target, action *keyboard.Action) ([]messenger.SentRef, error) {
	if action == nil {
		return gw.SendText(ctx, token, target, NoWelcomeActionText, nil)
	}

	kb, err := d.keyboards.KeyboardByID(ctx, action.KeyboardID)
	if err != nil {
		d.logger.Warn("load keyboard",
			slog.Int64("action_id", action.ID), slog.Any("error", err))
	}
	markup := &kb

	var (
		refs []messenger.SentRef
		errs []error
	)
	send := func(got []messenger.SentRef, err error) {
		refs = append(refs, got...)
		if err != nil {
			d.logger.Warn("dispatch call failed",
				slog.Int64("action_id", action.ID),
				slog.String("action_type", string(action.Type)),
				slog.Any("error", err))
			errs = append(errs, err)
		}
	}

	switch action.Type {
	case keyboard.ActionText, keyboard.ActionNone:
		// no content call; text goes out below
	case keyboard.ActionPicture:
		if p, ok := action.Picture(); ok && p.Path != "" {
			send(gw.SendMedia(ctx, token, target, d.media(action.ID, messenger.MediaPhoto, p.Path), markup))
		}
	case keyboard.ActionVideo:
		if p, ok := action.Video(); ok && p.Path != "" {
			send(gw.SendMedia(ctx, token, target, d.media(action.ID, messenger.MediaVideo, p.Path), markup))
		}
	case keyboard.ActionFile:
		if p, ok := action.File(); ok && p.Path != "" {
			send(gw.SendMedia(ctx, token, target, d.media(action.ID, messenger.MediaDocument, p.Path), markup))
		}
	case keyboard.ActionURL:
		if p, ok := action.URL(); ok && p.URL != "" {
			send(gw.SendMedia(ctx, token, target, messenger.Media{
				ActionID: action.ID,
				Kind:     messenger.MediaURL,
				URL:      p.URL,
			}, markup))
		}
	case keyboard.ActionLocation:
		if p, ok := action.Location(); ok && p.Complete() {
			send(gw.SendLocation(ctx, token, target, messenger.Location{Lat: p.Lat, Lon: p.Lon}, markup))
		}
	case keyboard.ActionSticker:
		if p, ok := action.Sticker(); ok {
			if id := stickerIDFor(gw.Messenger(), p); id != "" {
				send(gw.SendSticker(ctx, token, target, id, markup))
			}
		}
	}

	if action.Text != "" {
		send(gw.SendText(ctx, token, target, action.Text, markup))
	}

	if len(errs) > 0 {
		return refs, errors.Join(errs...)
	}
	return refs, nil
}

// media builds the platform-neutral media reference for a stored file.
// Size is best effort, Viber wants it for files and videos.
func (d *Dispatcher) media(actionID int64, kind messenger.MediaKind, relPath string) messenger.Media {
	m := messenger.Media{
		ActionID:  actionID,
		Kind:      kind,
		LocalPath: filepath.Join(d.mediaRoot, relPath),
		URL:       d.mediaBaseURL + "/" + strings.TrimLeft(relPath, "/"),
		FileName:  path.Base(relPath),
	}
	if info, err := os.Stat(m.LocalPath); err == nil {
		m.Size = info.Size()
	}
	return m
}

// stickerIDFor picks the messenger's half of the stored sticker pair.
// An absent half skips the send entirely.
func stickerIDFor(m messenger.Messenger, p keyboard.StickerPayload) string {
	if m == messenger.Telegram {
		return p.TelegramID()
	}
	return p.ViberID()
}
