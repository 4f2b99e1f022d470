package keyboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultPrompt replaces the welcome action's text when inbound text
// matched neither a button nor an action name.
const DefaultPrompt = "Оберіть, будь ласка, що Вас цікавить. " +
	"(у разі необхідності допомоги почніть повідомлення з '/help')"

// ErrMissingHomeAction means a channel has no welcome action and no
// actions at all, so the help flow has nothing to answer with.
var ErrMissingHomeAction = errors.New("channel has no home action")

// ActionSource is the read surface the resolver needs. *Store satisfies it.
type ActionSource interface {
	ButtonActionByText(ctx context.Context, channelID int64, text string) (Action, error)
	ActionByName(ctx context.Context, channelID int64, name string) (Action, error)
	ActionByID(ctx context.Context, id int64) (Action, error)
	FirstAction(ctx context.Context, channelID int64) (Action, error)
}

// Resolver maps inbound text onto the action to execute.
type Resolver struct {
	src    ActionSource
	logger *slog.Logger
}

// NewResolver creates a resolver over the given action source.
func NewResolver(log *slog.Logger, src ActionSource) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		src:    src,
		logger: log.With(slog.String("component", "resolver")),
	}
}

// Resolve picks the action for ordinary inbound text. Precedence: button
// display text, then action name, then the channel's welcome action with
// its text replaced by DefaultPrompt. When no welcome action is
// configured the returned ok is false and the caller sends the literal
// "No welcome action" fallback.
func (r *Resolver) Resolve(ctx context.Context, channelID, welcomeActionID int64, text string) (Action, bool, error) {
	text = strings.TrimSpace(text)
	if text != "" {
		action, err := r.src.ButtonActionByText(ctx, channelID, text)
		if err == nil {
			return action, true, nil
		}
		if !errors.Is(err, ErrActionNotFound) {
			return Action{}, false, fmt.Errorf("resolve by button text: %w", err)
		}
		action, err = r.src.ActionByName(ctx, channelID, text)
		if err == nil {
			return action, true, nil
		}
		if !errors.Is(err, ErrActionNotFound) {
			return Action{}, false, fmt.Errorf("resolve by action name: %w", err)
		}
	}
	return r.defaultAction(ctx, welcomeActionID)
}

func (r *Resolver) defaultAction(ctx context.Context, welcomeActionID int64) (Action, bool, error) {
	if welcomeActionID == 0 {
		return Action{}, false, nil
	}
	action, err := r.src.ActionByID(ctx, welcomeActionID)
	if err != nil {
		if errors.Is(err, ErrActionNotFound) {
			return Action{}, false, nil
		}
		return Action{}, false, fmt.Errorf("resolve welcome action: %w", err)
	}
	action.Text = DefaultPrompt
	return action, true, nil
}

// Welcome returns the channel's welcome action unmodified, for the
// subscribed flow. ok is false when none is configured.
func (r *Resolver) Welcome(ctx context.Context, welcomeActionID int64) (Action, bool, error) {
	if welcomeActionID == 0 {
		return Action{}, false, nil
	}
	action, err := r.src.ActionByID(ctx, welcomeActionID)
	if err != nil {
		if errors.Is(err, ErrActionNotFound) {
			return Action{}, false, nil
		}
		return Action{}, false, fmt.Errorf("resolve welcome action: %w", err)
	}
	return action, true, nil
}

// Home returns the welcome action, or the channel's first action when no
// welcome action is configured. A channel without any action yields
// ErrMissingHomeAction.
func (r *Resolver) Home(ctx context.Context, channelID, welcomeActionID int64) (Action, error) {
	if welcomeActionID != 0 {
		action, err := r.src.ActionByID(ctx, welcomeActionID)
		if err == nil {
			return action, nil
		}
		if !errors.Is(err, ErrActionNotFound) {
			return Action{}, fmt.Errorf("resolve home action: %w", err)
		}
	}
	action, err := r.src.FirstAction(ctx, channelID)
	if err != nil {
		if errors.Is(err, ErrActionNotFound) {
			return Action{}, ErrMissingHomeAction
		}
		return Action{}, fmt.Errorf("resolve home action: %w", err)
	}
	return action, nil
}

// Help returns the action answering a /help command: the channel's
// emergency action when present, the home action otherwise.
func (r *Resolver) Help(ctx context.Context, channelID, welcomeActionID int64) (Action, error) {
	action, err := r.src.ActionByName(ctx, channelID, EmergencyActionName)
	if err == nil {
		return action, nil
	}
	if !errors.Is(err, ErrActionNotFound) {
		return Action{}, fmt.Errorf("resolve emergency action: %w", err)
	}
	return r.Home(ctx, channelID, welcomeActionID)
}
