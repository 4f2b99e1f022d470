// Package keyboard holds the menu model: keyboards, buttons and the
// actions they trigger, plus the resolver that maps inbound text onto
// an action.
package keyboard

import "strings"

// Viber rendering defaults applied when a keyboard or button carries
// no explicit color.
const (
	DefaultKeyboardBgColor = "#8074D6"
	DefaultButtonBgColor   = "#FFFAFA"
)

// ActionType discriminates the Action payload.
type ActionType string

const (
	ActionText     ActionType = "text"
	ActionPicture  ActionType = "picture"
	ActionURL      ActionType = "url"
	ActionVideo    ActionType = "video"
	ActionFile     ActionType = "file"
	ActionLocation ActionType = "location"
	ActionSticker  ActionType = "sticker"
	ActionNone     ActionType = "none"
)

// EmergencyActionName marks the action that answers /help commands.
const EmergencyActionName = "emergency_action"

// Payload is the type-specific part of an Action. Text and none actions
// carry a nil payload, their content lives in Action.Text.
type Payload interface {
	actionPayload()
}

// PicturePayload references an image stored under the media root.
type PicturePayload struct {
	Path string
}

// VideoPayload references a video stored under the media root.
type VideoPayload struct {
	Path string
}

// FilePayload references a document stored under the media root.
type FilePayload struct {
	Path string
}

// URLPayload carries a link sent as text on Telegram and as a media
// field on Viber.
type URLPayload struct {
	URL string
}

// LocationPayload is a lat/lon pair. An incomplete pair is skipped at
// dispatch time.
type LocationPayload struct {
	Lat float64
	Lon float64
}

// Complete reports whether both coordinates are set.
func (p LocationPayload) Complete() bool {
	return p.Lat != 0 && p.Lon != 0
}

// StickerPayload stores the combined "viberID//telegramID" sticker pair.
type StickerPayload struct {
	Pair string
}

// ViberID returns the Viber half of the pair, or empty if absent.
func (p StickerPayload) ViberID() string {
	return stickerHalf(p.Pair, 0)
}

// TelegramID returns the Telegram half of the pair, or empty if absent.
func (p StickerPayload) TelegramID() string {
	return stickerHalf(p.Pair, 1)
}

func stickerHalf(pair string, idx int) string {
	parts := strings.Split(pair, "//")
	if idx >= len(parts) {
		return ""
	}
	return strings.TrimSpace(parts[idx])
}

func (PicturePayload) actionPayload()  {}
func (VideoPayload) actionPayload()    {}
func (FilePayload) actionPayload()     {}
func (URLPayload) actionPayload()      {}
func (LocationPayload) actionPayload() {}
func (StickerPayload) actionPayload()  {}

// Action is the effect triggered when a button or command resolves.
// KeyboardID points at the keyboard shown after the action fires.
type Action struct {
	ID         int64
	KeyboardID int64
	Name       string
	Type       ActionType
	// Text is the message body. For media actions a non-empty Text is
	// delivered as a separate send after the media.
	Text    string
	Payload Payload
}

// Picture returns the picture payload if the action carries one.
func (a Action) Picture() (PicturePayload, bool) {
	p, ok := a.Payload.(PicturePayload)
	return p, ok
}

// Video returns the video payload if the action carries one.
func (a Action) Video() (VideoPayload, bool) {
	p, ok := a.Payload.(VideoPayload)
	return p, ok
}

// File returns the file payload if the action carries one.
func (a Action) File() (FilePayload, bool) {
	p, ok := a.Payload.(FilePayload)
	return p, ok
}

// URL returns the url payload if the action carries one.
func (a Action) URL() (URLPayload, bool) {
	p, ok := a.Payload.(URLPayload)
	return p, ok
}

// Location returns the location payload if the action carries one.
func (a Action) Location() (LocationPayload, bool) {
	p, ok := a.Payload.(LocationPayload)
	return p, ok
}

// Sticker returns the sticker payload if the action carries one.
func (a Action) Sticker() (StickerPayload, bool) {
	p, ok := a.Payload.(StickerPayload)
	return p, ok
}

// Button is one cell of a keyboard. Width/Height drive the Viber grid,
// TgRow groups buttons into Telegram rows.
type Button struct {
	ID         int64
	KeyboardID int64
	ActionID   int64
	Name       string
	Text       string
	Width      int
	Height     int
	Position   int
	TgRow      int
	TextSize   string
	TextVAlign string
	TextHAlign string
	BgColor    string
	// Kind is the Viber button action type, "reply" when empty.
	Kind string
}

// Keyboard is a named menu of buttons belonging to one channel.
// Buttons are ordered by position.
type Keyboard struct {
	ID        int64
	ChannelID int64
	Name      string
	BgColor   string
	Buttons   []Button
}

// TelegramRows groups the keyboard's buttons into rows for the Telegram
// reply markup, by ascending TgRow and position within a row.
func (k Keyboard) TelegramRows() [][]Button {
	var rows [][]Button
	byRow := map[int][]Button{}
	maxRow := 0
	for _, b := range k.Buttons {
		byRow[b.TgRow] = append(byRow[b.TgRow], b)
		if b.TgRow > maxRow {
			maxRow = b.TgRow
		}
	}
	for row := 1; row <= maxRow; row++ {
		if len(byRow[row]) > 0 {
			rows = append(rows, byRow[row])
		}
	}
	return rows
}
