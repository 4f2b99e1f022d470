package viber

import "github.com/menubot/menubot/internal/keyboard"

// viberKeyboard is the keyboard attachment in the wire format the Viber
// API documents, PascalCase keys included.
type viberKeyboard struct {
	Type          string        `json:"Type"`
	DefaultHeight bool          `json:"DefaultHeight"`
	BgColor       string        `json:"BgColor"`
	Buttons       []viberButton `json:"Buttons"`
}

type viberButton struct {
	Columns    int    `json:"Columns"`
	Rows       int    `json:"Rows"`
	Text       string `json:"Text"`
	ActionType string `json:"ActionType"`
	ActionBody string `json:"ActionBody"`
	BgColor    string `json:"BgColor"`
	TextVAlign string `json:"TextVAlign"`
	TextHAlign string `json:"TextHAlign"`
	TextSize   string `json:"TextSize"`
}

// renderKeyboard converts a keyboard to its Viber wire shape, filling
// the styling defaults. A nil or empty keyboard renders to nothing.
func renderKeyboard(kb *keyboard.Keyboard) *viberKeyboard {
	if kb == nil || len(kb.Buttons) == 0 {
		return nil
	}
	out := &viberKeyboard{
		Type:    "keyboard",
		BgColor: orDefault(kb.BgColor, keyboard.DefaultKeyboardBgColor),
	}
	for _, b := range kb.Buttons {
		out.Buttons = append(out.Buttons, viberButton{
			Columns:    b.Width,
			Rows:       b.Height,
			Text:       b.Text,
			ActionType: orDefault(b.Kind, "reply"),
			ActionBody: b.Text,
			BgColor:    orDefault(b.BgColor, keyboard.DefaultButtonBgColor),
			TextVAlign: orDefault(b.TextVAlign, "middle"),
			TextHAlign: orDefault(b.TextHAlign, "center"),
			TextSize:   orDefault(b.TextSize, "regular"),
		})
	}
	return out
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
