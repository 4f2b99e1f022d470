package keyboard_test

import (
	"testing"

	"github.com/menubot/menubot/internal/keyboard"
)

func TestStickerPayload_Halves(t *testing.T) {
	t.Parallel()
	p := keyboard.StickerPayload{Pair: "40126//CAACAgIAAxkBAAE"}
	if got := p.ViberID(); got != "40126" {
		t.Fatalf("ViberID = %q, want %q", got, "40126")
	}
	if got := p.TelegramID(); got != "CAACAgIAAxkBAAE" {
		t.Fatalf("TelegramID = %q, want %q", got, "CAACAgIAAxkBAAE")
	}
}

func TestStickerPayload_MissingTelegramHalf(t *testing.T) {
	t.Parallel()
	p := keyboard.StickerPayload{Pair: "40126"}
	if got := p.ViberID(); got != "40126" {
		t.Fatalf("ViberID = %q, want %q", got, "40126")
	}
	if got := p.TelegramID(); got != "" {
		t.Fatalf("TelegramID = %q, want empty", got)
	}
}

func TestLocationPayload_Complete(t *testing.T) {
	t.Parallel()
	if (keyboard.LocationPayload{Lat: 50.45, Lon: 30.52}).Complete() != true {
		t.Fatal("complete pair reported incomplete")
	}
	if (keyboard.LocationPayload{Lat: 50.45}).Complete() {
		t.Fatal("half pair reported complete")
	}
}

func TestKeyboard_TelegramRows(t *testing.T) {
	t.Parallel()
	kb := keyboard.Keyboard{
		Buttons: []keyboard.Button{
			{Name: "a", Text: "A", Position: 1, TgRow: 1},
			{Name: "b", Text: "B", Position: 2, TgRow: 1},
			{Name: "c", Text: "C", Position: 3, TgRow: 3},
		},
	}
	rows := kb.TelegramRows()
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if len(rows[0]) != 2 || rows[0][0].Text != "A" || rows[0][1].Text != "B" {
		t.Fatalf("rows[0] = %+v, want [A B]", rows[0])
	}
	if len(rows[1]) != 1 || rows[1][0].Text != "C" {
		t.Fatalf("rows[1] = %+v, want [C]", rows[1])
	}
}
