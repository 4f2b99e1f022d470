package messenger_test

import (
	"testing"

	"github.com/menubot/menubot/internal/messenger"
)

func TestIsHelpCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want bool
	}{
		{text: "/help", want: true},
		{text: "/HELP", want: true},
		{text: "/Help me with parking", want: true},
		{text: "/helpless", want: true},
		{text: "/start", want: false},
		{text: "help", want: false},
		{text: "/hel", want: false},
		{text: "", want: false},
	}

	for _, tc := range cases {
		ev := messenger.Event{Kind: messenger.EventSystemCommand, Text: tc.text}
		if got := ev.IsHelpCommand(); got != tc.want {
			t.Fatalf("IsHelpCommand(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestTargets(t *testing.T) {
	t.Parallel()

	single := messenger.To("12345")
	if single.IsBroadcast() || single.ChatID != "12345" {
		t.Fatalf("To: %+v", single)
	}
	many := messenger.ToMany([]string{"a", "b"})
	if !many.IsBroadcast() || len(many.Broadcast) != 2 {
		t.Fatalf("ToMany: %+v", many)
	}
}
