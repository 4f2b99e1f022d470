package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/menubot/menubot/internal/keyboard"
	"github.com/menubot/menubot/internal/messenger"
)

type recordingDeactivator struct {
	token  string
	userID string
	calls  int
}

func (d *recordingDeactivator) DeactivateByToken(_ context.Context, token, userID string) error {
	d.token = token
	d.userID = userID
	d.calls++
	return nil
}

func TestNormalizeSendError_BlockedDeactivatesSubscriber(t *testing.T) {
	t.Parallel()

	deactivator := &recordingDeactivator{}
	gw := NewGateway(nil, nil, deactivator)

	apiErr := &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	err := gw.normalizeSendError(context.Background(), "tg-token", "12345", apiErr)

	if !errors.Is(err, messenger.ErrBlockedByUser) {
		t.Fatalf("err = %v, want ErrBlockedByUser", err)
	}
	if deactivator.calls != 1 || deactivator.token != "tg-token" || deactivator.userID != "12345" {
		t.Fatalf("deactivator = %+v, want one call for tg-token/12345", deactivator)
	}
}

func TestNormalizeSendError_OtherErrorsPassThrough(t *testing.T) {
	t.Parallel()

	deactivator := &recordingDeactivator{}
	gw := NewGateway(nil, nil, deactivator)

	plain := fmt.Errorf("connection reset")
	if err := gw.normalizeSendError(context.Background(), "tg-token", "12345", plain); !errors.Is(err, plain) {
		t.Fatalf("err = %v, want original error", err)
	}
	apiErr := &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}
	if err := gw.normalizeSendError(context.Background(), "tg-token", "12345", apiErr); errors.Is(err, messenger.ErrBlockedByUser) {
		t.Fatal("rate limit must not map to ErrBlockedByUser")
	}
	if deactivator.calls != 0 {
		t.Fatalf("deactivator called %d times, want 0", deactivator.calls)
	}
}

func TestReplyMarkup_GroupsRows(t *testing.T) {
	t.Parallel()

	kb := &keyboard.Keyboard{Buttons: []keyboard.Button{
		{Text: "News", TgRow: 1, Position: 1},
		{Text: "Contacts", TgRow: 1, Position: 2},
		{Text: "Help", TgRow: 2, Position: 3},
	}}
	markup, ok := replyMarkup(kb)
	if !ok {
		t.Fatal("expected markup for a populated keyboard")
	}
	if len(markup.Keyboard) != 2 {
		t.Fatalf("rows = %d, want 2", len(markup.Keyboard))
	}
	if markup.Keyboard[0][0].Text != "News" || markup.Keyboard[0][1].Text != "Contacts" {
		t.Fatalf("first row = %+v", markup.Keyboard[0])
	}
	if markup.Keyboard[1][0].Text != "Help" {
		t.Fatalf("second row = %+v", markup.Keyboard[1])
	}
}

func TestReplyMarkup_EmptyKeyboard(t *testing.T) {
	t.Parallel()

	if _, ok := replyMarkup(nil); ok {
		t.Fatal("nil keyboard must yield no markup")
	}
	if _, ok := replyMarkup(&keyboard.Keyboard{}); ok {
		t.Fatal("empty keyboard must yield no markup")
	}
}

// fakeFileIDs keys cached ids on (action, token) and treats a changed
// local path as a miss, the way the backing store does.
type fakeFileIDs struct {
	paths map[string]string
	ids   map[string]string
}

func fileIDKey(actionID int64, token string) string {
	return fmt.Sprintf("%d/%s", actionID, token)
}

func (f *fakeFileIDs) Cached(_ context.Context, actionID int64, token, localPath string) (string, bool, error) {
	key := fileIDKey(actionID, token)
	if path, ok := f.paths[key]; !ok || path != localPath {
		return "", false, nil
	}
	return f.ids[key], true, nil
}

func (f *fakeFileIDs) Remember(_ context.Context, actionID int64, token, localPath, fileID string) error {
	key := fileIDKey(actionID, token)
	f.paths[key] = localPath
	f.ids[key] = fileID
	return nil
}

func TestMediaFile_CacheHitReusesFileID(t *testing.T) {
	t.Parallel()

	files := &fakeFileIDs{
		paths: map[string]string{"42/tg-token": "/var/media/menu.jpg"},
		ids:   map[string]string{"42/tg-token": "AgACAgIAAxkDAA"},
	}
	gw := NewGateway(nil, files, nil)

	media := messenger.Media{ActionID: 42, Kind: messenger.MediaPhoto, LocalPath: "/var/media/menu.jpg"}
	file, cached, err := gw.mediaFile(context.Background(), "tg-token", media)
	if err != nil {
		t.Fatalf("mediaFile: %v", err)
	}
	if !cached {
		t.Fatal("cached = false, want cache hit for matching path")
	}
	if id, ok := file.(tgbotapi.FileID); !ok || string(id) != "AgACAgIAAxkDAA" {
		t.Fatalf("file = %#v, want cached FileID", file)
	}
}

func TestMediaFile_CacheMissUploadsLocalPath(t *testing.T) {
	t.Parallel()

	files := &fakeFileIDs{paths: map[string]string{}, ids: map[string]string{}}
	gw := NewGateway(nil, files, nil)

	media := messenger.Media{ActionID: 42, Kind: messenger.MediaPhoto, LocalPath: "/var/media/menu.jpg"}
	file, cached, err := gw.mediaFile(context.Background(), "tg-token", media)
	if err != nil {
		t.Fatalf("mediaFile: %v", err)
	}
	if cached {
		t.Fatal("cached = true, want miss for unknown action")
	}
	if path, ok := file.(tgbotapi.FilePath); !ok || string(path) != "/var/media/menu.jpg" {
		t.Fatalf("file = %#v, want local path upload", file)
	}
}

func TestMediaFile_ChangedPathInvalidatesCache(t *testing.T) {
	t.Parallel()

	files := &fakeFileIDs{
		paths: map[string]string{"42/tg-token": "/var/media/menu-v1.jpg"},
		ids:   map[string]string{"42/tg-token": "AgACAgIAAxkDAA"},
	}
	gw := NewGateway(nil, files, nil)

	// The action's file was replaced on disk, the stored id belongs to
	// the old upload.
	media := messenger.Media{ActionID: 42, Kind: messenger.MediaPhoto, LocalPath: "/var/media/menu-v2.jpg"}
	file, cached, err := gw.mediaFile(context.Background(), "tg-token", media)
	if err != nil {
		t.Fatalf("mediaFile: %v", err)
	}
	if cached {
		t.Fatal("cached = true, want miss after the stored path changed")
	}
	if path, ok := file.(tgbotapi.FilePath); !ok || string(path) != "/var/media/menu-v2.jpg" {
		t.Fatalf("file = %#v, want re-upload of the new file", file)
	}
}

func TestMediaFile_NoLocalPathFails(t *testing.T) {
	t.Parallel()

	gw := NewGateway(nil, &fakeFileIDs{paths: map[string]string{}, ids: map[string]string{}}, nil)

	media := messenger.Media{ActionID: 42, Kind: messenger.MediaPhoto}
	if _, _, err := gw.mediaFile(context.Background(), "tg-token", media); err == nil {
		t.Fatal("mediaFile = nil error, want failure without a local path")
	}
}
