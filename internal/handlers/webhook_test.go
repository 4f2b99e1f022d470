package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/menubot/menubot/internal/messenger"
)

type fakeProcessor struct {
	err       error
	messenger messenger.Messenger
	slug      string
	body      string
}

func (p *fakeProcessor) HandleWebhook(_ context.Context, m messenger.Messenger, slug string, body []byte) error {
	p.messenger = m
	p.slug = slug
	p.body = string(body)
	return p.err
}

func webhookEcho(p *fakeProcessor) *echo.Echo {
	e := echo.New()
	NewWebhookHandler(slog.Default(), p).Register(e)
	return e
}

func TestWebhook_PostAccepted(t *testing.T) {
	t.Parallel()

	p := &fakeProcessor{}
	e := webhookEcho(p)
	req := httptest.NewRequest(http.MethodPost, "/telegram/city-guide/", strings.NewReader(`{"update_id":1}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if p.messenger != messenger.Telegram || p.slug != "city-guide" {
		t.Fatalf("routed to %s/%s", p.messenger, p.slug)
	}
	if p.body != `{"update_id":1}` {
		t.Fatalf("body = %q", p.body)
	}
}

func TestWebhook_WrongMethodNotFound(t *testing.T) {
	t.Parallel()

	p := &fakeProcessor{}
	e := webhookEcho(p)
	req := httptest.NewRequest(http.MethodGet, "/viber/city-guide/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if p.slug != "" {
		t.Fatal("processor must not run on wrong method")
	}
}

func TestWebhook_MalformedPayloadBadRequest(t *testing.T) {
	t.Parallel()

	p := &fakeProcessor{err: messenger.ErrMalformedPayload}
	e := webhookEcho(p)
	req := httptest.NewRequest(http.MethodPost, "/viber/city-guide/", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhook_ProcessingFailureStillAcknowledged(t *testing.T) {
	t.Parallel()

	p := &fakeProcessor{err: context.DeadlineExceeded}
	e := webhookEcho(p)
	req := httptest.NewRequest(http.MethodPost, "/telegram/city-guide/", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestWebhook_NoTrailingSlashAlsoRoutes(t *testing.T) {
	t.Parallel()

	p := &fakeProcessor{}
	e := webhookEcho(p)
	req := httptest.NewRequest(http.MethodPost, "/viber/lunch-menu", strings.NewReader(`{"event":"message"}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if p.messenger != messenger.Viber || p.slug != "lunch-menu" {
		t.Fatalf("routed to %s/%s", p.messenger, p.slug)
	}
}
