package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func passwordRouter(srv *Server) *chi.Mux {
	r := chi.NewRouter()
	r.Put("/channels/{channelID}/password", srv.HandleSetChannelPassword)
	return r
}

func putPassword(t *testing.T, srv *Server, header string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, "/channels/1/password",
		strings.NewReader(`{"password":"rotated"}`))
	if header != "" {
		req.Header.Set(channelPasswordHeader, header)
	}
	rec := httptest.NewRecorder()
	passwordRouter(srv).ServeHTTP(rec, req)
	return rec
}

func TestChannelPasswordGate(t *testing.T) {
	store := &fakeStore{channel: seededChannel(t), password: "sesame"}
	store.channel.PasswordHash = "set"
	srv := testServer(t, store, &fakeGateway{}, nil)

	if rec := putPassword(t, srv, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("missing password: status = %d, want 403", rec.Code)
	}
	if rec := putPassword(t, srv, "wrong"); rec.Code != http.StatusForbidden {
		t.Fatalf("wrong password: status = %d, want 403", rec.Code)
	}
	if store.passwordSet != "" {
		t.Fatal("rejected requests must not rotate the password")
	}

	if rec := putPassword(t, srv, "sesame"); rec.Code != http.StatusOK {
		t.Fatalf("correct password: status = %d, want 200", rec.Code)
	}
	if store.passwordSet != "rotated" {
		t.Fatalf("stored password = %q, want %q", store.passwordSet, "rotated")
	}
}

func TestChannelWithoutPasswordNeedsNoHeader(t *testing.T) {
	store := &fakeStore{channel: seededChannel(t)}
	srv := testServer(t, store, &fakeGateway{}, nil)

	if rec := putPassword(t, srv, ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when no password is set", rec.Code)
	}
	if store.passwordSet != "rotated" {
		t.Fatalf("stored password = %q, want %q", store.passwordSet, "rotated")
	}
}
