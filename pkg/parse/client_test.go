package parse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsKeyHeadersAndDecodesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Parse-Application-Id"); got != "app-1" {
			t.Errorf("app id header = %q", got)
		}
		if got := r.Header.Get("X-Parse-REST-API-Key"); got != "key-1" {
			t.Errorf("rest key header = %q", got)
		}
		if r.URL.Path != "/classes/Users" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("where"); got != `{"email":"a@b.ng"}` {
			t.Errorf("where = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"objectId": "o1", "email": "a@b.ng"}},
		})
	}))
	defer srv.Close()

	client, err := New(srv.URL, "app-1", "key-1")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	raws, err := client.List(context.Background(), "Users", Query{Where: map[string]any{"email": "a@b.ng"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("expected 1 result, got %d", len(raws))
	}
}

func TestClientCreateReturnsObjectID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"objectId": "new1"})
	}))
	defer srv.Close()

	client, err := New(srv.URL, "app", "key")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	id, err := client.Create(context.Background(), "Payments", map[string]any{"amount": 1500})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "new1" {
		t.Fatalf("id = %q", id)
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 101, "error": "object not found"})
	}))
	defer srv.Close()

	client, err := New(srv.URL, "app", "key")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Get(context.Background(), "Payments", "missing")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != 101 {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestClientWrapsTransportFailuresAsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	client, err := New(srv.URL, "app", "key")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.List(context.Background(), "Subjects", Query{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClientRejectsMissingConfig(t *testing.T) {
	if _, err := New("", "app", "key"); err == nil {
		t.Fatal("expected error for empty base URL")
	}
	if _, err := New("http://x", "", "key"); err == nil {
		t.Fatal("expected error for empty app id")
	}
}
