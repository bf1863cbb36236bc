package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNavsFetchesAndParses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req navsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Type != "navs" {
			t.Errorf("request type = %q, want navs", req.Type)
		}
		_ = json.NewEncoder(w).Encode(navsResponse{
			Navs: map[string]string{"b1": "1.05", "b2": "0.97"},
			Time: 1_700_000_000,
		})
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, time.Second, zap.NewNop())
	navs, err := client.Navs(context.Background())
	if err != nil {
		t.Fatalf("navs: %v", err)
	}
	if navs["b1"] != 1_050_000 || navs["b2"] != 970_000 {
		t.Fatalf("unexpected navs %v", navs)
	}
}

func TestNavsRejectsBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(navsResponse{Navs: map[string]string{"b1": "not-a-price"}})
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, time.Second, zap.NewNop())
	if _, err := client.Navs(context.Background()); err == nil {
		t.Fatalf("expected parse failure")
	}
}

func TestNavsSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oracle down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, time.Second, zap.NewNop())
	if _, err := client.Navs(context.Background()); err == nil {
		t.Fatalf("expected error for 503")
	}
}
