package gamelib

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRankMirrors(t *testing.T) {
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead || r.URL.Path != "/versions/" {
			t.Errorf("unexpected probe %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer fast.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	results := RankMirrors(context.Background(), nil, []string{broken.URL, slow.URL + "/", fast.URL})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].URL != fast.URL || results[0].Error != "" {
		t.Errorf("expected fast mirror first, got %+v", results[0])
	}
	if results[1].URL != slow.URL+"/" {
		t.Errorf("expected slow mirror second, got %+v", results[1])
	}
	if results[2].URL != broken.URL || results[2].Error != "HTTP 502" {
		t.Errorf("expected broken mirror last, got %+v", results[2])
	}
}

func TestSelectMirror(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ok.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	if _, err := SelectMirror(context.Background(), nil, nil, logger); err == nil {
		t.Error("expected error for empty mirror list")
	}

	// a single mirror is trusted without a probe
	got, err := SelectMirror(context.Background(), nil, []string{down.URL}, logger)
	if err != nil || got != down.URL {
		t.Errorf("single mirror = %q, %v", got, err)
	}

	got, err = SelectMirror(context.Background(), nil, []string{down.URL, ok.URL}, logger)
	if err != nil || got != ok.URL {
		t.Errorf("selected = %q, %v", got, err)
	}

	if _, err := SelectMirror(context.Background(), nil, []string{down.URL, down.URL + "/"}, logger); err == nil {
		t.Error("expected error when every mirror is down")
	}
}
