package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, expected string
	}{
		{"+1 (555) 010-0100", "+15550100100"},
		{"555-0100", "5550100"},
		{"  0044 20 7946 0000 ", "00442079460000"},
		{"1+2", "12"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.expected {
			t.Errorf("Normalize(%q): expected %q, got %q", tt.in, tt.expected, got)
		}
	}
}

func TestLoadDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	content := `contacts:
  - name: Alice
    numbers: ["+1 555 0100", "555-0101"]
  - name: Bob
    numbers: ["555 0199"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	dir, err := LoadDirectory(path)
	if err != nil {
		t.Fatalf("LoadDirectory failed: %v", err)
	}
	if dir.Len() != 3 {
		t.Errorf("Expected 3 numbers, got %d", dir.Len())
	}

	tests := []struct {
		number string
		name   string
		ok     bool
	}{
		{"+15550100", "Alice", true},
		{"5550101", "Alice", true},
		{"(555) 0199", "Bob", true},
		{"5550000", "", false},
	}
	for _, tt := range tests {
		name, ok, err := dir.LookupName(context.Background(), tt.number)
		if err != nil || name != tt.name || ok != tt.ok {
			t.Errorf("LookupName(%q): expected (%q, %v), got (%q, %v, %v)", tt.number, tt.name, tt.ok, name, ok, err)
		}
	}
}

func TestLoadDirectoryRejectsNameless(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	os.WriteFile(path, []byte("contacts:\n  - numbers: [\"1\"]\n"), 0o644)
	if _, err := LoadDirectory(path); err == nil {
		t.Error("Expected error for contact without a name")
	}
}

type failingFetcher struct{ err error }

func (f failingFetcher) LookupName(ctx context.Context, number string) (string, bool, error) {
	return "", false, f.err
}

func TestChain(t *testing.T) {
	boom := errors.New("down")
	chain := Chain{
		failingFetcher{err: boom},
		NewDirectory(map[string]string{"100": "Carol"}),
	}

	name, ok, err := chain.LookupName(context.Background(), "100")
	if err != nil || !ok || name != "Carol" {
		t.Errorf("Expected Carol from second fetcher, got (%q, %v, %v)", name, ok, err)
	}

	_, ok, err = chain.LookupName(context.Background(), "200")
	if ok || !errors.Is(err, boom) {
		t.Errorf("Expected miss with joined error, got (%v, %v)", ok, err)
	}
}

func newDirectoryServer(t *testing.T, failures int32) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= failures {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Query().Get("number") {
		case "5550100":
			json.NewEncoder(w).Encode(map[string]string{"name": "Dana"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClientLookup(t *testing.T) {
	srv, _ := newDirectoryServer(t, 0)
	client, err := NewClient(ClientConfig{Endpoint: srv.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	name, ok, err := client.LookupName(context.Background(), "555-0100")
	if err != nil || !ok || name != "Dana" {
		t.Errorf("Expected Dana, got (%q, %v, %v)", name, ok, err)
	}

	_, ok, err = client.LookupName(context.Background(), "555-9999")
	if err != nil || ok {
		t.Errorf("Expected clean miss, got (%v, %v)", ok, err)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	srv, calls := newDirectoryServer(t, 2)
	client, _ := NewClient(ClientConfig{
		Endpoint:    srv.URL,
		APIKey:      "secret",
		MaxRetries:  3,
		BaseBackoff: time.Millisecond,
	})
	defer client.Close()

	name, ok, err := client.LookupName(context.Background(), "5550100")
	if err != nil || !ok || name != "Dana" {
		t.Fatalf("Expected Dana after retries, got (%q, %v, %v)", name, ok, err)
	}
	if atomic.LoadInt32(calls) != 3 {
		t.Errorf("Expected 3 calls, got %d", atomic.LoadInt32(calls))
	}
	if stats := client.GetStats(); stats.TotalRetries != 2 || stats.FailedRequests != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	srv, calls := newDirectoryServer(t, 0)
	client, _ := NewClient(ClientConfig{Endpoint: srv.URL, APIKey: "wrong", MaxRetries: 3, BaseBackoff: time.Millisecond})
	defer client.Close()

	if _, _, err := client.LookupName(context.Background(), "5550100"); err == nil {
		t.Fatal("Expected unauthorized error")
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("Expected a single call, got %d", atomic.LoadInt32(calls))
	}
}

type countingFetcher struct {
	calls int32
	names map[string]string
}

func (f *countingFetcher) LookupName(ctx context.Context, number string) (string, bool, error) {
	atomic.AddInt32(&f.calls, 1)
	name, ok := f.names[Normalize(number)]
	return name, ok, nil
}

func TestCacheRemembersHitsAndMisses(t *testing.T) {
	inner := &countingFetcher{names: map[string]string{"100": "Eve"}}
	cache := NewCache(inner, 16, time.Hour, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cache.LookupName(ctx, "100")
		cache.LookupName(ctx, "1-0-0")
		cache.LookupName(ctx, "200")
	}
	if inner.calls != 2 {
		t.Errorf("Expected 2 inner lookups, got %d", inner.calls)
	}
	if cache.Len() != 2 {
		t.Errorf("Expected 2 cached entries, got %d", cache.Len())
	}
}

func TestCacheDoesNotCacheErrors(t *testing.T) {
	cache := NewCache(failingFetcher{err: errors.New("down")}, 16, time.Hour, testLogger())
	if _, _, err := cache.LookupName(context.Background(), "100"); err == nil {
		t.Fatal("Expected error")
	}
	if cache.Len() != 0 {
		t.Errorf("Expected nothing cached, got %d", cache.Len())
	}
}

func TestCacheRefresh(t *testing.T) {
	inner := &countingFetcher{names: map[string]string{"100": "Old"}}
	cache := NewCache(inner, 16, time.Hour, testLogger())
	ctx := context.Background()

	cache.LookupName(ctx, "100")
	inner.names["100"] = "New"

	if err := cache.Refresh(ctx, []string{"100", "100", "200", ""}); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("Expected 3 inner lookups, got %d", inner.calls)
	}

	name, _, _ := cache.LookupName(ctx, "100")
	if name != "New" {
		t.Errorf("Expected refreshed name, got %q", name)
	}
}
