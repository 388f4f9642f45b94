package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/micguard/micguard/internal/config"
	"github.com/micguard/micguard/internal/types"
)

func TestSendHoldLostWebhook(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := SendHoldLostWebhook(srv.URL, "array-0", "external recorder active"); err != nil {
		t.Fatalf("SendHoldLostWebhook: %v", err)
	}
	if got.Event != "hold_lost" || got.DeviceAddress != "array-0" || got.Reason != "external recorder active" {
		t.Errorf("payload = %+v", got)
	}
	if got.Timestamp == "" {
		t.Error("payload missing timestamp")
	}
}

func TestWebhookRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := SendHoldRegainedWebhook(srv.URL, "stream", "array-0", 4200); err == nil {
		t.Error("502 response did not produce an error")
	}
}

func TestWebhookSkipsWhenUnconfigured(t *testing.T) {
	if err := SendHoldLostWebhook("", "array-0", "x"); err != nil {
		t.Errorf("unconfigured webhook returned error: %v", err)
	}
}

func TestNotifierOncePerOutage(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	if err := cfg.SetWebhookURL(srv.URL); err != nil {
		t.Fatal(err)
	}
	n := NewHoldNotifier(cfg)

	// Repeated losses in one outage collapse into a single alert.
	n.HandleHoldLost("array-0", "recorder active")
	n.HandleHoldLost("array-0", "recorder active")
	n.HandleHoldLost("array-0", "recorder active")
	waitForHits(t, &hits, 1)

	// Recovery sends its pair and re-arms the channel.
	n.HandleHoldRegained("stream", "array-0", 3000)
	waitForHits(t, &hits, 2)

	n.HandleHoldLost("array-0", "recorder active")
	waitForHits(t, &hits, 3)
}

func TestNotifierSkipsRecoveryWithoutLoss(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	if err := cfg.SetWebhookURL(srv.URL); err != nil {
		t.Fatal(err)
	}
	n := NewHoldNotifier(cfg)

	n.HandleHoldRegained("stream", "array-0", 0)
	time.Sleep(100 * time.Millisecond)
	if hits.Load() != 0 {
		t.Errorf("recovery without a prior loss sent %d notifications", hits.Load())
	}
}

func waitForHits(t *testing.T, hits *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hits.Load() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("webhook hits = %d, want %d", hits.Load(), want)
}

func TestLogHoldLostAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holds.log")

	if err := LogHoldLost(path, "array-0", "recorder active"); err != nil {
		t.Fatalf("LogHoldLost: %v", err)
	}
	if err := LogHoldRegained(path, "encoder", "array-0", 5100); err != nil {
		t.Fatalf("LogHoldRegained: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := splitLines(data)
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want 2", len(lines))
	}

	var first, second types.HoldLogEntry
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("first line not JSON: %v", err)
	}
	if err := json.Unmarshal(lines[1], &second); err != nil {
		t.Fatalf("second line not JSON: %v", err)
	}
	if first.Event != "hold_lost" || second.Event != "hold_regained" {
		t.Errorf("events = %q, %q", first.Event, second.Event)
	}
	if second.DowntimeMs != 5100 {
		t.Errorf("DowntimeMs = %d, want 5100", second.DowntimeMs)
	}
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

func TestParseRecipients(t *testing.T) {
	got := ParseRecipients(" a@example.com ,, b@example.com ,")
	want := []string{"a@example.com", "b@example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseRecipients = %v, want %v", got, want)
	}
	if r := ParseRecipients(""); r != nil {
		t.Errorf("empty input = %v, want nil", r)
	}
}

func TestValidateConfigRequiresGUIDs(t *testing.T) {
	cfg := &GraphConfig{
		TenantID:     "not-a-guid",
		ClientID:     "12345678-1234-1234-1234-123456789abc",
		ClientSecret: "secret",
		FromAddress:  "alerts@example.com",
		Recipients:   "ops@example.com",
	}
	if err := ValidateConfig(cfg); err == nil {
		t.Error("non-GUID tenant ID accepted")
	}
	cfg.TenantID = "87654321-4321-4321-4321-cba987654321"
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
