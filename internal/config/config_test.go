package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/micguard/micguard/internal/types"
)

func tempConfig(t *testing.T) *Config {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "config.json"))
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	c := tempConfig(t)
	if err := c.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(c.filePath); err != nil {
		t.Errorf("default config file not written: %v", err)
	}
	snap := c.Snapshot()
	if snap.WebPort != DefaultWebPort {
		t.Errorf("WebPort = %d, want %d", snap.WebPort, DefaultWebPort)
	}
	if snap.PreferredMethod != types.MethodStream {
		t.Errorf("PreferredMethod = %q, want stream", snap.PreferredMethod)
	}
	if !snap.AutoStart {
		t.Error("AutoStart should default to true")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	c := tempConfig(t)
	if err := c.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.SetScreenOnDelayMs(1300); err != nil {
		t.Fatalf("SetScreenOnDelayMs: %v", err)
	}
	if err := c.SetPreferredMethod(types.MethodEncoder); err != nil {
		t.Fatalf("SetPreferredMethod: %v", err)
	}
	if err := c.SetWebhookURL("https://example.com/hook"); err != nil {
		t.Fatalf("SetWebhookURL: %v", err)
	}

	reloaded := New(c.filePath)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	snap := reloaded.Snapshot()
	if snap.ScreenOnDelayMs != 1300 {
		t.Errorf("ScreenOnDelayMs = %d, want 1300", snap.ScreenOnDelayMs)
	}
	if snap.PreferredMethod != types.MethodEncoder {
		t.Errorf("PreferredMethod = %q, want encoder", snap.PreferredMethod)
	}
	if !snap.HasWebhook() {
		t.Error("HasWebhook = false after setting URL")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"delay too large", `{"controller":{"screen_on_delay_ms":6000}}`},
		{"negative delay", `{"controller":{"screen_on_delay_ms":-1}}`},
		{"unknown method", `{"controller":{"preferred_method":"tunnel"}}`},
		{"bad port", `{"system":{"port":70000}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tc.json), 0o600); err != nil {
				t.Fatal(err)
			}
			c := New(path)
			if err := c.Load(); err == nil {
				t.Error("Load accepted invalid config")
			}
		})
	}
}

func TestSetScreenOnDelayBounds(t *testing.T) {
	c := tempConfig(t)
	if err := c.SetScreenOnDelayMs(MaxScreenOnDelayMs); err != nil {
		t.Errorf("max delay rejected: %v", err)
	}
	if err := c.SetScreenOnDelayMs(MaxScreenOnDelayMs + 1); err == nil {
		t.Error("over-max delay accepted")
	}
	if err := c.SetScreenOnDelayMs(-1); err == nil {
		t.Error("negative delay accepted")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	c := tempConfig(t)
	snap := c.Snapshot()
	if err := c.SetAlwaysActive(true); err != nil {
		t.Fatalf("SetAlwaysActive: %v", err)
	}
	if snap.AlwaysActive {
		t.Error("earlier snapshot mutated by later set")
	}
	if !c.Snapshot().AlwaysActive {
		t.Error("AlwaysActive not updated")
	}
}

func TestHasGraphRequiresAllFields(t *testing.T) {
	c := tempConfig(t)
	if err := c.SetGraphConfig("tenant", "client", "", "from@example.com", "to@example.com"); err != nil {
		t.Fatalf("SetGraphConfig: %v", err)
	}
	if snap := c.Snapshot(); snap.HasGraph() {
		t.Error("HasGraph = true with missing client secret")
	}
	if err := c.SetGraphConfig("tenant", "client", "secret", "from@example.com", "to@example.com"); err != nil {
		t.Fatalf("SetGraphConfig: %v", err)
	}
	if snap := c.Snapshot(); !snap.HasGraph() {
		t.Error("HasGraph = false with all fields set")
	}
}

func TestGenerateAPIKey(t *testing.T) {
	a, err := GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 32 || len(b) != 32 {
		t.Errorf("key lengths = %d, %d, want 32", len(a), len(b))
	}
	if a == b {
		t.Error("two generated keys are identical")
	}
}
