package config

import (
	"testing"
)

// fakeBackend is an in-memory ConfigBackend.
type fakeBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{strings: map[string]string{}, ints: map[string]int{}}
}

func (f *fakeBackend) GetString(key string) (string, bool, error) {
	v, ok := f.strings[key]
	return v, ok, nil
}

func (f *fakeBackend) GetInt(key string) (int, bool, error) {
	v, ok := f.ints[key]
	return v, ok, nil
}

func (f *fakeBackend) SetString(key, val string) error {
	f.strings[key] = val
	return nil
}

func (f *fakeBackend) SetInt(key string, val int) error {
	f.ints[key] = val
	return nil
}

func (f *fakeBackend) Delete(key string) error {
	delete(f.strings, key)
	delete(f.ints, key)
	return nil
}

// TestDefaults loads the built-in defaults from an empty backend.
func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newFakeBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 4200 {
		t.Errorf("port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.Memory.MaxEntries != 100000 {
		t.Errorf("max entries = %d, want 100000", cfg.Memory.MaxEntries)
	}
	if cfg.Memory.EpisodeRetentionDays != 365 {
		t.Errorf("episode retention = %d, want 365", cfg.Memory.EpisodeRetentionDays)
	}
	if cfg.Memory.AssociationThreshold != 0.7 {
		t.Errorf("association threshold = %v, want 0.7", cfg.Memory.AssociationThreshold)
	}
	if cfg.Janitor.CleanupInterval != "1h" {
		t.Errorf("cleanup interval = %q, want 1h", cfg.Janitor.CleanupInterval)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Log.Level)
	}
}

// TestBackendValues override the defaults.
func TestBackendValues(t *testing.T) {
	b := newFakeBackend()
	b.ints["server.port"] = 9000
	b.strings["log.level"] = "debug"
	b.strings["memory.association_threshold"] = "0.5"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Memory.AssociationThreshold != 0.5 {
		t.Errorf("threshold = %v, want 0.5", cfg.Memory.AssociationThreshold)
	}
}

// TestEnvOverrides take precedence over backend values.
func TestEnvOverrides(t *testing.T) {
	b := newFakeBackend()
	b.ints["server.port"] = 9000

	t.Setenv("MNEMO_SERVER_PORT", "7777")
	t.Setenv("MNEMO_LOG_LEVEL", "debug")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d, want env override 7777", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
}

// TestEnvOverrideBadInt falls back to the existing value on parse failure.
func TestEnvOverrideBadInt(t *testing.T) {
	t.Setenv("MNEMO_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(newFakeBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("port = %d, want default 4200", cfg.Server.Port)
	}
}

// TestInvalidDurationRejected fails the load for an unparseable interval.
func TestInvalidDurationRejected(t *testing.T) {
	b := newFakeBackend()
	b.strings["janitor.cleanup_interval"] = "whenever"

	if _, err := loadWith(b); err == nil {
		t.Error("expected error for invalid cleanup interval")
	}
}

// TestBadFloatFallsBack keeps the default threshold on parse failure.
func TestBadFloatFallsBack(t *testing.T) {
	b := newFakeBackend()
	b.strings["memory.association_threshold"] = "very high"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Memory.AssociationThreshold != 0.7 {
		t.Errorf("threshold = %v, want default 0.7", cfg.Memory.AssociationThreshold)
	}
}

// TestValidKeys lists every spec key.
func TestValidKeys(t *testing.T) {
	keys := ValidKeys()
	if len(keys) != len(specs) {
		t.Fatalf("got %d keys, want %d", len(keys), len(specs))
	}

	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	for _, want := range []string{"server.port", "storage.data_dir", "memory.max_entries", "janitor.poll_interval", "log.level"} {
		if !seen[want] {
			t.Errorf("missing key %q", want)
		}
	}
}

// TestShowAll extracts the effective value for every key.
func TestShowAll(t *testing.T) {
	cfg, err := loadWith(newFakeBackend())
	if err != nil {
		t.Fatal(err)
	}

	infos := ShowAll(cfg)
	if len(infos) != len(specs) {
		t.Fatalf("got %d entries, want %d", len(infos), len(specs))
	}
	for _, info := range infos {
		if info.Key == "server.port" && info.Value != "4200" {
			t.Errorf("server.port value = %q, want 4200", info.Value)
		}
		if info.Key == "server.port" && info.EnvVar != "MNEMO_SERVER_PORT" {
			t.Errorf("server.port env = %q", info.EnvVar)
		}
	}
}

// TestGetAPITokenGeneratesAndPersists creates a token once and reuses it.
func TestGetAPITokenGeneratesAndPersists(t *testing.T) {
	t.Setenv("MNEMO_API_TOKEN", "")
	dir := t.TempDir()

	first, err := GetAPIToken(dir)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(first))
	}

	second, err := GetAPIToken(dir)
	if err != nil {
		t.Fatalf("second GetAPIToken: %v", err)
	}
	if first != second {
		t.Error("token changed between calls")
	}
}

// TestGetAPITokenEnvOverride prefers the environment variable.
func TestGetAPITokenEnvOverride(t *testing.T) {
	t.Setenv("MNEMO_API_TOKEN", "sekrit")

	token, err := GetAPIToken(t.TempDir())
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if token != "sekrit" {
		t.Errorf("token = %q, want env value", token)
	}
}
