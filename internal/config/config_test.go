package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"staycheck/internal/ui"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Name != "staycheck" {
		t.Errorf("expected server name 'staycheck', got %q", cfg.Server.Name)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.Server.LogLevel)
	}
	if cfg.Browser.DefaultNavigationTimeout != "15s" {
		t.Errorf("expected navigation timeout '15s', got %q", cfg.Browser.DefaultNavigationTimeout)
	}
	if cfg.Browser.ViewportWidth != 1920 || cfg.Browser.ViewportHeight != 1080 {
		t.Errorf("expected 1920x1080 viewport, got %dx%d", cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight)
	}
	if !cfg.Facts.Enable {
		t.Error("expected Facts.Enable to be true")
	}
	if cfg.Facts.SchemaPath != "schemas/staycheck.mg" {
		t.Errorf("expected schema path 'schemas/staycheck.mg', got %q", cfg.Facts.SchemaPath)
	}
	if cfg.Verify.GuestsPerBed != 2 {
		t.Errorf("expected 2 guests per bed, got %d", cfg.Verify.GuestsPerBed)
	}
	if cfg.Verify.PriceSuffix != "lei per night" {
		t.Errorf("expected price suffix 'lei per night', got %q", cfg.Verify.PriceSuffix)
	}
	if cfg.Verify.GetWaitTimeout() != 10*time.Second {
		t.Errorf("expected 10s wait timeout, got %v", cfg.Verify.GetWaitTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for empty path")
	}
	if err.Error() != "config path is required" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  name: "test-run"
  log_level: "debug"

browser:
  debugger_url: "ws://localhost:9222"
  headless: false
  viewport_width: 1280

verify:
  wait_timeout: "20s"
  guests_per_bed: 3
  price_suffix: "€ night"
  pin_currency: "€"

locators:
  listing_summary: "css:article.listing"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Name != "test-run" {
		t.Errorf("expected server name 'test-run', got %q", cfg.Server.Name)
	}
	if cfg.Browser.IsHeadless() {
		t.Error("expected headless false")
	}
	if cfg.Browser.ViewportWidth != 1280 {
		t.Errorf("expected viewport width 1280, got %d", cfg.Browser.ViewportWidth)
	}
	if cfg.Verify.GetWaitTimeout() != 20*time.Second {
		t.Errorf("expected 20s wait timeout, got %v", cfg.Verify.GetWaitTimeout())
	}
	if cfg.Verify.GuestsPerBed != 3 {
		t.Errorf("expected 3 guests per bed, got %d", cfg.Verify.GuestsPerBed)
	}
	// Defaults for unset verify fields remain.
	if cfg.Verify.SettleTimeout != "3s" {
		t.Errorf("expected default settle timeout, got %q", cfg.Verify.SettleTimeout)
	}

	sel, err := cfg.Locators.Selector("listing_summary")
	if err != nil {
		t.Fatalf("listing_summary: %v", err)
	}
	if sel.Value != "article.listing" {
		t.Errorf("expected overridden locator, got %q", sel.Value)
	}
	if _, err := cfg.Locators.Selector("common_map_marker"); err != nil {
		t.Errorf("default locators should survive a partial overlay: %v", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content:"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadRejectsBadLocator(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := "locators:\n  search_results_header: \"name:h1\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for unsupported locator type")
	}
	if !strings.Contains(err.Error(), "search_results_header") {
		t.Errorf("error should name the locator: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := DefaultConfig()

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:   "empty server name",
			mutate: func(c *Config) { c.Server.Name = "" },
			errMsg: "server.name is required",
		},
		{
			name:   "zero guests per bed",
			mutate: func(c *Config) { c.Verify.GuestsPerBed = 0 },
			errMsg: "verify.guests_per_bed must be positive",
		},
		{
			name:   "blank price suffix",
			mutate: func(c *Config) { c.Verify.PriceSuffix = "  " },
			errMsg: "verify.price_suffix is required",
		},
		{
			name:   "blank pin currency",
			mutate: func(c *Config) { c.Verify.PinCurrency = "" },
			errMsg: "verify.pin_currency is required",
		},
		{
			name:   "bad duration",
			mutate: func(c *Config) { c.Verify.PollInterval = "often" },
			errMsg: "verify.poll_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Locators = DefaultLocators()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error but got nil")
			}
			if !strings.HasPrefix(err.Error(), tt.errMsg) {
				t.Errorf("expected error starting with %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestLocatorsSelector(t *testing.T) {
	locs := Locators{
		"header":  "css:div.header",
		"search":  "id:search",
		"listing": "xpath://div[@class='listing']",
		"broken":  "div.header",
		"weird":   "name:foo",
	}

	tests := []struct {
		name    string
		want    ui.Selector
		wantErr string
	}{
		{name: "header", want: ui.Selector{Name: "header", Kind: ui.KindCSS, Value: "div.header"}},
		{name: "search", want: ui.Selector{Name: "search", Kind: ui.KindID, Value: "search"}},
		{name: "listing", want: ui.Selector{Name: "listing", Kind: ui.KindXPath, Value: "//div[@class='listing']"}},
		{name: "broken", wantErr: "type:value"},
		{name: "weird", wantErr: "unsupported locator type"},
		{name: "missing", wantErr: "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := locs.Selector(tt.name)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDefaultLocatorsParse(t *testing.T) {
	if err := DefaultLocators().Validate(); err != nil {
		t.Fatalf("default locators must parse: %v", err)
	}
}

func TestNavigationTimeout(t *testing.T) {
	tests := []struct {
		timeout  string
		expected time.Duration
	}{
		{"", 15 * time.Second},
		{"30s", 30 * time.Second},
		{"1m", time.Minute},
		{"invalid", 15 * time.Second},
		{"-5s", 15 * time.Second},
	}

	for _, tt := range tests {
		b := BrowserConfig{DefaultNavigationTimeout: tt.timeout}
		if got := b.NavigationTimeout(); got != tt.expected {
			t.Errorf("NavigationTimeout(%q) = %v, want %v", tt.timeout, got, tt.expected)
		}
	}
}

func TestAttachTimeout(t *testing.T) {
	if got := (BrowserConfig{}).AttachTimeout(); got != 10*time.Second {
		t.Errorf("expected 10s default, got %v", got)
	}
	if got := (BrowserConfig{DefaultAttachTimeout: "5s"}).AttachTimeout(); got != 5*time.Second {
		t.Errorf("expected 5s, got %v", got)
	}
}

func TestVerifyDurations(t *testing.T) {
	v := VerifyConfig{}
	if v.GetWaitTimeout() != 10*time.Second {
		t.Errorf("wait timeout default: %v", v.GetWaitTimeout())
	}
	if v.GetPollInterval() != 250*time.Millisecond {
		t.Errorf("poll interval default: %v", v.GetPollInterval())
	}
	if v.GetSettleTimeout() != 3*time.Second {
		t.Errorf("settle timeout default: %v", v.GetSettleTimeout())
	}
	if v.GetMaxTraceFiles() != 3 {
		t.Errorf("max trace files default: %d", v.GetMaxTraceFiles())
	}

	v = VerifyConfig{WaitTimeout: "2s", PollInterval: "50ms", SettleTimeout: "750ms", MaxTraceFiles: 7}
	if v.GetWaitTimeout() != 2*time.Second || v.GetPollInterval() != 50*time.Millisecond ||
		v.GetSettleTimeout() != 750*time.Millisecond || v.GetMaxTraceFiles() != 7 {
		t.Errorf("explicit values not honoured: %+v", v)
	}
}

func TestIsHeadless(t *testing.T) {
	trueVal, falseVal := true, false
	tests := []struct {
		name     string
		headless *bool
		expected bool
	}{
		{"nil defaults to true", nil, true},
		{"explicit true", &trueVal, true},
		{"explicit false", &falseVal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := BrowserConfig{Headless: tt.headless}
			if got := b.IsHeadless(); got != tt.expected {
				t.Errorf("IsHeadless() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestViewportDefaults(t *testing.T) {
	b := BrowserConfig{ViewportWidth: -1}
	if b.GetViewportWidth() != 1920 {
		t.Errorf("expected default width, got %d", b.GetViewportWidth())
	}
	if b.GetViewportHeight() != 1080 {
		t.Errorf("expected default height, got %d", b.GetViewportHeight())
	}
	b = BrowserConfig{ViewportWidth: 800, ViewportHeight: 600}
	if b.GetViewportWidth() != 800 || b.GetViewportHeight() != 600 {
		t.Errorf("expected 800x600, got %dx%d", b.GetViewportWidth(), b.GetViewportHeight())
	}
}
