package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"staycheck/internal/ui"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level staycheck config.
	WorkspaceDirName = ".staycheck"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (-no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up.
	ExplicitDir string
}

// Config captures all tunable settings for staycheck.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Browser  BrowserConfig `yaml:"browser"`
	MCP      MCPConfig     `yaml:"mcp"`
	Facts    FactsConfig   `yaml:"facts"`
	Verify   VerifyConfig  `yaml:"verify"`
	Locators Locators      `yaml:"locators"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
	// debug | info | warn | error
	LogLevel string `yaml:"log_level"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Wins over Launch when set.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional Chrome binary and flags. Empty lets Rod's launcher find a browser.
	Launch []string `yaml:"launch"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Site root the scenarios start from.
	BaseURL string `yaml:"base_url"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Default timeout when attaching to an existing browser (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	ViewportWidth        int    `yaml:"viewport_width"`
	ViewportHeight       int    `yaml:"viewport_height"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio.
	SSEPort int `yaml:"sse_port"`
}

// FactsConfig controls the embedded deductive engine.
type FactsConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// VerifyConfig tunes waits and the text conventions of the target site.
type VerifyConfig struct {
	WaitTimeout   string `yaml:"wait_timeout"`
	PollInterval  string `yaml:"poll_interval"`
	SettleTimeout string `yaml:"settle_timeout"`
	// Summary-tier heuristic: each bed sleeps this many guests.
	GuestsPerBed int `yaml:"guests_per_bed"`
	// Text that follows a listing price, e.g. "lei per night".
	PriceSuffix string `yaml:"price_suffix"`
	// Currency word that ends a map pin label, e.g. "lei".
	PinCurrency            string `yaml:"pin_currency"`
	FreeCancellationMarker string `yaml:"free_cancellation_marker"`
	ArtifactDir            string `yaml:"artifact_dir"`
	TraceDir               string `yaml:"trace_dir"`
	MaxTraceFiles          int    `yaml:"max_trace_files"`
}

// Locators maps a logical element name to a "type:value" locator.
type Locators map[string]string

// DefaultLocators mirrors the markup of the booking site at the time of writing. Date
// locators carry a {date} placeholder filled with MM/DD/YYYY.
func DefaultLocators() Locators {
	return Locators{
		"location_input_field":        "css:input[data-testid='structured-search-input-field-query']",
		"check_in_button":             "css:div[data-testid='structured-search-input-field-split-dates-0']",
		"check_in_date":               "css:div[data-testid='calendar-day-{date}']",
		"check_out_date":              "css:div[data-testid='calendar-day-{date}']",
		"add_guests_button":           "css:div[data-testid='structured-search-input-field-guests-button']",
		"add_adult_button":            "css:button[data-testid='stepper-adults-increase-button']",
		"add_child_button":            "css:button[data-testid='stepper-children-increase-button']",
		"search_for_results_button":   "css:button[data-testid='structured-search-input-search-button']",
		"search_results_header":       "css:div[data-testid='stays-page-heading'] h1",
		"location_filter_summary":     "css:button[data-testid='little-search-location'] div",
		"date_filter_summary":         "css:button[data-testid='little-search-anytime'] div",
		"guests_filter_summary":       "css:button[data-testid='little-search-guests'] div",
		"listing_summary":             "css:div[data-testid='card-container']",
		"accommodates_guests_summary": "xpath://div[@data-section-id='OVERVIEW_DEFAULT_V2']//li[contains(., 'guest')]",
		"more_filters_button":         "css:button[data-testid='category-bar-filter-button']",
		"add_bedroom_button":          "css:button[data-testid='stepper-filter-item-min_bedrooms-stepper-increase-button']",
		"show_more_button":            "xpath://section[@aria-labelledby='filter-section-heading-id-FILTER_SECTION_CONTAINER:MORE_FILTERS_AMENITIES_WITH_SUBCATEGORIES']//button[.//span[text()='Show more']]",
		"bedrooms_in_details":         "xpath://div[@data-section-id='OVERVIEW_DEFAULT_V2']//li[contains(., 'bedroom')]",
		"pool_facility_button":        "css:button[id='filter-item-amenities-7']",
		"show_places_button":          "css:a[data-testid='filter-modal-confirm']",
		"show_all_amenities_button":   "css:div[data-section-id='AMENITIES_DEFAULT'] button",
		"parking_and_facilities":      "xpath://div[@data-testid='modal-container']//h2[text()='Parking and facilities']/ancestor::section[1]",
		"close_translation_popup":     "css:div[role='dialog'][aria-label='Translation on'] button[aria-label='Close']",
		"common_map_marker":           "css:div[data-testid='map/markers/BasePillMarker']",
		"pin_label":                   "css:span",
		"first_listing_summary":       "css:div[data-testid='card-container']",
		"pin_popup_summary":           "css:div[data-testid='map/ListingCard']",
		"neutral_region":              "css:header",
	}
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:     "staycheck",
			Version:  "0.1.0",
			LogFile:  "staycheck.log",
			LogLevel: "info",
		},
		Browser: BrowserConfig{
			BaseURL:                  "https://www.airbnb.com/",
			DefaultNavigationTimeout: "15s",
			DefaultAttachTimeout:     "10s",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		Facts: FactsConfig{
			Enable:          true,
			SchemaPath:      "schemas/staycheck.mg",
			FactBufferLimit: 2048,
		},
		Verify: VerifyConfig{
			WaitTimeout:            "10s",
			PollInterval:           "250ms",
			SettleTimeout:          "3s",
			GuestsPerBed:           2,
			PriceSuffix:            "lei per night",
			PinCurrency:            "lei",
			FreeCancellationMarker: "Free cancellation",
			ArtifactDir:            "artifacts",
			TraceDir:               "traces",
			MaxTraceFiles:          3,
		},
		Locators: DefaultLocators(),
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	cfg.fillLocatorDefaults()

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .staycheck/config.yaml file.
// Returns the workspace root directory (parent of .staycheck/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace merges, in order:
//
//	DefaultConfig() <- .staycheck/config.yaml <- explicit -config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, err := os.Getwd()
			if err != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", err)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}
	cfg.fillLocatorDefaults()

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .staycheck/ directory with a template config at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	for _, d := range []string{wsDir, filepath.Join(wsDir, "artifacts"), filepath.Join(wsDir, "traces")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# staycheck project-level configuration
# Values here override defaults but are overridden by -config and CLI flags.

# browser:
#   headless: false
#   base_url: "https://www.airbnb.com/"

# verify:
#   wait_timeout: "15s"
#   price_suffix: "lei per night"
#   pin_currency: "lei"
#   artifact_dir: "artifacts"
#   trace_dir: "traces"

# locators:
#   listing_summary: "css:div[data-testid='card-container']"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte("artifacts/\ntraces/\n"), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	base := filepath.Join(wsDir, WorkspaceDirName)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Facts.SchemaPath = resolve(cfg.Facts.SchemaPath)
	cfg.Verify.ArtifactDir = resolve(cfg.Verify.ArtifactDir)
	cfg.Verify.TraceDir = resolve(cfg.Verify.TraceDir)
	return cfg
}

// fillLocatorDefaults restores default entries a file overlay dropped.
func (c *Config) fillLocatorDefaults() {
	if c.Locators == nil {
		c.Locators = Locators{}
	}
	for name, raw := range DefaultLocators() {
		if _, ok := c.Locators[name]; !ok {
			c.Locators[name] = raw
		}
	}
}

// Validate ensures required fields exist so staycheck can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Verify.GuestsPerBed <= 0 {
		return errors.New("verify.guests_per_bed must be positive")
	}
	if strings.TrimSpace(c.Verify.PriceSuffix) == "" {
		return errors.New("verify.price_suffix is required")
	}
	if strings.TrimSpace(c.Verify.PinCurrency) == "" {
		return errors.New("verify.pin_currency is required")
	}
	for _, field := range []struct{ name, value string }{
		{"verify.wait_timeout", c.Verify.WaitTimeout},
		{"verify.poll_interval", c.Verify.PollInterval},
		{"verify.settle_timeout", c.Verify.SettleTimeout},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	return c.Locators.Validate()
}

// Validate parses every locator so a typo fails at startup rather than mid-scenario.
func (l Locators) Validate() error {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := l.Selector(name); err != nil {
			return err
		}
	}
	return nil
}

// Selector resolves a named locator.
func (l Locators) Selector(name string) (ui.Selector, error) {
	raw, ok := l[name]
	if !ok {
		return ui.Selector{}, fmt.Errorf("locator with key %q not found", name)
	}
	sel, err := ui.ParseSelector(raw)
	if err != nil {
		return ui.Selector{}, fmt.Errorf("locator %s: %w", name, err)
	}
	sel.Name = name
	return sel, nil
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	return parseDuration(b.DefaultAttachTimeout, 10*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

// GetWaitTimeout is the default deadline of every UI wait.
func (v VerifyConfig) GetWaitTimeout() time.Duration {
	return parseDuration(v.WaitTimeout, 10*time.Second)
}

func (v VerifyConfig) GetPollInterval() time.Duration {
	return parseDuration(v.PollInterval, 250*time.Millisecond)
}

// GetSettleTimeout caps each hover transition wait.
func (v VerifyConfig) GetSettleTimeout() time.Duration {
	return parseDuration(v.SettleTimeout, 3*time.Second)
}

// GetMaxTraceFiles returns how many trace files to keep with a sane default.
func (v VerifyConfig) GetMaxTraceFiles() int {
	if v.MaxTraceFiles <= 0 {
		return 3
	}
	return v.MaxTraceFiles
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
