package config

import (
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// Settings holds all configuration options.
type Settings struct {
	// Source settings
	URLPattern    string `json:"url_pattern"`
	ProbeFileName string `json:"probe_file_name"`

	// Download settings
	DownloadFiles          []string `json:"download_files"`
	OutputDir              string   `json:"output_dir"`
	MaxConcurrentDownloads int      `json:"max_concurrent_downloads"`
	DownloadMaxRetries     int      `json:"download_max_retries"`
	RequestTimeoutSeconds  int      `json:"request_timeout_seconds"`
	RequestsPerSecond      float64  `json:"requests_per_second"`

	// Mapping database settings
	DatabasePath    string `json:"database_path"`
	ProbeMaxRetries int    `json:"probe_max_retries"`
	MaxScanAhead    int    `json:"max_scan_ahead"`
	ScanMissWindow  int    `json:"scan_miss_window"`

	// Logging
	LogFile  string `json:"log_file"`
	LogLevel string `json:"log_level"`
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	return &Settings{
		URLPattern:    "https://links.sgx.com/1.0.0/derivatives-historical",
		ProbeFileName: "WEBPXTICK_DT.zip",

		DownloadFiles: []string{
			"WEBPXTICK_DT.zip",
			"TickData_structure.dat",
			"TC.txt",
			"TC_structure.dat",
		},
		OutputDir:              filepath.Join(homeDir, "sgx-data"),
		MaxConcurrentDownloads: 4,
		DownloadMaxRetries:     3,
		RequestTimeoutSeconds:  60,
		RequestsPerSecond:      5,

		DatabasePath:    filepath.Join(homeDir, "sgx-data", "mappings.db"),
		ProbeMaxRetries: 3,
		MaxScanAhead:    30,
		ScanMissWindow:  7,

		LogFile:  "",
		LogLevel: "info",
	}
}

// Load reads settings from a JSON file.
//
// A missing file is not an error: defaults are returned so the tool works
// out of the box, matching the behavior of the flag-only invocation.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// Save writes settings to a JSON file.
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
