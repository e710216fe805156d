// Package config provides configuration management for sgx-downloader.
//
// This package handles:
//   - Loading and saving settings from JSON files
//   - Default configuration values
//
// # Default Settings
//
// Use DefaultSettings() to get sensible defaults:
//
//	settings := config.DefaultSettings()
//	// Downloads to ~/sgx-data
//	// Mapping database at ~/sgx-data/mappings.db
//	// 4 concurrent downloads, 3 retries per file
//
// # Loading from File
//
//	settings, err := config.Load("/path/to/config.json")
//	if err != nil {
//	    // Uses defaults if file doesn't exist
//	}
//
// # Configuration Options
//
// Settings includes options for:
//   - The upstream URL pattern and probe filename
//   - The set of files fetched per trading day
//   - Concurrency, retry and request-rate limits
//   - Mapping database location and probe/scan behavior
//   - Log file and level
package config
