package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateBuildConfig(&config.Build); err != nil {
		return fmt.Errorf("build config: %w", err)
	}

	if err := validateResolverConfig(&config.Resolver); err != nil {
		return fmt.Errorf("resolver config: %w", err)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(config.Host, char) {
			return fmt.Errorf("host contains dangerous character: %s", char)
		}
	}

	return nil
}

// validateBuildConfig validates build configuration values
func validateBuildConfig(config *BuildConfig) error {
	if config.Concurrency < 1 || config.Concurrency > 1024 {
		return fmt.Errorf("concurrency %d is not in valid range 1-1024", config.Concurrency)
	}

	if err := validatePath(config.DistDir); err != nil {
		return fmt.Errorf("invalid dist_dir '%s': %w", config.DistDir, err)
	}

	if !strings.HasPrefix(config.PublicURL, "/") {
		u, err := url.Parse(config.PublicURL)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("public_url must start with / or be an absolute URL: %s", config.PublicURL)
		}
	}

	for _, pattern := range append(append([]string{}, config.Watch...), config.Ignore...) {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid glob pattern: %s", pattern)
		}
	}

	return nil
}

func validateResolverConfig(config *ResolverConfig) error {
	for _, ext := range config.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}

	return nil
}

// validatePath validates a relative output path
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	return nil
}
