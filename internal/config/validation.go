package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scan-io-git/sweeper/pkg/shared/files"
)

// Supported values for enumerated directives.
const (
	DeploymentCloud  = "cloud"
	DeploymentServer = "server"

	AuthTypeHTTP     = "http"
	AuthTypeSSHKey   = "ssh-key"
	AuthTypeSSHAgent = "ssh-agent"
)

// DateLayouts lists the accepted layouts for cutoff dates, most specific first.
var DateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"}

// ValidateConfig checks if the global configurations have valid values.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("YAML global config: configuration object is nil")
	}
	if err := ValidateSweeperConfig(cfg); err != nil {
		return fmt.Errorf("YAML global config: sweeper directive is invalid: %w", err)
	}
	if err := ValidateHTTPConfig(&cfg.HTTPClient); err != nil {
		return fmt.Errorf("YAML global config: http_client directive is invalid: %w", err)
	}
	if err := ValidateGitConfig(&cfg.GitClient); err != nil {
		return fmt.Errorf("YAML global config: git_client directive is invalid: %w", err)
	}
	if err := ValidateBitbucketConfig(&cfg.Bitbucket); err != nil {
		return fmt.Errorf("YAML global config: bitbucket directive is invalid: %w", err)
	}
	if err := ValidateJiraConfig(&cfg.Jira); err != nil {
		return fmt.Errorf("YAML global config: jira directive is invalid: %w", err)
	}
	return nil
}

// ValidateSweeperConfig checks the pipeline settings and prepares the working folders.
func ValidateSweeperConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("sweeper configuration is nil")
	}
	if err := updateHome(cfg); err != nil {
		return fmt.Errorf("failed to update home folder: %w", err)
	}
	if err := updateFolder(&cfg.Sweeper.TempFolder, "SWEEPER_TEMP_FOLDER", "tmp", cfg); err != nil {
		return fmt.Errorf("failed to update temp folder: %w", err)
	}
	if cfg.Sweeper.Threads < 0 || cfg.Sweeper.Threads > 256 {
		return fmt.Errorf("threads must be between 1 and 256: %d", cfg.Sweeper.Threads)
	}
	if cfg.Sweeper.MaxContentSize < 0 {
		return fmt.Errorf("max_content_size cannot be negative: %d", cfg.Sweeper.MaxContentSize)
	}
	if err := validateDuration(cfg.Sweeper.FalsePositivesRefresh, "false_positives_refresh", 24*time.Hour); err != nil {
		return err
	}
	for _, pattern := range cfg.Sweeper.ExcludePaths {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("exclude_paths contains an empty pattern")
		}
	}
	return nil
}

// ValidateGitConfig checks if the Git configurations have valid values.
func ValidateGitConfig(gitConfig *GitClient) error {
	if gitConfig == nil {
		return fmt.Errorf("git configuration is nil")
	}
	if err := validateDuration(gitConfig.Timeout, "timeout", 1*time.Hour); err != nil {
		return err
	}
	if gitConfig.Depth < 0 {
		return fmt.Errorf("depth cannot be negative: %d", gitConfig.Depth)
	}
	return nil
}

// ValidateHTTPConfig checks if the HTTP configurations have valid values.
func ValidateHTTPConfig(httpConfig *HTTPClient) error {
	if httpConfig == nil {
		return fmt.Errorf("HTTP configuration is nil")
	}
	if httpConfig.RetryCount < 0 || httpConfig.RetryCount > 20 {
		return fmt.Errorf("retry_count must be between 0 and 20: %d", httpConfig.RetryCount)
	}
	if httpConfig.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second cannot be negative: %v", httpConfig.RequestsPerSecond)
	}

	durations := map[string]time.Duration{
		"retry_max_wait_time": httpConfig.RetryMaxWaitTime,
		"retry_wait_time":     httpConfig.RetryWaitTime,
		"timeout":             httpConfig.Timeout,
	}
	for name, duration := range durations {
		if err := validateDuration(duration, name, 100*time.Second); err != nil {
			return err
		}
	}

	return validateProxy(&httpConfig.Proxy)
}

// ValidateBitbucketConfig checks the repository provider settings.
func ValidateBitbucketConfig(bb *Bitbucket) error {
	if bb == nil {
		return fmt.Errorf("bitbucket configuration is nil")
	}
	if bb.BaseURL != "" {
		if _, err := url.ParseRequestURI(bb.BaseURL); err != nil {
			return fmt.Errorf("base_url is not a valid URL: %w", err)
		}
	}
	switch bb.AuthType {
	case "", AuthTypeHTTP, AuthTypeSSHAgent:
	case AuthTypeSSHKey:
		if bb.SSHKey == "" {
			return fmt.Errorf("ssh_key must be set with auth_type %q", AuthTypeSSHKey)
		}
	default:
		return fmt.Errorf("unknown auth_type: %q", bb.AuthType)
	}
	if bb.ModifiedSince != "" {
		if _, err := ParseDate(bb.ModifiedSince); err != nil {
			return fmt.Errorf("modified_since: %w", err)
		}
	}
	if bb.PageSize < 0 || bb.PageSize > 100 {
		return fmt.Errorf("page_size must be between 1 and 100: %d", bb.PageSize)
	}
	return nil
}

// ValidateJiraConfig checks the tracker provider settings.
func ValidateJiraConfig(j *Jira) error {
	if j == nil {
		return fmt.Errorf("jira configuration is nil")
	}
	if j.BaseURL != "" {
		if _, err := url.ParseRequestURI(j.BaseURL); err != nil {
			return fmt.Errorf("base_url is not a valid URL: %w", err)
		}
	}
	switch j.Deployment {
	case "", DeploymentCloud, DeploymentServer:
	default:
		return fmt.Errorf("deployment must be %q or %q: %q", DeploymentCloud, DeploymentServer, j.Deployment)
	}
	if j.PageSize < 0 || j.PageSize > 1000 {
		return fmt.Errorf("page_size must be between 1 and 1000: %d", j.PageSize)
	}
	return nil
}

// ParseDate parses a cutoff date in one of DateLayouts.
func ParseDate(value string) (time.Time, error) {
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date %q, expected YYYY-MM-DD or RFC3339", value)
}

// validateDuration checks that a time.Duration is valid and within a specified maximum duration.
func validateDuration(d time.Duration, name string, max time.Duration) error {
	if d < 0 {
		return fmt.Errorf("invalid duration for %q: %v cannot be negative", name, d)
	}
	if d > max {
		return fmt.Errorf("%q duration is too long: %v exceeds maximum of %v", name, d, max)
	}
	return nil
}

// validateProxy checks if the given Proxy settings are valid.
func validateProxy(proxy *Proxy) error {
	if proxy == nil {
		return fmt.Errorf("proxy configuration is nil")
	}

	// If host or port is not set, skip further validation
	if proxy.Host == "" || proxy.Port == 0 {
		return nil
	}

	if err := validateHost(&proxy.Host); err != nil {
		return err
	}
	return validatePort(proxy.Port)
}

// validateHost ensures the proxy host includes a scheme; adds "http" if missing.
func validateHost(host *string) error {
	if host == nil {
		return fmt.Errorf("host string pointer is nil")
	}

	if !strings.Contains(*host, "://") {
		*host = "http://" + *host
	}
	*host = strings.TrimRight(*host, "/")

	if _, err := url.Parse(*host); err != nil {
		return fmt.Errorf("invalid host URL: %w", err)
	}
	return nil
}

// validatePort checks if the port part of the proxy configuration is valid.
func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// updateHome sets the home folder from SWEEPER_HOME, the config or ~/.sweeper and creates it.
func updateHome(cfg *Config) error {
	if home := os.Getenv("SWEEPER_HOME"); home != "" {
		cfg.Sweeper.HomeFolder = home
	} else if cfg.Sweeper.HomeFolder == "" {
		homeFolder, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("unable to get user home folder: %w", err)
		}
		cfg.Sweeper.HomeFolder = filepath.Join(homeFolder, ".sweeper")
	}

	expanded, err := files.ExpandPath(cfg.Sweeper.HomeFolder)
	if err != nil {
		return fmt.Errorf("failed to expand home path %q: %w", cfg.Sweeper.HomeFolder, err)
	}
	cfg.Sweeper.HomeFolder = expanded

	if err := files.CreateFolderIfNotExists(expanded); err != nil {
		return fmt.Errorf("failed to create home folder %q: %w", expanded, err)
	}
	return nil
}

// updateFolder resolves a folder from an env variable, the config or a default under home.
func updateFolder(folder *string, envVar, defaultSubFolder string, cfg *Config) error {
	if v := os.Getenv(envVar); v != "" {
		*folder = v
	} else if *folder == "" {
		*folder = filepath.Join(GetHome(cfg), defaultSubFolder)
	}

	expanded, err := files.ExpandPath(*folder)
	if err != nil {
		return fmt.Errorf("failed to expand path %q: %w", *folder, err)
	}
	*folder = expanded

	if err := files.CreateFolderIfNotExists(expanded); err != nil {
		return fmt.Errorf("failed to create folder %q: %w", expanded, err)
	}
	return nil
}
