package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config is the global YAML configuration of sweeper.
type Config struct {
	Logger     Logger     `yaml:"logger"`
	HTTPClient HTTPClient `yaml:"http_client"`
	GitClient  GitClient  `yaml:"git_client"`
	Sweeper    Sweeper    `yaml:"sweeper"`
	Bitbucket  Bitbucket  `yaml:"bitbucket"`
	Jira       Jira       `yaml:"jira"`
	S3         S3         `yaml:"s3"`
}

// Logger holds the logger directive.
type Logger struct {
	Level           string `yaml:"level"`
	DisableTime     *bool  `yaml:"disable_time"`
	JSONFormat      *bool  `yaml:"json_format"`
	IncludeLocation *bool  `yaml:"include_location"`
}

// HTTPClient holds the http_client directive shared by every REST provider.
type HTTPClient struct {
	Debug             *bool           `yaml:"debug"`
	RetryCount        int             `yaml:"retry_count"`
	RetryWaitTime     time.Duration   `yaml:"retry_wait_time"`
	RetryMaxWaitTime  time.Duration   `yaml:"retry_max_wait_time"`
	Timeout           time.Duration   `yaml:"timeout"`
	RequestsPerSecond float64         `yaml:"requests_per_second"`
	TLSClientConfig   TLSClientConfig `yaml:"tls_client_config"`
	Proxy             Proxy           `yaml:"proxy"`
}

// TLSClientConfig controls certificate verification.
type TLSClientConfig struct {
	Verify *bool `yaml:"verify"`
}

// Proxy describes an optional HTTP proxy.
type Proxy struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// GitClient holds the git_client directive used for repository clones.
type GitClient struct {
	Timeout     time.Duration `yaml:"timeout"`
	InsecureTLS *bool         `yaml:"insecure_tls"`
	Depth       int           `yaml:"depth"`
	// KnownHostsFile verifies SSH host keys, ~/.ssh/known_hosts when empty.
	KnownHostsFile  string `yaml:"known_hosts_file"`
	InsecureHostKey *bool  `yaml:"insecure_host_key"`
}

// Sweeper holds the core pipeline settings.
type Sweeper struct {
	HomeFolder            string        `yaml:"home_folder"`
	TempFolder            string        `yaml:"temp_folder"`
	Threads               int           `yaml:"threads"`
	PatternsFile          string        `yaml:"patterns_file"`
	FalsePositivesFile    string        `yaml:"false_positives_file"`
	FalsePositivesRefresh time.Duration `yaml:"false_positives_refresh"`
	FindingsFile          string        `yaml:"findings_file"`
	SarifFile             string        `yaml:"sarif_file"`
	StateFile             string        `yaml:"state_file"`
	SkippedExtensionsFile string        `yaml:"skipped_extensions_file"`
	KeepState             bool          `yaml:"keep_state"`
	AllowedExtensions     []string      `yaml:"allowed_extensions"`
	ExcludePaths          []string      `yaml:"exclude_paths"`
	MaxContentSize        int64         `yaml:"max_content_size"`
}

// Bitbucket holds the repository provider settings.
type Bitbucket struct {
	BaseURL          string `yaml:"base_url"`
	CloneHost        string `yaml:"clone_host"`
	Workspace        string `yaml:"workspace"`
	Username         string `yaml:"username"`
	Token            string `yaml:"token"`
	AuthType         string `yaml:"auth_type"`
	SSHKey           string `yaml:"ssh_key"`
	SSHKeyPassword   string `yaml:"ssh_key_password"`
	ModifiedSince    string `yaml:"modified_since"`
	RepositoriesFile string `yaml:"repositories_file"`
	PageSize         int    `yaml:"page_size"`
}

// Jira holds the tracker provider settings.
type Jira struct {
	BaseURL         string `yaml:"base_url"`
	Deployment      string `yaml:"deployment"`
	Email           string `yaml:"email"`
	Token           string `yaml:"token"`
	ProjectKeysFile string `yaml:"project_keys_file"`
	PageSize        int    `yaml:"page_size"`
	Incremental     bool   `yaml:"incremental"`
}

// S3 holds the optional findings upload target.
type S3 struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

// ValidateConfigPath checks that path points to a regular file.
func ValidateConfigPath(path string) error {
	s, err := os.Stat(path)
	if err != nil {
		return err
	}
	if s.IsDir() {
		return fmt.Errorf("'%s' is a directory, not a file", path)
	}
	return nil
}

// LoadYAML decodes the YAML file at configPath into data.
func LoadYAML(configPath string, data interface{}) error {
	if err := ValidateConfigPath(configPath); err != nil {
		return err
	}

	file, err := os.Open(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	d := yaml.NewDecoder(file)
	if err := d.Decode(data); err != nil {
		return err
	}

	return nil
}

// LoadConfig reads the configuration from configPath. A missing file yields an empty
// configuration so every directive falls back to its default.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		applyEnv(cfg)
		return cfg, nil
	}

	if err := LoadYAML(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config %q: %w", configPath, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides credentials and the home folder from the environment.
func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"SWEEPER_BITBUCKET_USERNAME": &cfg.Bitbucket.Username,
		"SWEEPER_BITBUCKET_TOKEN":    &cfg.Bitbucket.Token,
		"SWEEPER_JIRA_EMAIL":         &cfg.Jira.Email,
		"SWEEPER_JIRA_TOKEN":         &cfg.Jira.Token,
		"SWEEPER_HOME":               &cfg.Sweeper.HomeFolder,
	}
	for env, field := range overrides {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
}
