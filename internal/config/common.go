package config

import (
	"crypto/tls"
	"time"
)

// BaseHTTPConfig holds common HTTP client configuration settings.
type BaseHTTPConfig struct {
	RetryCount        int           // Number of retries for failed requests
	RetryWaitTime     time.Duration // Initial wait time between retries
	RetryMaxWaitTime  time.Duration // Maximum wait time between retries
	Timeout           time.Duration // Timeout for requests
	RequestsPerSecond float64       // Client side request rate, 0 disables throttling
	TLSClientConfig   *tls.Config   // TLS configuration
	Proxy             string        // Proxy address
}

// RestyHTTPClientConfig holds additional configuration settings for the Resty HTTP client.
type RestyHTTPClientConfig struct {
	BaseHTTPConfig
	Debug bool // Flag to enable Resty debug mode
}

// DefaultHTTPConfig returns a base configuration for HTTP clients with default values.
func DefaultHTTPConfig() BaseHTTPConfig {
	return BaseHTTPConfig{
		RetryCount:        4,
		RetryWaitTime:     1 * time.Second,
		RetryMaxWaitTime:  30 * time.Second,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 0,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12, // Enforce a minimum TLS version
			InsecureSkipVerify: false,
		},
		Proxy: "",
	}
}

// DefaultRestyConfig returns a default configuration for the Resty HTTP client, extending the base HTTP configuration.
func DefaultRestyConfig() RestyHTTPClientConfig {
	return RestyHTTPClientConfig{
		BaseHTTPConfig: DefaultHTTPConfig(),
		Debug:          false,
	}
}

// Defaults for the sweeper directive.
const (
	DefaultThreads               = 1
	DefaultGitTimeout            = 10 * time.Minute
	DefaultPatternsFile          = "regex_patterns.csv"
	DefaultFalsePositivesFile    = "false_positive.txt"
	DefaultFindingsFile          = "found_issues.csv"
	DefaultStateFile             = "state.jsonl"
	DefaultSkippedExtensionsFile = "skipped_extensions.txt"
	DefaultRepositoriesFile      = "repositories.txt"
	DefaultProjectKeysFile       = "project_keys.txt"
	DefaultBitbucketBaseURL      = "https://api.bitbucket.org/2.0"
	DefaultBitbucketCloneHost    = "bitbucket.org"
	DefaultMaxContentSize        = 50 << 20
	DefaultJiraPageSize          = 50
	DefaultBitbucketPageSize     = 100
)

// DefaultAllowedExtensions lists the file extensions that are fetched and scanned
// when the sweeper.allowed_extensions directive is empty.
var DefaultAllowedExtensions = []string{
	// text and logs
	".txt", ".md", ".log",
	// data and configuration
	".csv", ".json", ".xml", ".yaml", ".yml",
	".ini", ".conf", ".env", ".properties", ".vm", ".db",
	// source code
	".c", ".cpp", ".h", ".hpp", ".java",
	".py", ".rb", ".go", ".rs", ".swift",
	".kt", ".kts", ".lua", ".pl", ".php",
	".asp", ".aspx", ".cs", ".vb",
	".js", ".ts", ".jsx", ".tsx",
	".sh", ".bash", ".zsh", ".bat", ".ps1",
	".r", ".m", ".mat",
	".scala", ".groovy", ".erl", ".hrl",
	".ex", ".exs", ".lisp", ".cl",
	".el", ".scm", ".ss", ".rkt",
	".clj", ".cljs", ".cljc", ".edn",
	".ml", ".mli", ".sml", ".sig", ".fun",
	// markup and templates
	".html", ".htm", ".xhtml", ".vue", ".phtml", ".psgi", ".mustache", ".jinja", ".ejs", ".hbs",
	// tool configuration
	".jsonnet", ".jsonc", ".toml", ".cfg",
	".editorconfig", ".gitconfig",
	".gitattributes", ".gitignore", ".dockerignore",
	".npmignore", ".eslintignore", ".prettierignore",
	".babelrc", ".eslintrc", ".prettierrc",
	// infrastructure and deployment
	".tf", ".tfvars", ".terraformrc", ".tfstate",
	".k8s", ".kubeconfig", ".helm", ".tiller",
	".kustomize", ".hcl",
	".envrc", ".vault", ".credential", ".credentials",
	".pem", ".crt", ".cer", ".p12", ".pfx", ".key",
}
