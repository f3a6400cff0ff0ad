package git

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	crssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/retry"
	"github.com/scan-io-git/sweeper/pkg/shared/files"
)

// Client clones repositories with a fixed authentication method.
type Client struct {
	logger      hclog.Logger
	auth        transport.AuthMethod
	timeout     time.Duration
	depth       int
	insecureTLS bool
	policy      retry.Policy
}

// Credentials holds what the authenticators need.
type Credentials struct {
	AuthType       string
	Username       string
	Token          string
	SSHKey         string
	SSHKeyPassword string
	// KnownHostsFile lists the accepted SSH host keys.
	KnownHostsFile string
	// InsecureHostKey accepts any SSH host key.
	InsecureHostKey bool
}

const defaultKnownHostsFile = "~/.ssh/known_hosts"

// hostKeyCallback verifies SSH servers against the known_hosts file.
func hostKeyCallback(creds Credentials, logger hclog.Logger) (crssh.HostKeyCallback, error) {
	if creds.InsecureHostKey {
		logger.Warn("SSH host key verification is disabled")
		return crssh.InsecureIgnoreHostKey(), nil
	}
	path, err := files.ExpandPath(config.SetThen(creds.KnownHostsFile, defaultKnownHostsFile))
	if err != nil {
		return nil, err
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts from %q: %w", path, err)
	}
	return callback, nil
}

// Authenticator defines an interface for different authentication methods.
type Authenticator interface {
	SetupAuth(creds Credentials, logger hclog.Logger) (transport.AuthMethod, error)
	ValidateConfig(creds Credentials) error
}

// SSHKeyAuthenticator provides SSH key-based authentication.
type SSHKeyAuthenticator struct{}

// SSHAgentAuthenticator provides SSH agent-based authentication.
type SSHAgentAuthenticator struct{}

// HTTPAuthenticator provides HTTP basic authentication.
type HTTPAuthenticator struct{}

// SetupAuth configures SSH key authentication.
func (s *SSHKeyAuthenticator) SetupAuth(creds Credentials, logger hclog.Logger) (transport.AuthMethod, error) {
	logger.Debug("setting up SSH key authentication")

	sshKeyPath, err := files.ExpandPath(creds.SSHKey)
	if err != nil {
		logger.Error("failed to expand SSH key path", "path", creds.SSHKey, "error", err)
		return nil, err
	}

	auth, err := ssh.NewPublicKeysFromFile("git", sshKeyPath, creds.SSHKeyPassword)
	if err != nil {
		logger.Error("failed to set up SSH key authentication", "error", err)
		return nil, err
	}
	callback, err := hostKeyCallback(creds, logger)
	if err != nil {
		logger.Error("failed to set up SSH host key verification", "error", err)
		return nil, err
	}
	auth.HostKeyCallbackHelper = ssh.HostKeyCallbackHelper{HostKeyCallback: callback}
	return auth, nil
}

// ValidateConfig validates the configuration for SSHKeyAuthenticator.
func (s *SSHKeyAuthenticator) ValidateConfig(creds Credentials) error {
	if creds.SSHKey == "" {
		return fmt.Errorf("ssh_key is required for ssh-key authentication")
	}
	return nil
}

// SetupAuth configures SSH agent authentication.
func (s *SSHAgentAuthenticator) SetupAuth(creds Credentials, logger hclog.Logger) (transport.AuthMethod, error) {
	logger.Debug("setting up SSH agent authentication")

	auth, err := ssh.NewSSHAgentAuth("git")
	if err != nil {
		logger.Error("failed to set up SSH agent authentication", "error", err)
		return nil, err
	}
	callback, err := hostKeyCallback(creds, logger)
	if err != nil {
		logger.Error("failed to set up SSH host key verification", "error", err)
		return nil, err
	}
	auth.HostKeyCallbackHelper = ssh.HostKeyCallbackHelper{HostKeyCallback: callback}
	return auth, nil
}

// ValidateConfig validates the configuration for SSHAgentAuthenticator.
func (s *SSHAgentAuthenticator) ValidateConfig(Credentials) error {
	return nil
}

// SetupAuth configures HTTP basic authentication.
func (h *HTTPAuthenticator) SetupAuth(creds Credentials, logger hclog.Logger) (transport.AuthMethod, error) {
	logger.Debug("setting up HTTP authentication")

	if creds.Username == "" && creds.Token == "" {
		return nil, nil
	}
	return &http.BasicAuth{
		Username: creds.Username,
		Password: creds.Token,
	}, nil
}

// ValidateConfig validates the configuration for HTTPAuthenticator.
func (h *HTTPAuthenticator) ValidateConfig(creds Credentials) error {
	if creds.Token != "" && creds.Username == "" {
		return fmt.Errorf("username is required when a token is set")
	}
	return nil
}

// getAuthenticator returns the appropriate Authenticator based on the authentication type.
func getAuthenticator(authType string) (Authenticator, error) {
	switch authType {
	case config.AuthTypeSSHKey:
		return &SSHKeyAuthenticator{}, nil
	case config.AuthTypeSSHAgent:
		return &SSHAgentAuthenticator{}, nil
	case config.AuthTypeHTTP, "":
		return &HTTPAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", authType)
	}
}

// New initializes a new Git Client with the given credentials.
func New(logger hclog.Logger, globalConfig *config.Config, creds Credentials) (*Client, error) {
	if globalConfig == nil {
		globalConfig = &config.Config{}
	}

	creds.KnownHostsFile = config.SetThen(creds.KnownHostsFile, globalConfig.GitClient.KnownHostsFile)
	creds.InsecureHostKey = creds.InsecureHostKey || config.GetBoolValue(globalConfig.GitClient, "InsecureHostKey", false)

	authenticator, err := getAuthenticator(creds.AuthType)
	if err != nil {
		logger.Error("unsupported authentication type", "error", err)
		return nil, fmt.Errorf("unsupported authentication type: %w", err)
	}

	if err := authenticator.ValidateConfig(creds); err != nil {
		logger.Error("invalid configuration", "error", err)
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	auth, err := authenticator.SetupAuth(creds, logger)
	if err != nil {
		logger.Error("failed to set up Git authentication", "error", err)
		return nil, fmt.Errorf("failed to set up Git authentication: %w", err)
	}

	return &Client{
		logger:      logger,
		auth:        auth,
		timeout:     config.SetThen(globalConfig.GitClient.Timeout, config.DefaultGitTimeout),
		depth:       config.SetThen(globalConfig.GitClient.Depth, 1),
		insecureTLS: config.GetBoolValue(globalConfig.GitClient, "InsecureTLS", false),
		policy:      retry.NewPolicy(globalConfig, logger),
	}, nil
}
