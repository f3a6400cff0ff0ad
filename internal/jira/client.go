package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/retry"
	sherrors "github.com/scan-io-git/sweeper/pkg/shared/errors"
	"github.com/scan-io-git/sweeper/pkg/shared/httpclient"
)

// service wraps a client to access different services.
type service struct {
	client *Client
}

// Client configures and manages access to the Jira REST API.
type Client struct {
	HTTPClient *httpclient.Client
	BaseURL    string
	Deployment string
	Logger     hclog.Logger
	Policy     retry.Policy
	PageSize   int
	Projects   ProjectsService
	Issues     IssuesService
}

// ProjectsService defines the interface for project-related operations.
type ProjectsService interface {
	List(ctx context.Context) ([]Project, error)
}

// IssuesService defines the interface for issue-related operations.
type IssuesService interface {
	Search(ctx context.Context, jql string, fn func(Issue) error) error
	Comments(ctx context.Context, issueKey string) ([]Comment, error)
	Changelog(ctx context.Context, issueKey string) ([]History, error)
}

// AuthInfo holds authentication details for Jira access.
type AuthInfo struct {
	Email string // Account email on cloud, username on server
	Token string // API token or password
}

// IsCloud reports whether the client talks to Jira Cloud.
func (c *Client) IsCloud() bool {
	return c.Deployment != config.DeploymentServer
}

// APIVersion is "3" on cloud, where bodies are rich documents, and "2" on server.
func (c *Client) APIVersion() string {
	if c.IsCloud() {
		return "3"
	}
	return "2"
}

// BrowseURL returns the web link of an issue or project.
func (c *Client) BrowseURL(key string) string {
	return c.BaseURL + "/browse/" + key
}

// resolveURL maps an API path to a full URL; absolute URLs are kept.
func (c *Client) resolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.BaseURL + "/rest/api/" + c.APIVersion() + path
}

func (c *Client) headersBuilder(ctx context.Context) *resty.Request {
	return c.HTTPClient.RestyClient.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")
}

// get sends a GET request under the retry policy.
func (c *Client) get(ctx context.Context, path string, queryParams map[string]string) (*resty.Response, error) {
	fullURL := c.resolveURL(path)
	op := "GET " + path

	var resp *resty.Response
	err := c.Policy.Do(ctx, op, func() error {
		r, err := c.headersBuilder(ctx).
			SetQueryParams(queryParams).
			Get(fullURL)
		if err := retry.CheckResponse(op, r, err); err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

// Attachment download errors
var (
	ErrContentTooLarge = errors.New("content exceeds the size limit")
	ErrForeignHost     = errors.New("attachment URL is not on the Jira host")
)

// checkHost accepts only URLs on the scheme and host of BaseURL, so the
// credentials never leave the Jira instance.
func (c *Client) checkHost(rawURL string) error {
	target, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid attachment URL %q: %w", rawURL, err)
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL %q: %w", c.BaseURL, err)
	}
	if !strings.EqualFold(target.Scheme, base.Scheme) || !strings.EqualFold(target.Host, base.Host) {
		return fmt.Errorf("%w: %q", ErrForeignHost, rawURL)
	}
	return nil
}

// Download fetches an attachment body of at most limit bytes; zero means no
// limit. The URL is absolute and requires the same credentials as the API.
func (c *Client) Download(ctx context.Context, contentURL string, limit int64) ([]byte, error) {
	if err := c.checkHost(contentURL); err != nil {
		return nil, err
	}
	op := "GET attachment"

	var body []byte
	err := c.Policy.Do(ctx, op, func() error {
		r, err := c.HTTPClient.RestyClient.R().
			SetContext(ctx).
			SetHeader("Accept", "*/*").
			SetDoNotParseResponse(true).
			Get(contentURL)
		if r != nil && r.RawBody() != nil {
			defer r.RawBody().Close()
		}
		if err := retry.CheckResponse(op, r, err); err != nil {
			return err
		}

		var reader io.Reader = r.RawBody()
		if limit > 0 {
			reader = io.LimitReader(reader, limit+1)
		}
		data, err := io.ReadAll(reader)
		if err != nil {
			return sherrors.NewTransientIOError(op, r.StatusCode(), err)
		}
		if limit > 0 && int64(len(data)) > limit {
			return ErrContentTooLarge
		}
		body = data
		return nil
	})
	return body, err
}

func unmarshalResponse[T any](resp *resty.Response, out *T) error {
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		var apiErr ErrorResponse
		if jerr := json.Unmarshal(resp.Body(), &apiErr); jerr == nil && len(apiErr.ErrorMessages) > 0 {
			return fmt.Errorf("API error: %s", strings.Join(apiErr.ErrorMessages, "; "))
		}
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// New initializes a new API client with configured services.
func New(globalConfig *config.Config, logger hclog.Logger, auth AuthInfo) (*Client, error) {
	j := globalConfig.Jira
	if j.BaseURL == "" {
		return nil, fmt.Errorf("jira base_url is not set")
	}

	httpClient, err := httpclient.New(logger, globalConfig)
	if err != nil {
		logger.Error("failed to initialize HTTP client", "error", err)
		return nil, err
	}
	if auth.Email != "" || auth.Token != "" {
		httpClient.RestyClient.SetBasicAuth(auth.Email, auth.Token)
	}

	client := &Client{
		HTTPClient: httpClient,
		BaseURL:    strings.TrimSuffix(j.BaseURL, "/"),
		Deployment: config.SetThen(j.Deployment, config.DeploymentCloud),
		Logger:     logger,
		Policy:     retry.NewPolicy(globalConfig, logger),
		PageSize:   config.SetThen(j.PageSize, config.DefaultJiraPageSize),
	}
	client.Projects = &projectsService{&service{client}}
	client.Issues = &issuesService{&service{client}}
	return client, nil
}
