package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/retry"
	"github.com/scan-io-git/sweeper/pkg/shared/httpclient"
)

// service wraps a client to access different services.
type service struct {
	client *Client
}

// Client configures and manages access to the Bitbucket Cloud API, holding
// service implementations and an HTTP client.
type Client struct {
	HTTPClient   *httpclient.Client
	BaseURL      string
	Logger       hclog.Logger
	Policy       retry.Policy
	Repositories RepositoriesService
}

// RepositoriesService defines the interface for repository-related operations.
type RepositoriesService interface {
	List(ctx context.Context, workspace string) ([]Repository, error)
}

// AuthInfo holds authentication details for Bitbucket access.
type AuthInfo struct {
	Username string // Username for Bitbucket access
	Token    string // App password or access token
}

// resolveURL constructs the full URL by checking if the path is absolute or relative.
func (c *Client) resolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.BaseURL + path
}

// headersBuilder returns a common request builder with the necessary headers.
func (c *Client) headersBuilder(ctx context.Context) *resty.Request {
	return c.HTTPClient.RestyClient.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")
}

// get sends a GET request under the retry policy. Transient failures are
// retried; any other non-2xx status is returned as a retry.StatusError.
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

// unmarshalResponse is a generic function to parse JSON body from response into the provided type.
func unmarshalResponse[T any](resp *resty.Response, out *T) error {
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		var apiErr ErrorResponse
		if jerr := json.Unmarshal(resp.Body(), &apiErr); jerr == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("API error: %s", apiErr.Error.Message)
		}
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// New initializes a new API client with configured services.
func New(globalConfig *config.Config, logger hclog.Logger, auth AuthInfo) (*Client, error) {
	httpClient, err := httpclient.New(logger, globalConfig)
	if err != nil {
		logger.Error("failed to initialize HTTP client", "error", err)
		return nil, err
	}

	if auth.Username != "" || auth.Token != "" {
		httpClient.RestyClient.SetBasicAuth(auth.Username, auth.Token)
	}

	client := &Client{
		HTTPClient: httpClient,
		BaseURL:    strings.TrimSuffix(config.SetThen(globalConfig.Bitbucket.BaseURL, config.DefaultBitbucketBaseURL), "/"),
		Logger:     logger,
		Policy:     retry.NewPolicy(globalConfig, logger),
	}
	client.Repositories = NewRepositoriesService(client, globalConfig.Bitbucket.PageSize)

	return client, nil
}
