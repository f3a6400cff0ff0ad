package bitbucket

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/scan-io-git/sweeper/internal/config"
)

// repositoriesService implements the RepositoriesService interface.
type repositoriesService struct {
	*service
	limit int
}

// NewRepositoriesService initializes a new repositories service with a given page size.
func NewRepositoriesService(client *Client, limit int) RepositoriesService {
	if limit <= 0 {
		limit = config.DefaultBitbucketPageSize
	}
	return &repositoriesService{
		service: &service{client},
		limit:   limit,
	}
}

// List retrieves all repositories of a workspace, following the "next" links.
func (rs *repositoriesService) List(ctx context.Context, workspace string) ([]Repository, error) {
	var result []Repository
	path := fmt.Sprintf("/repositories/%s", url.PathEscape(workspace))
	query := map[string]string{"pagelen": strconv.Itoa(rs.limit)}
	rs.client.Logger.Info("fetching list of repositories", "workspace", workspace)

	for page := 1; path != ""; page++ {
		rs.client.Logger.Debug("fetching page of repositories", "page", page, "pagelen", rs.limit)

		response, err := rs.client.get(ctx, path, query)
		if err != nil {
			return nil, fmt.Errorf("error fetching repositories: %w", err)
		}

		var resp Page[Repository]
		if err := unmarshalResponse(response, &resp); err != nil {
			return nil, err
		}
		result = append(result, resp.Values...)

		// The next link already carries the query.
		path, query = resp.Next, nil
	}

	rs.client.Logger.Debug("successfully fetched all repositories",
		"workspace", workspace,
		"totalRepositories", len(result),
	)
	return result, nil
}
