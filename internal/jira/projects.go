package jira

import (
	"context"
	"fmt"
	"strconv"
)

// projectsService implements the ProjectsService interface.
type projectsService struct {
	*service
}

// List retrieves every visible project, deduplicated by key in listing order.
// Cloud pages through /project/search; server returns a plain array from
// /project which is paged until a short page or a page with no new keys.
func (ps *projectsService) List(ctx context.Context) ([]Project, error) {
	c := ps.client
	limit := c.PageSize
	seen := make(map[string]struct{})
	var result []Project

	add := func(projects []Project) int {
		added := 0
		for _, p := range projects {
			if _, ok := seen[p.Key]; ok || p.Key == "" {
				continue
			}
			seen[p.Key] = struct{}{}
			result = append(result, p)
			added++
		}
		return added
	}

	c.Logger.Info("fetching list of projects", "deployment", c.Deployment)
	for startAt := 0; ; startAt += limit {
		query := map[string]string{
			"startAt":    strconv.Itoa(startAt),
			"maxResults": strconv.Itoa(limit),
		}

		if c.IsCloud() {
			resp, err := c.get(ctx, "/project/search", query)
			if err != nil {
				return nil, fmt.Errorf("error fetching projects: %w", err)
			}
			var page ProjectPage
			if err := unmarshalResponse(resp, &page); err != nil {
				return nil, err
			}
			add(page.Values)
			if page.IsLast || len(page.Values) < limit {
				break
			}
			continue
		}

		resp, err := c.get(ctx, "/project", query)
		if err != nil {
			return nil, fmt.Errorf("error fetching projects: %w", err)
		}
		var page []Project
		if err := unmarshalResponse(resp, &page); err != nil {
			return nil, err
		}
		if add(page) == 0 || len(page) < limit {
			break
		}
	}

	c.Logger.Debug("successfully fetched all projects", "totalProjects", len(result))
	return result, nil
}
