package jira

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// issuesService implements the IssuesService interface.
type issuesService struct {
	*service
}

// ProjectJQL builds the issue query of a project, optionally restricted to
// issues updated at or after since. The cutoff is relative to now in whole
// minutes, rounded up, because absolute JQL dates are read in the time zone
// of the querying user.
func ProjectJQL(projectKey string, since, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "project = %q", projectKey)
	if !since.IsZero() {
		minutes := int64(math.Ceil(now.Sub(since).Minutes()))
		if minutes < 1 {
			minutes = 1
		}
		fmt.Fprintf(&b, ` AND updated >= "-%dm"`, minutes)
	}
	b.WriteString(" ORDER BY key ASC")
	return b.String()
}

// Search runs jql and calls fn for every matching issue, page by page. Cloud
// pages with a continuation token, server with offsets.
func (is *issuesService) Search(ctx context.Context, jql string, fn func(Issue) error) error {
	c := is.client
	query := map[string]string{
		"jql":        jql,
		"maxResults": strconv.Itoa(c.PageSize),
		"fields":     "description,attachment,updated",
	}
	if c.IsCloud() {
		return is.searchByToken(ctx, query, fn)
	}
	query["expand"] = "changelog"
	return is.searchByOffset(ctx, query, fn)
}

func (is *issuesService) searchByToken(ctx context.Context, query map[string]string, fn func(Issue) error) error {
	c := is.client
	for token := ""; ; {
		if token != "" {
			query["nextPageToken"] = token
		}
		c.Logger.Debug("fetching page of issues", "jql", query["jql"], "pageToken", token)

		page, err := is.searchPage(ctx, "/search/jql", query)
		if err != nil {
			return err
		}
		for _, issue := range page.Issues {
			if err := fn(issue); err != nil {
				return err
			}
		}
		if page.IsLast || page.NextPageToken == "" || page.NextPageToken == token {
			return nil
		}
		token = page.NextPageToken
	}
}

func (is *issuesService) searchByOffset(ctx context.Context, query map[string]string, fn func(Issue) error) error {
	c := is.client
	for startAt := 0; ; {
		query["startAt"] = strconv.Itoa(startAt)
		c.Logger.Debug("fetching page of issues", "jql", query["jql"], "startAt", startAt)

		page, err := is.searchPage(ctx, "/search", query)
		if err != nil {
			return err
		}
		for _, issue := range page.Issues {
			if err := fn(issue); err != nil {
				return err
			}
		}

		startAt += len(page.Issues)
		if len(page.Issues) == 0 || startAt >= page.Total {
			return nil
		}
	}
}

func (is *issuesService) searchPage(ctx context.Context, path string, query map[string]string) (*SearchResult, error) {
	resp, err := is.client.get(ctx, path, query)
	if err != nil {
		return nil, fmt.Errorf("error searching issues: %w", err)
	}
	var page SearchResult
	if err := unmarshalResponse(resp, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Comments returns every comment of an issue.
func (is *issuesService) Comments(ctx context.Context, issueKey string) ([]Comment, error) {
	c := is.client
	path := fmt.Sprintf("/issue/%s/comment", url.PathEscape(issueKey))

	var result []Comment
	for startAt := 0; ; {
		resp, err := c.get(ctx, path, map[string]string{
			"startAt":    strconv.Itoa(startAt),
			"maxResults": strconv.Itoa(c.PageSize),
		})
		if err != nil {
			return nil, fmt.Errorf("error fetching comments: %w", err)
		}
		var page CommentPage
		if err := unmarshalResponse(resp, &page); err != nil {
			return nil, err
		}
		result = append(result, page.Comments...)

		startAt += len(page.Comments)
		if len(page.Comments) == 0 || startAt >= page.Total {
			return result, nil
		}
	}
}

// Changelog returns the history of an issue from the cloud changelog endpoint.
func (is *issuesService) Changelog(ctx context.Context, issueKey string) ([]History, error) {
	c := is.client
	path := fmt.Sprintf("/issue/%s/changelog", url.PathEscape(issueKey))

	var result []History
	for startAt := 0; ; {
		resp, err := c.get(ctx, path, map[string]string{
			"startAt":    strconv.Itoa(startAt),
			"maxResults": strconv.Itoa(c.PageSize),
		})
		if err != nil {
			return nil, fmt.Errorf("error fetching changelog: %w", err)
		}
		var page ChangelogPage
		if err := unmarshalResponse(resp, &page); err != nil {
			return nil, err
		}
		result = append(result, page.Values...)

		startAt += len(page.Values)
		if page.IsLast || len(page.Values) == 0 || startAt >= page.Total {
			return result, nil
		}
	}
}

// DescriptionChanges returns the previous description bodies recorded in
// histories: one per item changing the "description" field with a non-empty
// old value.
func DescriptionChanges(histories []History) []string {
	var out []string
	for _, h := range histories {
		for _, item := range h.Items {
			if item.Field == "description" && item.FromString != "" {
				out = append(out, item.FromString)
			}
		}
	}
	return out
}
