package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/normalize"
	"github.com/scan-io-git/sweeper/internal/provider"
	sherrors "github.com/scan-io-git/sweeper/pkg/shared/errors"
	"github.com/scan-io-git/sweeper/pkg/shared/files"
)

// Options configures the tracker provider.
type Options struct {
	ProjectKeysFile string
	MaxContentSize  int64
}

// Provider enumerates Jira projects and yields the descriptions, comments,
// attachments and description history of their issues.
//
// Text bodies are already part of the listing responses, so their SubItem.Ref
// carries the body itself; attachments carry the content URL.
type Provider struct {
	client *Client
	opts   Options
	logger hclog.Logger

	mu    sync.Mutex
	since time.Time
	now   func() time.Time
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider creates the tracker provider from the global configuration.
func NewProvider(cfg *config.Config, logger hclog.Logger) (*Provider, error) {
	j := cfg.Jira
	client, err := New(cfg, logger.Named("api"), AuthInfo{Email: j.Email, Token: j.Token})
	if err != nil {
		return nil, sherrors.NewConfigError("jira", err)
	}
	opts := Options{
		ProjectKeysFile: config.ResolvePath(cfg, config.SetThen(j.ProjectKeysFile, config.DefaultProjectKeysFile)),
		MaxContentSize:  config.SetThen(cfg.Sweeper.MaxContentSize, int64(config.DefaultMaxContentSize)),
	}
	return NewProviderWith(client, opts, logger), nil
}

// NewProviderWith assembles a provider from its parts.
func NewProviderWith(client *Client, opts Options, logger hclog.Logger) *Provider {
	return &Provider{client: client, opts: opts, logger: logger, now: time.Now}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return provider.Jira }

// ListSources lists every project, restricted to the operator keys when given.
// A non-zero filter.Since becomes the issue cutoff of later ListSubItems calls.
func (p *Provider) ListSources(ctx context.Context, filter provider.Filter) ([]provider.Source, error) {
	p.mu.Lock()
	p.since = filter.Since
	p.mu.Unlock()

	keys := filter.Keys
	if len(keys) == 0 && p.opts.ProjectKeysFile != "" {
		lines, err := files.ReadLines(p.opts.ProjectKeysFile)
		switch {
		case err == nil:
			if len(lines) > 0 {
				p.logger.Info("using project keys file", "path", p.opts.ProjectKeysFile, "count", len(lines))
			}
			keys = lines
		case !errors.Is(err, os.ErrNotExist):
			return nil, sherrors.NewConfigError(p.opts.ProjectKeysFile, err)
		}
	}

	projects, err := p.client.Projects.List(ctx)
	if err != nil {
		return nil, sherrors.NewSourceError(p.client.BaseURL, "list", err)
	}

	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[strings.TrimSpace(k)] = false
	}

	var sources []provider.Source
	for _, project := range projects {
		if len(wanted) > 0 {
			if _, ok := wanted[project.Key]; !ok {
				continue
			}
			wanted[project.Key] = true
		}
		sources = append(sources, provider.Source{
			ID:   project.Key,
			Kind: provider.KindTrackerProject,
			URL:  p.client.BrowseURL(project.Key),
		})
	}
	for key, found := range wanted {
		if !found {
			p.logger.Warn("requested project is not visible", "project", key)
		}
	}
	p.logger.Info("projects selected", "total", len(projects), "selected", len(sources))
	return sources, nil
}

func (p *Provider) cutoff() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.since
}

// ListSubItems searches the issues of a project and visits, per issue, its
// description, comments, attachments and previous descriptions. Failures to
// list comments or history are collected as ItemErrors and returned joined
// once the project has been walked.
func (p *Provider) ListSubItems(ctx context.Context, src provider.Source, visit provider.Visitor) error {
	logger := p.logger.With("project", src.ID)
	since := p.cutoff()
	jql := ProjectJQL(src.ID, since, p.now())
	logger.Debug("searching issues", "jql", jql)

	var itemErrs []error
	issues, oversized := 0, 0
	err := p.client.Issues.Search(ctx, jql, func(issue Issue) error {
		issues++
		errs, err := p.visitIssue(ctx, src, issue, visit, &oversized)
		itemErrs = append(itemErrs, errs...)
		return err
	})
	if err != nil {
		return err
	}
	if oversized > 0 {
		logger.Info("skipped attachments above the size limit", "count", oversized, "limit", p.opts.MaxContentSize)
	}
	logger.Debug("project walked", "issues", issues, "itemErrors", len(itemErrs))
	return errors.Join(itemErrs...)
}

// visitIssue emits the sub-items of one issue. Listing failures for comments
// or history are returned as item errors; an error from visit stops the walk.
// Attachments whose declared size is above the limit are counted in oversized
// and never fetched.
func (p *Provider) visitIssue(ctx context.Context, src provider.Source, issue Issue, visit provider.Visitor, oversized *int) ([]error, error) {
	ref := p.client.BrowseURL(issue.Key)
	item := func(kind provider.ItemKind, name, body string) provider.SubItem {
		return provider.SubItem{
			SourceID:  src.ID,
			Kind:      kind,
			Location:  issue.Key,
			Reference: ref,
			Name:      name,
			Ref:       body,
		}
	}

	var itemErrs []error
	if hasBody(issue.Fields.Description) {
		if err := visit(item(provider.ItemDescription, "", string(issue.Fields.Description))); err != nil {
			return itemErrs, err
		}
	} else {
		p.logger.Debug("issue has an empty description", "issue", issue.Key)
	}

	comments, err := p.client.Issues.Comments(ctx, issue.Key)
	if err != nil {
		if ctx.Err() != nil {
			return itemErrs, err
		}
		p.logger.Warn("failed to list comments", "issue", issue.Key, "error", err)
		itemErrs = append(itemErrs, sherrors.NewItemError(src.ID, issue.Key, string(provider.ItemComment), err))
	}
	for _, c := range comments {
		if !hasBody(c.Body) {
			continue
		}
		if err := visit(item(provider.ItemComment, "", string(c.Body))); err != nil {
			return itemErrs, err
		}
	}

	for _, a := range issue.Fields.Attachment {
		if a.Content == "" {
			continue
		}
		if p.opts.MaxContentSize > 0 && a.Size > p.opts.MaxContentSize {
			p.logger.Debug("skipping attachment above the size limit", "issue", issue.Key, "attachment", a.Filename, "size", a.Size)
			*oversized++
			continue
		}
		if err := visit(item(provider.ItemAttachment, a.Filename, a.Content)); err != nil {
			return itemErrs, err
		}
	}

	histories, err := p.histories(ctx, issue)
	if err != nil {
		if ctx.Err() != nil {
			return itemErrs, err
		}
		p.logger.Warn("failed to list history", "issue", issue.Key, "error", err)
		itemErrs = append(itemErrs, sherrors.NewItemError(src.ID, issue.Key, string(provider.ItemHistory), err))
	}
	for _, body := range DescriptionChanges(histories) {
		if err := visit(item(provider.ItemHistory, "", body)); err != nil {
			return itemErrs, err
		}
	}
	return itemErrs, nil
}

// histories uses the changelog expanded by the server search, or the paged
// changelog endpoint on cloud.
func (p *Provider) histories(ctx context.Context, issue Issue) ([]History, error) {
	if !p.client.IsCloud() {
		if issue.Changelog == nil {
			return nil, nil
		}
		return issue.Changelog.Histories, nil
	}
	return p.client.Issues.Changelog(ctx, issue.Key)
}

// Fetch returns the body of a text item or downloads an attachment.
func (p *Provider) Fetch(ctx context.Context, item provider.SubItem) (provider.Content, error) {
	switch item.Kind {
	case provider.ItemDescription, provider.ItemComment:
		return provider.Content{Data: []byte(item.Ref), Format: normalize.Document}, nil
	case provider.ItemHistory:
		return provider.Content{Data: []byte(item.Ref), Format: normalize.Raw}, nil
	case provider.ItemAttachment:
		data, err := p.client.Download(ctx, item.Ref, p.opts.MaxContentSize)
		if errors.Is(err, ErrContentTooLarge) {
			err = fmt.Errorf("attachment %q is larger than the limit of %d bytes: %w", item.Name, p.opts.MaxContentSize, err)
		}
		if err != nil {
			return provider.Content{}, sherrors.NewItemError(item.SourceID, item.Location, string(item.Kind), err)
		}
		return provider.Content{Data: data, Format: normalize.Raw}, nil
	}
	return provider.Content{}, sherrors.NewItemError(item.SourceID, item.Location, string(item.Kind), fmt.Errorf("unsupported item kind"))
}

// hasBody reports whether a description or comment body carries any content.
func hasBody(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null")) && !bytes.Equal(raw, []byte(`""`))
}
