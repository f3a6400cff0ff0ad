package bitbucket

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/git"
	"github.com/scan-io-git/sweeper/internal/normalize"
	"github.com/scan-io-git/sweeper/internal/provider"
	sherrors "github.com/scan-io-git/sweeper/pkg/shared/errors"
	"github.com/scan-io-git/sweeper/pkg/shared/files"
)

// Cloner fetches a repository into a local folder.
type Cloner interface {
	Clone(ctx context.Context, cloneURL, targetFolder string) (*gogit.Repository, error)
}

// Options configures the repository provider.
type Options struct {
	Workspace        string
	CloneHost        string
	AuthType         string
	TempFolder       string
	RepositoriesFile string
	ModifiedSince    time.Time
	MaxContentSize   int64
}

// Provider enumerates repositories of a Bitbucket Cloud workspace, clones each
// one and yields every distinct file across its branches.
type Provider struct {
	client *Client
	cloner Cloner
	opts   Options
	logger hclog.Logger

	mu     sync.Mutex
	clones map[string]*gogit.Repository
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider creates the repository provider from the global configuration.
func NewProvider(cfg *config.Config, logger hclog.Logger) (*Provider, error) {
	bb := cfg.Bitbucket
	client, err := New(cfg, logger.Named("api"), AuthInfo{Username: bb.Username, Token: bb.Token})
	if err != nil {
		return nil, err
	}
	cloner, err := git.New(logger.Named("git"), cfg, git.Credentials{
		AuthType:       bb.AuthType,
		Username:       bb.Username,
		Token:          bb.Token,
		SSHKey:         bb.SSHKey,
		SSHKeyPassword: bb.SSHKeyPassword,
	})
	if err != nil {
		return nil, err
	}

	opts := Options{
		Workspace:        bb.Workspace,
		CloneHost:        config.SetThen(bb.CloneHost, config.DefaultBitbucketCloneHost),
		AuthType:         bb.AuthType,
		TempFolder:       config.GetTempFolder(cfg),
		RepositoriesFile: config.ResolvePath(cfg, config.SetThen(bb.RepositoriesFile, config.DefaultRepositoriesFile)),
		MaxContentSize:   config.SetThen(cfg.Sweeper.MaxContentSize, int64(config.DefaultMaxContentSize)),
	}
	if bb.ModifiedSince != "" {
		if opts.ModifiedSince, err = config.ParseDate(bb.ModifiedSince); err != nil {
			return nil, sherrors.NewConfigError("bitbucket.modified_since", err)
		}
	}
	return NewProviderWith(client, cloner, opts, logger), nil
}

// NewProviderWith assembles a provider from its parts.
func NewProviderWith(client *Client, cloner Cloner, opts Options, logger hclog.Logger) *Provider {
	if opts.CloneHost == "" {
		opts.CloneHost = config.DefaultBitbucketCloneHost
	}
	return &Provider{
		client: client,
		cloner: cloner,
		opts:   opts,
		logger: logger,
		clones: make(map[string]*gogit.Repository),
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return provider.Bitbucket }

// ListSources returns the explicitly requested repositories, or every
// repository of the workspace updated since the cutoff.
func (p *Provider) ListSources(ctx context.Context, filter provider.Filter) ([]provider.Source, error) {
	keys := filter.Keys
	if len(keys) == 0 && p.opts.RepositoriesFile != "" {
		lines, err := files.ReadLines(p.opts.RepositoriesFile)
		switch {
		case err == nil:
			if len(lines) > 0 {
				p.logger.Info("using repositories file", "path", p.opts.RepositoriesFile, "count", len(lines))
			}
			keys = lines
		case !errors.Is(err, os.ErrNotExist):
			return nil, sherrors.NewConfigError(p.opts.RepositoriesFile, err)
		}
	}

	if len(keys) > 0 {
		return p.explicitSources(keys, filter.Branch)
	}

	if p.opts.Workspace == "" {
		return nil, sherrors.NewConfigError("bitbucket.workspace", fmt.Errorf("workspace is required to list repositories"))
	}
	repos, err := p.client.Repositories.List(ctx, p.opts.Workspace)
	if err != nil {
		return nil, sherrors.NewSourceError(p.opts.Workspace, "list", err)
	}

	since := filter.Since
	if since.IsZero() {
		since = p.opts.ModifiedSince
	}

	var sources []provider.Source
	for _, repo := range repos {
		if !since.IsZero() && repo.UpdatedOn.Before(since) {
			p.logger.Debug("skipping repository not modified since cutoff", "repository", repo.Slug, "updatedOn", repo.UpdatedOn, "since", since)
			continue
		}
		url := repo.Links.HTML.Href
		if url == "" {
			url = p.htmlURL(p.opts.Workspace, repo.Slug)
		}
		sources = append(sources, provider.Source{
			ID:     repo.Slug,
			Kind:   provider.KindRepository,
			Branch: filter.Branch,
			URL:    url,
		})
	}
	p.logger.Info("repositories selected", "workspace", p.opts.Workspace, "total", len(repos), "selected", len(sources))
	return sources, nil
}

func (p *Provider) explicitSources(keys []string, branch string) ([]provider.Source, error) {
	var sources []provider.Source
	for _, key := range keys {
		ws, slug, err := parseRepositoryKey(key, p.opts.Workspace)
		if err != nil {
			return nil, sherrors.NewConfigError("repositories", err)
		}
		sources = append(sources, provider.Source{
			ID:     sourceID(ws, slug, p.opts.Workspace),
			Kind:   provider.KindRepository,
			Branch: branch,
			URL:    p.htmlURL(ws, slug),
		})
	}
	return sources, nil
}

func (p *Provider) htmlURL(workspace, slug string) string {
	return fmt.Sprintf("https://%s/%s/%s", p.opts.CloneHost, workspace, slug)
}

// cloneURL builds the clone address for the configured auth type.
func (p *Provider) cloneURL(workspace, slug string) string {
	switch p.opts.AuthType {
	case config.AuthTypeSSHKey, config.AuthTypeSSHAgent:
		return fmt.Sprintf("git@%s:%s/%s.git", p.opts.CloneHost, workspace, slug)
	}
	return fmt.Sprintf("https://%s/%s/%s.git", p.opts.CloneHost, workspace, slug)
}

// ListSubItems clones the repository into a fresh temporary folder and visits
// one file item per distinct (path, blob) pair across its branches. The folder
// is removed before returning.
func (p *Provider) ListSubItems(ctx context.Context, src provider.Source, visit provider.Visitor) error {
	ws, slug, err := parseRepositoryKey(src.ID, p.opts.Workspace)
	if err != nil {
		return err
	}
	logger := p.logger.With("repository", src.ID)

	if err := files.CreateFolderIfNotExists(p.opts.TempFolder); err != nil {
		return err
	}
	dir, err := os.MkdirTemp(p.opts.TempFolder, "sweeper-"+strings.ReplaceAll(src.ID, "/", "_")+"-")
	if err != nil {
		return fmt.Errorf("failed to create temporary folder: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove temporary clone", "path", dir, "error", err)
		}
	}()

	repo, err := p.cloner.Clone(ctx, p.cloneURL(ws, slug), dir)
	if git.IsEmptyRepository(err) {
		logger.Info("repository is empty, nothing to scan")
		return nil
	}
	if err != nil {
		return err
	}

	cloneID := filepath.Base(dir)
	p.mu.Lock()
	p.clones[cloneID] = repo
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.clones, cloneID)
		p.mu.Unlock()
	}()

	branches, err := git.Branches(repo, src.Branch)
	if git.IsEmptyRepository(err) {
		logger.Info("repository has no branches, nothing to scan")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Debug("walking branches", "count", len(branches))

	seen := make(map[string]struct{})
	for _, branch := range branches {
		err := git.WalkFiles(repo, branch, func(f git.File) error {
			key := f.Path + "\x00" + f.Blob.String()
			if _, ok := seen[key]; ok {
				return nil
			}
			seen[key] = struct{}{}
			return visit(provider.SubItem{
				SourceID:  src.ID,
				Kind:      provider.ItemFile,
				Location:  f.Path,
				Reference: fmt.Sprintf("https://%s/%s/%s/src/%s/%s", p.opts.CloneHost, ws, slug, branch.Name, f.Path),
				Name:      f.Path,
				Ref:       cloneID + "/" + f.Blob.String(),
			})
		})
		if err != nil {
			return err
		}
	}
	logger.Debug("repository walked", "files", len(seen))
	return nil
}

// Fetch reads a file blob from the clone that is being walked.
func (p *Provider) Fetch(_ context.Context, item provider.SubItem) (provider.Content, error) {
	cloneID, blob, ok := strings.Cut(item.Ref, "/")
	if !ok || !plumbing.IsHash(blob) {
		return provider.Content{}, sherrors.NewItemError(item.SourceID, item.Location, string(item.Kind), fmt.Errorf("invalid blob reference %q", item.Ref))
	}

	p.mu.Lock()
	repo := p.clones[cloneID]
	p.mu.Unlock()
	if repo == nil {
		return provider.Content{}, sherrors.NewItemError(item.SourceID, item.Location, string(item.Kind), fmt.Errorf("clone %q is no longer available", cloneID))
	}

	data, err := git.ReadBlob(repo, plumbing.NewHash(blob), p.opts.MaxContentSize)
	if err != nil {
		return provider.Content{}, sherrors.NewItemError(item.SourceID, item.Location, string(item.Kind), err)
	}
	return provider.Content{Data: data, Format: normalize.Raw}, nil
}
