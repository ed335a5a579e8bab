package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/google/go-github/v66/github"
)

// GitHubPublisher publishes each site as a public repository in an
// organization, served by GitHub Pages from the default branch.
type GitHubPublisher struct {
	client *github.Client
	org    string
}

// NewGitHubPublisher creates a publisher authenticated with token.
func NewGitHubPublisher(token, org string) *GitHubPublisher {
	return &GitHubPublisher{
		client: github.NewClient(nil).WithAuthToken(token),
		org:    org,
	}
}

// NewGitHubPublisherWithClient creates a publisher around an existing client.
func NewGitHubPublisherWithClient(client *github.Client, org string) *GitHubPublisher {
	return &GitHubPublisher{client: client, org: org}
}

// Publish creates the repository (reusing it if it already exists), commits
// every file and enables Pages.
func (p *GitHubPublisher) Publish(ctx context.Context, name string, files map[string][]byte) (Artifact, error) {
	repo, err := p.createOrGetRepo(ctx, name)
	if err != nil {
		return Artifact{}, err
	}

	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = "main"
	}

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := p.putFile(ctx, repo.GetName(), branch, path, files[path]); err != nil {
			return Artifact{}, err
		}
	}

	pages := &github.Pages{Source: &github.PagesSource{Branch: github.String(branch), Path: github.String("/")}}
	if _, _, err := p.client.Repositories.EnablePages(ctx, p.org, repo.GetName(), pages); err != nil {
		if !hasStatus(err, http.StatusConflict) {
			return Artifact{}, fmt.Errorf("enabling pages: %w", err)
		}
		slog.Debug("publisher: pages already enabled", "repo", repo.GetName())
	}

	return Artifact{
		ID:  repo.GetName(),
		URL: fmt.Sprintf("https://%s.github.io/%s", p.org, repo.GetName()),
	}, nil
}

// Archive marks the repository archived.
func (p *GitHubPublisher) Archive(ctx context.Context, id string) error {
	return p.setArchived(ctx, id, true)
}

// Unarchive clears the archived flag.
func (p *GitHubPublisher) Unarchive(ctx context.Context, id string) error {
	return p.setArchived(ctx, id, false)
}

// Teardown deletes the repository. A repository that is already gone counts as torn down.
func (p *GitHubPublisher) Teardown(ctx context.Context, id string) error {
	if _, err := p.client.Repositories.Delete(ctx, p.org, id); err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return nil
		}
		return fmt.Errorf("deleting repository %s: %w", id, err)
	}
	return nil
}

func (p *GitHubPublisher) createOrGetRepo(ctx context.Context, name string) (*github.Repository, error) {
	repo, _, err := p.client.Repositories.Create(ctx, p.org, &github.Repository{
		Name:        github.String(name),
		Private:     github.Bool(false),
		AutoInit:    github.Bool(true),
		Description: github.String("Published with pagelease"),
	})
	if err == nil {
		return repo, nil
	}
	if !hasStatus(err, http.StatusUnprocessableEntity) {
		return nil, fmt.Errorf("creating repository %s: %w", name, err)
	}

	repo, _, err = p.client.Repositories.Get(ctx, p.org, name)
	if err != nil {
		return nil, fmt.Errorf("fetching existing repository %s: %w", name, err)
	}
	return repo, nil
}

// putFile creates path on branch, or updates it when the repository already
// holds a file there (the auto-initialised README, or an earlier publish).
func (p *GitHubPublisher) putFile(ctx context.Context, repo, branch, path string, content []byte) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String("publish " + path),
		Content: content,
		Branch:  github.String(branch),
	}

	existing, _, _, err := p.client.Repositories.GetContents(ctx, p.org, repo, path,
		&github.RepositoryContentGetOptions{Ref: branch})
	switch {
	case err == nil && existing != nil:
		opts.SHA = existing.SHA
		if _, _, err := p.client.Repositories.UpdateFile(ctx, p.org, repo, path, opts); err != nil {
			return fmt.Errorf("updating %s: %w", path, err)
		}
		return nil
	case err != nil && !hasStatus(err, http.StatusNotFound):
		return fmt.Errorf("looking up %s: %w", path, err)
	}

	if _, _, err := p.client.Repositories.CreateFile(ctx, p.org, repo, path, opts); err != nil {
		return fmt.Errorf("uploading %s: %w", path, err)
	}
	return nil
}

func (p *GitHubPublisher) setArchived(ctx context.Context, id string, archived bool) error {
	_, _, err := p.client.Repositories.Edit(ctx, p.org, id, &github.Repository{Archived: github.Bool(archived)})
	if err != nil {
		return fmt.Errorf("updating repository %s archived=%t: %w", id, archived, err)
	}
	return nil
}

func hasStatus(err error, code int) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == code
}
