package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"github.com/wesm/awesome-sync/internal/models"
	"golang.org/x/oauth2"
)

// DefaultReadmePath is the file fetched and committed when no path is given
const DefaultReadmePath = "README.md"

const (
	contentCacheSize = 64
	contentCacheTTL  = 5 * time.Minute
)

// ErrFileNotFound is returned when the requested file does not exist on the branch
var ErrFileNotFound = errors.New("file not found in repository")

// RateLimitError reports that GitHub refused a request until ResetTime
type RateLimitError struct {
	ResetTime time.Time
	Err       error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github rate limit exceeded, resets at %s: %v", e.ResetTime.Format(time.RFC3339), e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// GitHubClient represents a client for the GitHub API
type GitHubClient struct {
	client  *github.Client
	graphql *GraphQLClient
	// README content by owner/name@branch:path
	cache *expirable.LRU[string, string]
}

// NewGitHubClient creates a new GitHub API client. With a token, requests
// are authenticated and repository lookups go through the GraphQL API.
func NewGitHubClient(token string) *GitHubClient {
	var tc *http.Client
	var gql *GraphQLClient

	if token != "" {
		// Create an authenticated client if a token is provided
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc = oauth2.NewClient(context.Background(), ts)
		gql = NewGraphQLClient(token)
	}

	return newClient(github.NewClient(tc), gql)
}

// NewGitHubClientWithURLs creates a client against explicit REST and GraphQL
// endpoints, for GitHub Enterprise or test servers. An empty graphqlURL
// disables GraphQL.
func NewGitHubClientWithURLs(httpClient *http.Client, baseURL, graphqlURL string) (*GitHubClient, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}

	client := github.NewClient(httpClient)
	client.BaseURL = u

	var gql *GraphQLClient
	if graphqlURL != "" {
		gql = NewGraphQLClientWithURL(httpClient, graphqlURL)
	}
	return newClient(client, gql), nil
}

func newClient(client *github.Client, gql *GraphQLClient) *GitHubClient {
	return &GitHubClient{
		client:  client,
		graphql: gql,
		cache:   expirable.NewLRU[string, string](contentCacheSize, nil, contentCacheTTL),
	}
}

// GetRepository gets a repository by owner and name
func (c *GitHubClient) GetRepository(ctx context.Context, owner, name string) (*models.Repository, error) {
	if c.graphql != nil {
		return c.graphql.GetRepository(ctx, owner, name)
	}

	repo, _, err := c.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", wrapError(err))
	}

	return &models.Repository{
		URL:           repo.GetHTMLURL(),
		Owner:         repo.GetOwner().GetLogin(),
		Name:          repo.GetName(),
		FullName:      repo.GetFullName(),
		DefaultBranch: repo.GetDefaultBranch(),
		Archived:      repo.GetArchived(),
	}, nil
}

type freshContentKey struct{}

// WithFreshContent returns a context under which file fetches skip the
// content cache. The fetched content still replaces the cached copy.
func WithFreshContent(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshContentKey{}, true)
}

// FreshContentRequested reports whether ctx came from WithFreshContent
func FreshContentRequested(ctx context.Context) bool {
	fresh, _ := ctx.Value(freshContentKey{}).(bool)
	return fresh
}

func cacheKey(owner, name, branch, path string) string {
	return fmt.Sprintf("%s/%s@%s:%s", owner, name, branch, path)
}

// FetchRawMarkdown gets the content of a file on a branch. Results are
// cached for a few minutes unless ctx asks for fresh content; committing
// through this client invalidates them.
func (c *GitHubClient) FetchRawMarkdown(ctx context.Context, owner, name, branch, path string) (string, error) {
	if path == "" {
		path = DefaultReadmePath
	}
	key := cacheKey(owner, name, branch, path)
	if FreshContentRequested(ctx) {
		c.cache.Remove(key)
	} else if content, ok := c.cache.Get(key); ok {
		log.Debug().Str("file", key).Msg("using cached file content")
		return content, nil
	}

	opts := &github.RepositoryContentGetOptions{Ref: branch}
	file, _, _, err := c.client.Repositories.GetContents(ctx, owner, name, path, opts)
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%s in %s/%s: %w", path, owner, name, ErrFileNotFound)
		}
		return "", fmt.Errorf("failed to get %s: %w", path, wrapError(err))
	}
	if file == nil {
		return "", fmt.Errorf("%s in %s/%s is a directory: %w", path, owner, name, ErrFileNotFound)
	}

	var content string
	// Files over 1MB come back without inline content
	if file.GetEncoding() == "none" {
		rc, _, err := c.client.Repositories.DownloadContents(ctx, owner, name, path, opts)
		if err != nil {
			return "", fmt.Errorf("failed to download %s: %w", path, wrapError(err))
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		content = string(data)
	} else {
		content, err = file.GetContent()
		if err != nil {
			return "", fmt.Errorf("failed to decode %s: %w", path, err)
		}
	}

	c.cache.Add(key, content)
	return content, nil
}

// CommitFile creates or replaces a file on a branch with a single commit
func (c *GitHubClient) CommitFile(ctx context.Context, owner, name, branch, path, content, message string) (*models.CommitResult, error) {
	if path == "" {
		path = DefaultReadmePath
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
	}
	if branch != "" {
		opts.Branch = github.String(branch)
	}

	existing, _, _, err := c.client.Repositories.GetContents(ctx, owner, name, path, &github.RepositoryContentGetOptions{Ref: branch})
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("failed to get %s: %w", path, wrapError(err))
	}

	var res *github.RepositoryContentResponse
	if existing != nil {
		opts.SHA = github.String(existing.GetSHA())
		res, _, err = c.client.Repositories.UpdateFile(ctx, owner, name, path, opts)
	} else {
		res, _, err = c.client.Repositories.CreateFile(ctx, owner, name, path, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to commit %s: %w", path, wrapError(err))
	}

	c.cache.Remove(cacheKey(owner, name, branch, path))

	log.Info().Str("repository", owner+"/"+name).Str("path", path).Str("sha", res.Commit.GetSHA()).Msg("committed file")
	return &models.CommitResult{
		SHA: res.Commit.GetSHA(),
		URL: res.Commit.GetHTMLURL(),
	}, nil
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

// wrapError converts GitHub rate limit errors into *RateLimitError
func wrapError(err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &RateLimitError{ResetTime: rateErr.Rate.Reset.Time, Err: err}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		reset := time.Now()
		if abuseErr.RetryAfter != nil {
			reset = reset.Add(*abuseErr.RetryAfter)
		}
		return &RateLimitError{ResetTime: reset, Err: err}
	}
	return err
}
