package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shurcooL/githubv4"
	"github.com/wesm/awesome-sync/internal/models"
	"golang.org/x/oauth2"
)

// rateLimitWarnThreshold is the remaining GraphQL budget below which the rate limit is logged
const rateLimitWarnThreshold = 100

// GraphQLClient represents a client for the GitHub GraphQL API
type GraphQLClient struct {
	client *githubv4.Client
}

// NewGraphQLClient creates a new GraphQL client
func NewGraphQLClient(token string) *GraphQLClient {
	src := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	httpClient := oauth2.NewClient(context.Background(), src)
	client := githubv4.NewClient(httpClient)
	return &GraphQLClient{client: client}
}

// NewGraphQLClientWithURL creates a GraphQL client against an explicit endpoint
func NewGraphQLClientWithURL(httpClient *http.Client, url string) *GraphQLClient {
	return &GraphQLClient{client: githubv4.NewEnterpriseClient(url, httpClient)}
}

// Repository represents a GitHub repository in GraphQL
type Repository struct {
	Name          githubv4.String
	NameWithOwner githubv4.String
	URL           githubv4.String
	IsArchived    githubv4.Boolean
	Owner         struct {
		Login githubv4.String
	}
	DefaultBranchRef *struct {
		Name githubv4.String
	}
}

// GetRepository gets a repository by owner and name, confirming the token can reach it
func (c *GraphQLClient) GetRepository(ctx context.Context, owner, name string) (*models.Repository, error) {
	var query struct {
		RateLimit struct {
			Limit     githubv4.Int
			Remaining githubv4.Int
			ResetAt   githubv4.DateTime
		}
		Repository Repository `graphql:"repository(owner: $owner, name: $name)"`
	}

	variables := map[string]interface{}{
		"owner": githubv4.String(owner),
		"name":  githubv4.String(name),
	}

	if err := c.client.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("failed to query repository: %w", err)
	}

	remaining := int(query.RateLimit.Remaining)
	if remaining < rateLimitWarnThreshold {
		log.Warn().
			Int("remaining", remaining).
			Int("limit", int(query.RateLimit.Limit)).
			Str("reset_at", query.RateLimit.ResetAt.Format(time.RFC3339)).
			Msg("GraphQL rate limit running low")
	}

	repo := &models.Repository{
		URL:      string(query.Repository.URL),
		Owner:    string(query.Repository.Owner.Login),
		Name:     string(query.Repository.Name),
		FullName: string(query.Repository.NameWithOwner),
		Archived: bool(query.Repository.IsArchived),
	}
	if query.Repository.DefaultBranchRef != nil {
		repo.DefaultBranch = string(query.Repository.DefaultBranchRef.Name)
	}
	return repo, nil
}
