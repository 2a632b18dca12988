// Package verify cross-checks an extracted release against the GitHub REST API.
package verify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"

	"github.com/xkilldash9x/releasescout/api/schemas"
	"github.com/xkilldash9x/releasescout/internal/config"
)

// ErrNoRelease is returned when the repository has no published release.
var ErrNoRelease = errors.New("repository has no published release")

// Verifier looks up the latest release through the API.
type Verifier struct {
	client *github.Client
	logger *zap.Logger
}

// NewVerifier builds a verifier. An empty token uses unauthenticated requests,
// a non-empty BaseURL points the client at another API root.
func NewVerifier(cfg config.VerifyConfig, logger *zap.Logger) (*Verifier, error) {
	client := github.NewClient(&http.Client{Timeout: cfg.Timeout})
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid verify base url: %w", err)
		}
		client.BaseURL = base
	}
	return &Verifier{client: client, logger: logger.Named("verify")}, nil
}

// Verify compares info against the latest release of repo ("owner/name").
func (v *Verifier) Verify(ctx context.Context, repo string, info schemas.ReleaseInfo) (*schemas.ReleaseVerification, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("invalid repository %q", repo)
	}

	release, _, err := v.client.Repositories.GetLatestRelease(ctx, owner, name)
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNoRelease, repo)
		}
		return nil, fmt.Errorf("failed to fetch latest release of %s: %w", repo, err)
	}

	result := &schemas.ReleaseVerification{
		APITag:    release.GetTagName(),
		APIName:   release.GetName(),
		APIAuthor: release.GetAuthor().GetLogin(),
	}
	result.TagMatches = tagMatches(result.APITag, info.Tag) || tagMatches(result.APITag, info.Version)
	result.AuthorMatches = info.Author != nil && sameLogin(result.APIAuthor, *info.Author)

	v.logger.Info("Release verified against the API.",
		zap.String("repository", repo),
		zap.String("api_tag", result.APITag),
		zap.Bool("tag_matches", result.TagMatches),
		zap.Bool("author_matches", result.AuthorMatches),
	)
	return result, nil
}

// tagMatches compares tags ignoring case and a leading "v".
func tagMatches(apiTag string, extracted *string) bool {
	if extracted == nil || apiTag == "" {
		return false
	}
	norm := func(s string) string {
		return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "v")
	}
	return norm(apiTag) == norm(*extracted)
}

func sameLogin(apiLogin, extracted string) bool {
	extracted = strings.TrimPrefix(strings.TrimSpace(extracted), "@")
	return apiLogin != "" && strings.EqualFold(apiLogin, extracted)
}
