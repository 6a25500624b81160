package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Options tunes the client. Zero values select the defaults.
type Options struct {
	// BaseURL overrides the REST endpoint (GitHub Enterprise or tests).
	BaseURL string
	// RequestsPerSecond caps outbound calls. Zero disables limiting.
	RequestsPerSecond float64
	Retry             RetryConfig
}

// NewClient creates a new GitHub client using the provided token.
// If token is empty, it returns an unauthenticated client.
func NewClient(ctx context.Context, token string, opts Options) (*Client, error) {
	var tc *http.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc = oauth2.NewClient(ctx, ts)
	}

	client := github.NewClient(tc)
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("failed to parse GitHub base URL: %w", err)
		}
		client.BaseURL = u
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	retry := opts.Retry
	if retry.BaseDelay == 0 && retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	return &Client{
		client:  client,
		limiter: limiter,
		retry:   retry,
	}, nil
}
