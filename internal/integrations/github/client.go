// Package github implements the tracker client on top of the GitHub REST API.
package github

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v60/github"
	"golang.org/x/time/rate"

	"github.com/similigh/triagebot/internal/core/tracker"
)

// Client wraps the GitHub API client.
type Client struct {
	client  *github.Client
	limiter *rate.Limiter
	retry   RetryConfig
}

var _ tracker.Client = (*Client)(nil)

// call waits for the limiter, then runs fn with retries.
func call[T any](ctx context.Context, c *Client, operation string, fn func() (T, error)) (T, error) {
	return withRetry(ctx, c.retry, operation, func() (T, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
		return fn()
	})
}

// GetIssue fetches issue details.
func (c *Client) GetIssue(ctx context.Context, repo string, number int) (*tracker.Issue, error) {
	owner, name, err := tracker.SplitRepository(repo)
	if err != nil {
		return nil, err
	}

	issue, err := call(ctx, c, "get issue", func() (*github.Issue, error) {
		issue, _, err := c.client.Issues.Get(ctx, owner, name, number)
		return issue, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issue: %w", err)
	}

	return toIssue(repo, issue), nil
}

// CreateComment posts a comment on an issue.
func (c *Client) CreateComment(ctx context.Context, repo string, number int, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("comment body cannot be empty")
	}
	owner, name, err := tracker.SplitRepository(repo)
	if err != nil {
		return err
	}

	comment := &github.IssueComment{
		Body: github.String(body),
	}
	_, err = call(ctx, c, "create comment", func() (*github.IssueComment, error) {
		created, _, err := c.client.Issues.CreateComment(ctx, owner, name, number, comment)
		return created, err
	})
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

// AddLabels adds labels to an issue.
func (c *Client) AddLabels(ctx context.Context, repo string, number int, labels []string) error {
	if len(labels) == 0 {
		return fmt.Errorf("labels cannot be empty")
	}
	owner, name, err := tracker.SplitRepository(repo)
	if err != nil {
		return err
	}

	_, err = call(ctx, c, "add labels", func() ([]*github.Label, error) {
		added, _, err := c.client.Issues.AddLabelsToIssue(ctx, owner, name, number, labels)
		return added, err
	})
	if err != nil {
		return fmt.Errorf("failed to add labels: %w", err)
	}
	return nil
}

// AssignUsers adds assignees to an issue.
func (c *Client) AssignUsers(ctx context.Context, repo string, number int, users []string) error {
	if len(users) == 0 {
		return fmt.Errorf("assignees cannot be empty")
	}
	owner, name, err := tracker.SplitRepository(repo)
	if err != nil {
		return err
	}

	_, err = call(ctx, c, "add assignees", func() (*github.Issue, error) {
		issue, _, err := c.client.Issues.AddAssignees(ctx, owner, name, number, users)
		return issue, err
	})
	if err != nil {
		return fmt.Errorf("failed to assign users: %w", err)
	}
	return nil
}

// CloseIssue sets the issue state to closed.
func (c *Client) CloseIssue(ctx context.Context, repo string, number int) error {
	owner, name, err := tracker.SplitRepository(repo)
	if err != nil {
		return err
	}

	req := &github.IssueRequest{State: github.String(tracker.StateClosed)}
	_, err = call(ctx, c, "close issue", func() (*github.Issue, error) {
		issue, _, err := c.client.Issues.Edit(ctx, owner, name, number, req)
		return issue, err
	})
	if err != nil {
		return fmt.Errorf("failed to close issue: %w", err)
	}
	return nil
}

// ListOpenIssuesOlderThan returns open issues (not pull requests) that were
// created and last updated before cutoff. Pages are walked oldest first and
// the walk stops at the first issue created after cutoff.
func (c *Client) ListOpenIssuesOlderThan(ctx context.Context, repo string, cutoff time.Time) ([]*tracker.Issue, error) {
	owner, name, err := tracker.SplitRepository(repo)
	if err != nil {
		return nil, err
	}

	opts := &github.IssueListByRepoOptions{
		State:     "open",
		Sort:      "created",
		Direction: "asc",
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	type page struct {
		issues []*github.Issue
		next   int
	}

	var out []*tracker.Issue
	for {
		p, err := call(ctx, c, "list issues", func() (page, error) {
			issues, resp, err := c.client.Issues.ListByRepo(ctx, owner, name, opts)
			if err != nil {
				return page{}, err
			}
			next := 0
			if resp != nil {
				next = resp.NextPage
			}
			return page{issues: issues, next: next}, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list issues: %w", err)
		}

		for _, issue := range p.issues {
			if issue.IsPullRequest() {
				continue
			}
			if !issue.GetCreatedAt().Time.Before(cutoff) {
				return out, nil
			}
			if issue.GetUpdatedAt().Time.Before(cutoff) {
				out = append(out, toIssue(repo, issue))
			}
		}

		if p.next == 0 {
			break
		}
		opts.Page = p.next
	}

	return out, nil
}

func toIssue(repo string, issue *github.Issue) *tracker.Issue {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	return &tracker.Issue{
		Repository: repo,
		Number:     issue.GetNumber(),
		Title:      issue.GetTitle(),
		State:      issue.GetState(),
		Labels:     labels,
		CreatedAt:  issue.GetCreatedAt().Time,
		UpdatedAt:  issue.GetUpdatedAt().Time,
	}
}
