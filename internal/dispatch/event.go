// Package dispatch routes verified webhook events to their handlers and
// interprets slash commands posted in issue comments.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v60/github"
)

// ErrMalformedEvent is returned when a payload cannot be parsed or lacks a
// field its handler requires.
var ErrMalformedEvent = errors.New("malformed event payload")

// Event types the dispatcher understands.
const (
	EventIssues       = "issues"
	EventIssueComment = "issue_comment"
	EventPing         = "ping"
)

// Event is the parsed, transient form of one webhook delivery.
type Event struct {
	Type          string
	Action        string
	DeliveryID    string
	Repository    string
	IssueNumber   int
	Title         string
	Body          string
	CommentBody   string
	CommentAuthor string
}

// ParseEvent decodes a webhook body for the given X-GitHub-Event type.
// Issue and comment events must name a repository and an issue number.
// Other event types only need to be valid JSON.
func ParseEvent(eventType string, body []byte) (*Event, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	}

	ev := &Event{Type: eventType}

	switch eventType {
	case EventIssues, EventIssueComment, EventPing:
		parsed, err := github.ParseWebHook(eventType, body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		switch e := parsed.(type) {
		case *github.IssuesEvent:
			ev.Action = e.GetAction()
			ev.Repository = e.GetRepo().GetFullName()
			ev.IssueNumber = e.GetIssue().GetNumber()
			ev.Title = e.GetIssue().GetTitle()
			ev.Body = e.GetIssue().GetBody()
		case *github.IssueCommentEvent:
			ev.Action = e.GetAction()
			ev.Repository = e.GetRepo().GetFullName()
			ev.IssueNumber = e.GetIssue().GetNumber()
			ev.Title = e.GetIssue().GetTitle()
			ev.Body = e.GetIssue().GetBody()
			ev.CommentBody = e.GetComment().GetBody()
			ev.CommentAuthor = e.GetComment().GetUser().GetLogin()
		case *github.PingEvent:
			return ev, nil
		}

		if ev.Repository == "" {
			return nil, fmt.Errorf("%w: repository.full_name is required", ErrMalformedEvent)
		}
		if ev.IssueNumber <= 0 {
			return nil, fmt.Errorf("%w: issue.number is required", ErrMalformedEvent)
		}
		return ev, nil

	default:
		var generic struct {
			Action string `json:"action"`
		}
		if err := json.Unmarshal(body, &generic); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		ev.Action = generic.Action
		return ev, nil
	}
}
