package dispatch

import (
	"context"
	"fmt"
	"strings"
)

// Slash command names.
const (
	CmdClose    = "/close"
	CmdArea     = "/area"
	CmdSize     = "/size"
	CmdPriority = "/priority"
	CmdAssign   = "/assign"
)

var (
	validSizes      = []string{"s", "m", "l", "xl"}
	validPriorities = []string{"low", "medium", "high", "critical"}
)

// Command is a validated slash command.
type Command struct {
	Name string
	Arg  string
}

// ValidationError describes why a comment is not a runnable command.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ParseCommand parses the first line of a comment that starts with "/".
// The command word and enum arguments are case-insensitive; /area labels
// and /assign logins keep their case.
func ParseCommand(comment string) (Command, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(comment), "\n")
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, invalid("Empty command")
	}

	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case CmdClose:
		if len(args) != 0 {
			return Command{}, invalid("Usage: /close")
		}
		return Command{Name: name}, nil

	case CmdArea:
		if len(args) != 1 {
			return Command{}, invalid("Usage: /area <label>")
		}
		return Command{Name: name, Arg: args[0]}, nil

	case CmdSize:
		if len(args) != 1 || !oneOf(strings.ToLower(args[0]), validSizes) {
			return Command{}, invalid("Invalid size. Use s, m, l, or xl")
		}
		return Command{Name: name, Arg: strings.ToLower(args[0])}, nil

	case CmdPriority:
		if len(args) != 1 || !oneOf(strings.ToLower(args[0]), validPriorities) {
			return Command{}, invalid("Invalid priority. Use low, medium, high, or critical")
		}
		return Command{Name: name, Arg: strings.ToLower(args[0])}, nil

	case CmdAssign:
		if len(args) != 1 {
			return Command{}, invalid("Usage: /assign <@user>")
		}
		user := strings.TrimPrefix(args[0], "@")
		if user == "" || strings.Contains(user, "@") {
			return Command{}, invalid("Usage: /assign <@user>")
		}
		return Command{Name: name, Arg: user}, nil

	default:
		return Command{}, invalid("Unknown command: %s", name)
	}
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// runCommand parses and executes a slash command. A successful command
// makes exactly one tracker call; an invalid one makes none.
func (d *Dispatcher) runCommand(ctx context.Context, ev *Event) *Result {
	cmd, err := ParseCommand(ev.CommentBody)
	if err != nil {
		d.logger.Info().Str("repo", ev.Repository).Int("issue", ev.IssueNumber).
			Str("comment_author", ev.CommentAuthor).Msgf("rejected command: %v", err)
		res := errorResult(err.Error())
		res.Issue = ev.IssueNumber
		return res
	}

	res := &Result{Status: StatusSuccess, Issue: ev.IssueNumber}
	switch cmd.Name {
	case CmdClose:
		err = d.tracker.CloseIssue(ctx, ev.Repository, ev.IssueNumber)
		res.Action = "issue_closed"
	case CmdArea:
		err = d.tracker.AddLabels(ctx, ev.Repository, ev.IssueNumber, []string{cmd.Arg})
		res.Action, res.Label = "label_added", cmd.Arg
	case CmdSize:
		err = d.tracker.AddLabels(ctx, ev.Repository, ev.IssueNumber, []string{"size:" + cmd.Arg})
		res.Action, res.Size = "size_label_added", cmd.Arg
	case CmdPriority:
		err = d.tracker.AddLabels(ctx, ev.Repository, ev.IssueNumber, []string{"priority:" + cmd.Arg})
		res.Action, res.Priority = "priority_label_added", cmd.Arg
	case CmdAssign:
		err = d.tracker.AssignUsers(ctx, ev.Repository, ev.IssueNumber, []string{cmd.Arg})
		res.Action, res.Assignee = "user_assigned", cmd.Arg
	}

	logger := d.logger.With().Str("repo", ev.Repository).Int("issue", ev.IssueNumber).
		Str("command", cmd.Name).Str("comment_author", ev.CommentAuthor).Logger()
	if err != nil {
		logger.Error().Err(err).Msg("command failed")
		res.Status = StatusError
		res.Message = err.Error()
		return res
	}
	logger.Info().Str("action", res.Action).Msg("command applied")
	return res
}
