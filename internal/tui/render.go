// Package tui renders CLI output with lipgloss.
package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/similigh/triagebot/internal/core/ledger"
	"github.com/similigh/triagebot/internal/rules"
	"github.com/similigh/triagebot/internal/sweep"
)

// Brand color
var (
	primaryColor = lipgloss.Color("#ff7300")
	subtleColor  = lipgloss.Color("#626262")
	successColor = lipgloss.Color("#04B575")
	errorColor   = lipgloss.Color("#FF0000")

	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	staleStyle = cellStyle.
			Foreground(errorColor)

	activeStyle = cellStyle.
			Foreground(successColor)

	subtleStyle = lipgloss.NewStyle().
			Foreground(subtleColor)
)

// Title renders a heading.
func Title(s string) string {
	return titleStyle.Render(s)
}

// Subtle renders secondary text.
func Subtle(s string) string {
	return subtleStyle.Render(s)
}

// RecordTable renders tracked records with their idle time relative to now.
func RecordTable(records []ledger.Record, now time.Time) string {
	if len(records) == 0 {
		return Subtle("No tracked issues.")
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		state := "active"
		if r.IsStale {
			state = "stale"
		}
		rows = append(rows, []string{
			r.Repository,
			"#" + strconv.Itoa(r.IssueNumber),
			state,
			r.LastActivity.Format(time.RFC3339),
			formatIdle(now.Sub(r.LastActivity)),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(subtleStyle).
		Headers("REPOSITORY", "ISSUE", "STATE", "LAST ACTIVITY", "IDLE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 {
				if rows[row][2] == "stale" {
					return staleStyle
				}
				return activeStyle
			}
			return cellStyle
		})
	return t.String()
}

// RuleTable renders one rule table as key / values rows.
func RuleTable(name string, tbl rules.Table) string {
	rows := make([][]string, 0, len(tbl))
	for _, r := range tbl {
		rows = append(rows, []string{r.Key, strings.Join(r.Values, ", ")})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(subtleStyle).
		Headers(strings.ToUpper(name), "VALUES").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

// ReportSummary renders the counters of a sweep report.
func ReportSummary(r *sweep.Report) string {
	var b strings.Builder
	title := "Stale Sweep Summary"
	if r.DryRun {
		title += " (dry run)"
	}
	b.WriteString(Title(title) + "\n")
	fmt.Fprintf(&b, "Staled:    %d\n", r.Staled)
	fmt.Fprintf(&b, "Closed:    %d\n", r.Closed)
	fmt.Fprintf(&b, "Released:  %d\n", r.Released)
	fmt.Fprintf(&b, "Untracked: %d\n", r.Untracked)
	fmt.Fprintf(&b, "Skipped:   %d\n", r.Skipped)
	if len(r.Errors) > 0 {
		b.WriteString(lipgloss.NewStyle().Foreground(errorColor).Render(fmt.Sprintf("Errors:    %d", len(r.Errors))) + "\n")
	}
	b.WriteString(Subtle(fmt.Sprintf("run %s, took %s", r.RunID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))))
	return b.String()
}

func formatIdle(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	if days > 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dh", int(d/time.Hour))
}
