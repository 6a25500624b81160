package tui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/similigh/triagebot/internal/core/ledger"
	"github.com/similigh/triagebot/internal/rules"
	"github.com/similigh/triagebot/internal/sweep"
)

func TestRecordTable(t *testing.T) {
	now := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)
	out := RecordTable([]ledger.Record{
		{Repository: "octo/widgets", IssueNumber: 7, LastActivity: now.Add(-20 * 24 * time.Hour), IsStale: true},
		{Repository: "octo/gears", IssueNumber: 12, LastActivity: now.Add(-5 * time.Hour)},
	}, now)

	assert.Contains(t, out, "octo/widgets")
	assert.Contains(t, out, "#7")
	assert.Contains(t, out, "stale")
	assert.Contains(t, out, "20d")
	assert.Contains(t, out, "5h")
}

func TestRecordTableEmpty(t *testing.T) {
	assert.Contains(t, RecordTable(nil, time.Now()), "No tracked issues")
}

func TestRuleTable(t *testing.T) {
	out := RuleTable("labels", rules.Table{{Key: "bug", Values: []string{"crash", "error"}}})
	assert.Contains(t, out, "LABELS")
	assert.Contains(t, out, "crash, error")
}

func TestReportSummary(t *testing.T) {
	out := ReportSummary(&sweep.Report{RunID: "abc", DryRun: true, Staled: 3, Errors: []string{"x"}})
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "Staled:    3")
	assert.Contains(t, out, "Errors:    1")
}
