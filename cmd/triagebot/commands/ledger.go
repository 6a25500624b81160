package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/similigh/triagebot/internal/core/ledger"
	"github.com/similigh/triagebot/internal/core/tracker"
	"github.com/similigh/triagebot/internal/tui"
)

var (
	backfillRepo          string
	backfillOlderThanDays int
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and seed the issue activity ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		records, err := a.store.List(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(tui.Title(fmt.Sprintf("Tracked issues (%d)", len(records))))
		fmt.Println(tui.RecordTable(records, a.clock.Now()))
		return nil
	},
}

var ledgerBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Start tracking open issues that predate the bot",
	Long: `Lists open issues in a repository whose creation and last update are older
than --older-than-days and records them with their GitHub updated_at as the
last activity. Issues already tracked are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		client, err := a.trackerClient(cmd.Context())
		if err != nil {
			return err
		}
		added, existing, err := backfill(cmd.Context(), client, a.store, backfillRepo, a.clock.Now().AddDate(0, 0, -backfillOlderThanDays))
		if err != nil {
			return err
		}
		fmt.Printf("Backfilled %d issue(s) in %s (%d already tracked).\n", added, backfillRepo, existing)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerListCmd, ledgerBackfillCmd)

	ledgerBackfillCmd.Flags().StringVar(&backfillRepo, "repo", "", "Repository in owner/name format")
	ledgerBackfillCmd.Flags().IntVar(&backfillOlderThanDays, "older-than-days", 0, "Only issues idle for at least this many days")
	_ = ledgerBackfillCmd.MarkFlagRequired("repo")
}

// backfill records open issues idle since before cutoff. It returns how many
// records were created and how many already existed.
func backfill(ctx context.Context, client tracker.Client, store ledger.Store, repo string, cutoff time.Time) (int, int, error) {
	if _, _, err := tracker.SplitRepository(repo); err != nil {
		return 0, 0, err
	}

	issues, err := client.ListOpenIssuesOlderThan(ctx, repo, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list open issues: %w", err)
	}

	var added, existing int
	for _, issue := range issues {
		err := store.Create(ctx, ledger.Record{
			Repository:   repo,
			IssueNumber:  issue.Number,
			LastActivity: issue.UpdatedAt,
			CreatedAt:    issue.CreatedAt,
		})
		switch {
		case errors.Is(err, ledger.ErrDuplicate):
			existing++
		case err != nil:
			return added, existing, fmt.Errorf("failed to track %s#%d: %w", repo, issue.Number, err)
		default:
			added++
		}
	}
	return added, existing, nil
}
