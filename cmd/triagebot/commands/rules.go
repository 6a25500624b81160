package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/similigh/triagebot/internal/rules"
	"github.com/similigh/triagebot/internal/tui"
)

var (
	rulesForce     bool
	rulesMatchText string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage label and owner rules",
}

var rulesInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the built-in rules to the rule file",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := ruleStore()
		if err != nil {
			return err
		}
		if _, err := os.Stat(store.Path()); err == nil && !rulesForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", store.Path())
		}
		if err := store.Save(rules.Defaults()); err != nil {
			return err
		}
		fmt.Printf("Wrote default rules to %s\n", store.Path())
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, source, err := activeRules()
		if err != nil {
			return err
		}
		fmt.Println(tui.Subtle("source: " + source))
		fmt.Println(tui.RuleTable("labels", r.Labels))
		fmt.Println(tui.RuleTable("owners", r.Owners))
		return nil
	},
}

var rulesMatchCmd = &cobra.Command{
	Use:   "match",
	Short: "Show which labels and owners a text would get",
	RunE: func(cmd *cobra.Command, args []string) error {
		text := rulesMatchText
		if text == "" {
			text = strings.Join(args, " ")
		}
		if strings.TrimSpace(text) == "" {
			return errors.New("--text is required")
		}

		r, _, err := activeRules()
		if err != nil {
			return err
		}
		fmt.Printf("Labels: %s\n", orNone(rules.MatchLabels(r.Labels, text)))
		fmt.Printf("Owners: %s\n", orNone(rules.MatchOwners(r.Owners, text)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesInitCmd, rulesShowCmd, rulesMatchCmd)

	rulesInitCmd.Flags().BoolVar(&rulesForce, "force", false, "Overwrite an existing rule file")
	rulesMatchCmd.Flags().StringVar(&rulesMatchText, "text", "", "Issue title and body to match")
}

func ruleStore() (*rules.FileStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return rules.NewFileStore(cfg.Rules.Path), nil
}

// activeRules returns the rule file contents, or the built-in rules when the
// file is missing, with a description of where they came from.
func activeRules() (rules.Rules, string, error) {
	store, err := ruleStore()
	if err != nil {
		return rules.Rules{}, "", err
	}
	r, err := store.Snapshot()
	if errors.Is(err, os.ErrNotExist) {
		return rules.Defaults(), "built-in (" + store.Path() + " not found)", nil
	}
	if err != nil {
		return rules.Rules{}, "", err
	}
	return r, store.Path(), nil
}

func orNone(values []string) string {
	if len(values) == 0 {
		return "(none)"
	}
	return strings.Join(values, ", ")
}
