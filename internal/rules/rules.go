// Package rules holds the label and owner rule tables and matches issue
// text against them.
package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Rule maps a key (a label name or a path prefix) to its values (trigger
// tokens or owner handles).
type Rule struct {
	Key    string
	Values []string
}

// Table is an ordered rule table. It is written to YAML as a mapping and
// keeps the file's key order when read back.
type Table []Rule

// UnmarshalYAML decodes a mapping of key to string list.
func (t *Table) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: rule table must be a mapping", node.Line)
	}

	table := make(Table, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]

		var values []string
		if err := valNode.Decode(&values); err != nil {
			return fmt.Errorf("line %d: rule %q: %w", valNode.Line, keyNode.Value, err)
		}
		table = append(table, Rule{Key: keyNode.Value, Values: values})
	}

	*t = table
	return nil
}

// MarshalYAML encodes the table as an ordered mapping.
func (t Table) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, r := range t {
		var values yaml.Node
		if err := values.Encode(r.Values); err != nil {
			return nil, err
		}
		values.Style = yaml.FlowStyle
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: r.Key},
			&values,
		)
	}
	return node, nil
}

// Rules is one consistent snapshot of both tables.
type Rules struct {
	Labels Table `yaml:"labels"`
	Owners Table `yaml:"owners"`
}

// Defaults returns the built-in tables used when no rule file is available.
func Defaults() Rules {
	return Rules{
		Labels: Table{
			{Key: "bug", Values: []string{"error", "exception", "crash", "fail", "broken", "issue"}},
			{Key: "feature", Values: []string{"feature", "enhancement", "request", "proposal", "improve"}},
			{Key: "documentation", Values: []string{"docs", "documentation", "readme", "guide", "tutorial"}},
			{Key: "question", Values: []string{"question", "help", "how", "why", "what"}},
			{Key: "duplicate", Values: []string{"duplicate", "same", "already", "exists"}},
			{Key: "wontfix", Values: []string{"wontfix", "rejected", "invalid"}},
			{Key: "performance", Values: []string{"slow", "performance", "speed", "optimize", "lag"}},
			{Key: "security", Values: []string{"security", "vulnerability", "exploit", "attack"}},
		},
		Owners: Table{
			{Key: "src/api/", Values: []string{"api-team", "backend-team"}},
			{Key: "src/web/", Values: []string{"frontend-team", "ui-team"}},
			{Key: "src/mobile/", Values: []string{"mobile-team"}},
			{Key: "docs/", Values: []string{"docs-team", "technical-writers"}},
			{Key: "test/", Values: []string{"qa-team", "testing-team"}},
			{Key: "config/", Values: []string{"devops-team", "infrastructure-team"}},
			{Key: "scripts/", Values: []string{"devops-team"}},
			{Key: "database/", Values: []string{"database-team", "backend-team"}},
		},
	}
}
