// Package main is the entry point for the triagebot CLI.
package main

import "github.com/similigh/triagebot/cmd/triagebot/commands"

func main() {
	commands.Execute()
}
