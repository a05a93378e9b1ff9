// Package main is the entry point for the daily batch pipeline
package main

import (
	"os"

	"github.com/meron14725/note-columns-post-bot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
