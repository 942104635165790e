// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/gmtsync/gmtsync/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return fmt.Errorf("a command is required")
	}
	switch args[0] {
	case "--version", "version":
		version.Print("gmtsync")
		return nil
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	case "run":
		return runSync(args[1:])
	case "replay":
		return runReplay(args[1:])
	}
	printUsage(os.Stderr)
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `gmtsync keeps a local conversation model in sync with the chat service.

Usage:
  gmtsync run [flags]       sync until interrupted
  gmtsync replay [flags]    print a recorded update journal
  gmtsync --version

Run "gmtsync <command> --help" for the command's flags.
`)
}

// newLogger writes text to a terminal and JSON otherwise.
func newLogger(output *os.File, level slog.Level) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(output.Fd())) {
		return slog.New(slog.NewTextHandler(output, options))
	}
	return slog.New(slog.NewJSONHandler(output, options))
}
