// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// tokenEnvVar names the environment variable holding the access token.
const tokenEnvVar = "GMTSYNC_ACCESS_TOKEN"

// tokenSources are the places an access token may come from, in
// priority order.
type tokenSources struct {
	// File, when set, is read and trimmed.
	File string

	Getenv func(string) string

	// Prompt asks interactively. Nil when stdin is not a terminal.
	Prompt func() (string, error)
}

func resolveToken(sources tokenSources) (string, error) {
	if sources.File != "" {
		data, err := os.ReadFile(sources.File)
		if err != nil {
			return "", fmt.Errorf("reading token file: %w", err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", fmt.Errorf("token file %s is empty", sources.File)
		}
		return token, nil
	}
	if sources.Getenv != nil {
		if token := strings.TrimSpace(sources.Getenv(tokenEnvVar)); token != "" {
			return token, nil
		}
	}
	if sources.Prompt != nil {
		token, err := sources.Prompt()
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		if token = strings.TrimSpace(token); token != "" {
			return token, nil
		}
	}
	return "", errors.New("no access token: set " + tokenEnvVar + ", pass --token-file, or run on a terminal")
}

// terminalPrompt reads a token from the terminal without echo, or
// returns nil when stdin is not a terminal.
func terminalPrompt() func() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return func() (string, error) {
		fmt.Fprint(os.Stderr, "Access token: ")
		token, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(token), err
	}
}
