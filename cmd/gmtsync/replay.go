// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/gmtsync/gmtsync/lib/codec"
	"github.com/gmtsync/gmtsync/lib/journal"
)

type replayFlags struct {
	journalPath string
	after       int64
	asJSON      bool
}

func runReplay(args []string) error {
	var flags replayFlags
	flagSet := pflag.NewFlagSet("gmtsync replay", pflag.ContinueOnError)
	flagSet.StringVar(&flags.journalPath, "journal", "", "journal file written by gmtsync run (required)")
	flagSet.Int64Var(&flags.after, "after", 0, "skip records up to and including this sequence number")
	flagSet.BoolVar(&flags.asJSON, "json", false, "print one JSON object per record")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.journalPath == "" {
		return fmt.Errorf("--journal is required")
	}
	// Opening creates missing files; a typo should not leave an empty
	// journal behind.
	if _, err := os.Stat(flags.journalPath); err != nil {
		return fmt.Errorf("journal: %w", err)
	}

	ctx := context.Background()
	recorded, err := journal.Open(ctx, journal.Config{Path: flags.journalPath})
	if err != nil {
		return err
	}
	defer recorded.Close()
	return replay(ctx, recorded, flags.after, flags.asJSON, os.Stdout)
}

// replayRecord is the JSON form of one entry.
type replayRecord struct {
	Sequence   int64     `json:"sequence"`
	RecordedAt time.Time `json:"recorded_at"`
	Kind       string    `json:"kind"`
	Body       string    `json:"body"`
	Error      string    `json:"error,omitempty"`
}

func replay(ctx context.Context, recorded *journal.Journal, after int64, asJSON bool, output io.Writer) error {
	encoder := json.NewEncoder(output)
	return recorded.Replay(ctx, after, func(entry journal.Entry) error {
		record := replayRecord{
			Sequence:   entry.Sequence,
			RecordedAt: entry.RecordedAt.UTC(),
			Kind:       entry.Kind,
		}
		if diagnostic, err := codec.Diagnose(entry.Raw); err == nil {
			record.Body = diagnostic
		} else {
			record.Body = fmt.Sprintf("<%d undecodable bytes>", len(entry.Raw))
		}
		if entry.Err != nil {
			record.Error = entry.Err.Error()
		}

		if asJSON {
			return encoder.Encode(record)
		}
		line := fmt.Sprintf("%6d  %s  %-20s %s", record.Sequence, record.RecordedAt.Format(time.RFC3339Nano), record.Kind, record.Body)
		if record.Error != "" {
			line += "  error: " + record.Error
		}
		_, err := fmt.Fprintln(output, line)
		return err
	})
}
