// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal records every update posted on the bus into a local
// SQLite database, for inspecting what the sync engine saw after the
// fact. It is a diagnostic trail: nothing is restored from it on
// start.
//
// Record runs on the event loop and only encodes: the update is
// snapshotted to CBOR there, since messages it references keep
// changing on the loop afterwards. Writes happen on the goroutine
// running Run. When Run falls behind and the inbox is full, records
// are dropped and counted rather than stalling the loop.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/gmtsync/gmtsync/lib/clock"
	"github.com/gmtsync/gmtsync/lib/codec"
	"github.com/gmtsync/gmtsync/lib/sqlitepool"
	"github.com/gmtsync/gmtsync/lib/update"
)

// DefaultCapacity is the inbox size between Record and Run.
const DefaultCapacity = 1024

// maxBatch bounds how many records one write transaction holds.
const maxBatch = 128

var migrations = []string{
	`CREATE TABLE records (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		recorded_at INTEGER NOT NULL,
		kind        TEXT NOT NULL,
		compressed  INTEGER NOT NULL,
		body        BLOB NOT NULL
	);`,
	`CREATE INDEX records_kind ON records (kind, seq);`,
}

// Observer is notified of journal writes. *metrics.Metrics implements
// it.
type Observer interface {
	JournalRecorded(kind string)
	JournalDropped(kind string)
}

// Config describes a journal. Path is required.
type Config struct {
	Path string

	// Compress stores bodies as zstd frames.
	Compress bool

	Capacity int
	Clock    clock.Clock
	Logger   *slog.Logger
	Observer Observer
}

// Entry is one replayed record.
type Entry struct {
	Sequence   int64
	RecordedAt time.Time
	Kind       string

	// Update is nil when the record no longer decodes. Err says why,
	// and also reports items skipped from an otherwise usable update.
	Update update.Update
	Err    error

	// Raw is the record's CBOR body, decompressed.
	Raw []byte
}

type pendingRecord struct {
	recordedAt time.Time
	kind       string
	compressed bool
	data       []byte
}

// Journal is an open journal database.
type Journal struct {
	config Config
	logger *slog.Logger
	pool   *sqlitepool.Pool
	inbox  chan pendingRecord
}

// Open opens or creates the journal at config.Path.
func Open(ctx context.Context, config Config) (*Journal, error) {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	logger := config.Logger.With("component", "journal")
	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
		Path:       config.Path,
		PoolSize:   2,
		Logger:     logger,
		Migrations: migrations,
	})
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &Journal{
		config: config,
		logger: logger,
		pool:   pool,
		inbox:  make(chan pendingRecord, config.Capacity),
	}, nil
}

// Close closes the database. Run must have returned.
func (j *Journal) Close() error {
	return j.pool.Close()
}

// Attach subscribes the journal to bus.
func (j *Journal) Attach(bus *update.Bus) update.SubscriptionID {
	return bus.Subscribe(j.Record)
}

// Record encodes u and queues it for writing. It never blocks.
func (j *Journal) Record(u update.Update) {
	kind := u.Kind()
	b, err := encodeUpdate(u)
	if err != nil {
		j.dropped(kind, err)
		return
	}
	var data []byte
	if j.config.Compress {
		data, err = codec.MarshalCompressed(b)
	} else {
		data, err = codec.Marshal(b)
	}
	if err != nil {
		j.dropped(kind, fmt.Errorf("journal: encoding %s: %w", kind, err))
		return
	}
	record := pendingRecord{recordedAt: j.config.Clock.Now(), kind: kind, compressed: j.config.Compress, data: data}
	select {
	case j.inbox <- record:
	default:
		j.dropped(kind, errors.New("journal: inbox full"))
	}
}

func (j *Journal) dropped(kind string, err error) {
	if j.config.Observer != nil {
		j.config.Observer.JournalDropped(kind)
	}
	j.logger.Warn("update not journaled", "kind", kind, "error", err)
}

// Run writes queued records until ctx is cancelled, then writes
// whatever is still queued and returns.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case record := <-j.inbox:
			j.write(context.WithoutCancel(ctx), j.batch(record))
		case <-ctx.Done():
			for {
				select {
				case record := <-j.inbox:
					j.write(context.WithoutCancel(ctx), j.batch(record))
				default:
					return nil
				}
			}
		}
	}
}

// batch collects first and whatever else is immediately available.
func (j *Journal) batch(first pendingRecord) []pendingRecord {
	records := []pendingRecord{first}
	for len(records) < maxBatch {
		select {
		case record := <-j.inbox:
			records = append(records, record)
		default:
			return records
		}
	}
	return records
}

func (j *Journal) write(ctx context.Context, records []pendingRecord) {
	err := j.pool.WithConn(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)
		for _, record := range records {
			err := sqlitex.Execute(conn,
				"INSERT INTO records (recorded_at, kind, compressed, body) VALUES (?, ?, ?, ?)",
				&sqlitex.ExecOptions{Args: []any{record.recordedAt.UnixMilli(), record.kind, record.compressed, record.data}})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		for _, record := range records {
			j.dropped(record.kind, fmt.Errorf("journal: writing batch of %d: %w", len(records), err))
		}
		return
	}
	if j.config.Observer != nil {
		for _, record := range records {
			j.config.Observer.JournalRecorded(record.kind)
		}
	}
}

// Replay calls fn for each record in sequence order, starting after
// sequence after. A record that no longer decodes is still passed to
// fn with Entry.Err set. Replay stops at the first error fn returns.
func (j *Journal) Replay(ctx context.Context, after int64, fn func(Entry) error) error {
	return j.pool.WithConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT seq, recorded_at, kind, compressed, body FROM records WHERE seq > ? ORDER BY seq",
			&sqlitex.ExecOptions{
				Args: []any{after},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					if err := ctx.Err(); err != nil {
						return err
					}
					data := make([]byte, stmt.ColumnLen(4))
					stmt.ColumnBytes(4, data)
					return fn(decodeEntry(
						stmt.ColumnInt64(0),
						time.UnixMilli(stmt.ColumnInt64(1)).UTC(),
						stmt.ColumnText(2),
						stmt.ColumnBool(3),
						data,
					))
				},
			})
	})
}

func decodeEntry(sequence int64, recordedAt time.Time, kind string, compressed bool, data []byte) Entry {
	entry := Entry{Sequence: sequence, RecordedAt: recordedAt, Kind: kind}
	if compressed {
		raw, err := codec.Decompress(data)
		if err != nil {
			entry.Err = err
			return entry
		}
		data = raw
	}
	entry.Raw = data
	var b body
	if err := codec.Unmarshal(data, &b); err != nil {
		entry.Err = fmt.Errorf("journal: decoding record %d: %w", sequence, err)
		return entry
	}
	entry.Update, entry.Err = decodeUpdate(kind, b)
	return entry
}
