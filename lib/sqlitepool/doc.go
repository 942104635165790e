// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases for local diagnostic
// storage, on zombiezen.com/go/sqlite.
//
// Every connection runs in WAL mode with synchronous=NORMAL and a
// five-second busy timeout. Schemas are a list of migration scripts
// tracked by PRAGMA user_version:
//
//	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
//	    Path:       "journal.db",
//	    Logger:     logger,
//	    Migrations: []string{createRecords, addCompressedColumn},
//	})
//
// Callers write SQL directly with sqlitex.Execute and manage
// transactions with sqlitex.Save or sqlitex.ImmediateTransaction.
package sqlitepool
