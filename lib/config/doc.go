// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the sync engine's configuration.
//
// Configuration comes from one file, named by the GMTSYNC_CONFIG
// environment variable (via [Load]) or a --config flag (via
// [LoadFile]). YAML is the primary format; files ending in .json or
// .jsonc are JSON with comments. Every value the file leaves out keeps
// its [Default]. Durations are Go duration strings ("7s", "1m").
//
// The file may carry development and production sections that
// override base values when [Config].Environment matches. Production
// without a section logs at warn.
//
// ${HOME} and ${VAR:-default} are expanded in journal.path. Secrets do
// not belong here: the access token is supplied separately.
package config
