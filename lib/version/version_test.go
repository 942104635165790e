// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	saved := []string{GitCommit, GitDirty, BuildTime, Version}
	t.Cleanup(func() { GitCommit, GitDirty, BuildTime, Version = saved[0], saved[1], saved[2], saved[3] })

	GitCommit, GitDirty, BuildTime, Version = "abc1234", "true", "2026-01-02T03:04:05Z", "1.2.3"
	if got, want := Info(), "1.2.3 (abc1234-dirty, 2026-01-02T03:04:05Z)"; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}

	GitDirty = "false"
	if got := Info(); strings.Contains(got, "dirty") {
		t.Errorf("Info() = %q, clean build marked dirty", got)
	}
	if full := Full(); !strings.HasPrefix(full, Info()) || !strings.Contains(full, "Go: ") {
		t.Errorf("Full() = %q", full)
	}
}
