// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for Horizon binaries.
//
// Four variables are injected at build time with -ldflags -X:
//
//	go build -ldflags "-X github.com/horizon-userland/horizon/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// They default to "unknown" and "0.1.0-dev" in development builds and
// tests. When GitCommit was not injected, [Info] falls back to the VCS
// stamp the Go toolchain embeds in the binary.
package version
