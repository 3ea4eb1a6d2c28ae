// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the configuration for Horizon tools.
//
// Configuration comes from a single file named by either the
// HZN_CONFIG environment variable (via [Load]) or a --config flag (via
// [LoadFile]). There is no discovery and no fallback search.
//
// Files ending in .json or .jsonc are JSON with comments and trailing
// commas; anything else is YAML.
//
// The file may carry development and production sections that
// override base values when [Config].Environment matches. Without a
// section, development enables strict handle release (a failed release
// panics) and production leaves it off.
//
// After loading, ${HOME}, ${HZN_ROOT} and ${VAR:-default} patterns
// are expanded in path fields.
//
// This package depends on no other Horizon packages.
package config
