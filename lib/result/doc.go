// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package result implements the platform's packed 32-bit result codes.
//
// A result code packs a module id into bits 0-8 and a description into
// bits 9-21. Zero is success. Every service reply and every kernel call
// reports its outcome this way, and this library reuses the same space
// for its own precondition failures under [ModuleLibrary].
//
// [Code] implements error, so codes travel through ordinary Go error
// chains and are matched with errors.Is:
//
//	if errors.Is(err, result.ModuleNotInitialized) { ... }
//
// Codes render in the platform's conventional "2MMM-DDDD" notation
// (module plus 2000, then the description).
package result
