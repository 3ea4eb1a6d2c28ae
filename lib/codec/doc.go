// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR configuration shared by every Horizon
// package that persists structured data.
//
// IPC capture files (lib/ipctrace) store each exchanged message as a
// CBOR record. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. The same record always produces the same
// bytes, so capture digests are stable across runs.
//
// Buffer-oriented:
//
//	data, err := codec.Marshal(record)
//	err = codec.Unmarshal(data, &record)
//
// Stream-oriented:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
//
// Types that are only ever CBOR carry `cbor` struct tags. Types that
// are also printed as JSON by the CLI carry `json` tags, which the
// CBOR library reads as a fallback.
package codec
