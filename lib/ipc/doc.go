// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc marshals requests to system services into the kernel's
// command-buffer layout and decodes their responses.
//
// A message is a sequence of little-endian 32-bit words in the
// per-thread command buffer:
//
//	header (2 words)         type, descriptor counts, raw size
//	handle descriptor        send-PID flag, copy and move counts,
//	                         PID placeholder, copy handles, move handles
//	X descriptors (2 words)  send pointers
//	A, B, W (3 words each)   send, receive and exchange mappings
//	raw section              16-byte aligned: magic, version, command id
//	                         or result, token, raw words
//	C descriptors (2 words)  receive pointers, after the raw section
//
// Copied handles always precede moved handles, in requests and in
// responses, and their order is preserved.
//
// [Send] is the client side: it pins the request's buffers, marshals
// the request, hands it to the kernel and decodes the reply. A
// transport failure (the kernel call failed, or the reply is malformed
// or does not match the expected format) is returned as an error,
// once, without retrying. A service-level failure arrives as a
// successful exchange whose [Response.Result] is nonzero; callers check
// it, usually through [Response.Err] or [Session.Call].
//
// [ParseRequest] and [MarshalReply] are the server side, used by the
// emulated kernel in lib/emu.
package ipc
