// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration for the supervisor/worker
// control channel.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2). Decoding
// ignores unknown fields, so a newer peer can add fields without
// breaking an older one, but rejects duplicate map keys and bounds
// nesting depth and collection sizes. Text strings are not checked for
// valid UTF-8 here. [IsItemError] separates errors confined to one item
// from errors that leave the stream unusable.
//
// Control messages are a stream:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types carried on the channel use `cbor` struct tags only.
package codec
