// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Limits applied when decoding control messages. A control message is
// a flat record with at most a short list of error causes, so anything
// deeper or wider than this is a corrupt or hostile stream.
const (
	MaxNestingDepth = 16
	MaxElements     = 4096
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		MaxNestedLevels:  MaxNestingDepth,
		MaxArrayElements: MaxElements,
		MaxMapPairs:      MaxElements,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		// Text is passed through unvalidated; callers check the strings
		// they use, so a bad string costs one item rather than the
		// stream.
		UTF8: cbor.UTF8DecodeInvalid,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Encoder writes a stream of control messages.
type Encoder = cbor.Encoder

// Decoder reads a stream of control messages, enforcing the limits
// above on every item.
type Decoder = cbor.Decoder

// NewEncoder returns a stream encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// IsItemError reports whether err, returned by Decoder.Decode, concerns
// only the content of one well-formed item. The decoder has already
// moved past that item, so the stream can keep being read. Any other
// decode error leaves the stream unusable.
func IsItemError(err error) bool {
	var typeError *cbor.UnmarshalTypeError
	var duplicateError *cbor.DupMapKeyError
	return errors.As(err, &typeError) || errors.As(err, &duplicateError)
}
