// Package codec serializes cache values for remote storage.
//
// Encoding walks an ordered chain of formats and keeps the first one that
// accepts the value: a msgpack binary form, then JSON, then the value's
// printed string. Decoding walks DecodeOrder the same way so values written
// by other encoders (plain JSON, raw strings) are still readable.
//
// Binary payloads start with a header byte that is never a valid UTF-8 lead
// byte, which keeps them distinguishable from JSON and plain text.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Format identifies the encoding of a stored payload
type Format int

const (
	// FormatBinary is msgpack behind a header byte, optionally compressed
	FormatBinary Format = iota
	// FormatJSON is a plain JSON document
	FormatJSON
	// FormatString is raw UTF-8 text
	FormatString
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatJSON:
		return "json"
	case FormatString:
		return "string"
	default:
		return "unknown"
	}
}

const (
	headerCompressed byte = 0xC0
	headerBinary     byte = 0xC1
)

// DecodeOrder is the order in which Decode tries each format.
// The string step accepts any input, so decoding never fails outright.
var DecodeOrder = []Format{FormatBinary, FormatJSON, FormatString}

var (
	// ErrNotBinary is returned when a payload lacks the binary header
	ErrNotBinary = errors.New("codec: payload is not binary encoded")

	// ErrTrailingData is returned when a binary payload has bytes after the value
	ErrTrailingData = errors.New("codec: trailing data after binary value")

	// ErrNotJSON is returned when a payload is not a valid JSON document
	ErrNotJSON = errors.New("codec: payload is not valid json")

	// ErrInvalidTarget is returned by Convert when dst is not a non-nil pointer
	ErrInvalidTarget = errors.New("codec: target must be a non-nil pointer")
)

// Codec encodes and decodes cache values
type Codec struct {
	compressor Compressor
	minSize    int
}

// New creates a codec with the given compression configuration.
// A nil or disabled config produces a codec that never compresses.
func New(config *Config) (*Codec, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	compressor, err := NewCompressor(config)
	if err != nil {
		return nil, err
	}

	return &Codec{compressor: compressor, minSize: config.MinSize}, nil
}

// Default returns a codec without compression
func Default() *Codec {
	return &Codec{compressor: NewNoOpCompressor()}
}

// Encode serializes v with the first format of the chain that accepts it
func (c *Codec) Encode(v any) ([]byte, Format, error) {
	if packed, err := msgpack.Marshal(v); err == nil {
		data, err := c.frame(packed)
		if err != nil {
			return nil, FormatBinary, err
		}
		return data, FormatBinary, nil
	}

	if data, err := json.Marshal(v); err == nil {
		return data, FormatJSON, nil
	}

	return []byte(fmt.Sprint(v)), FormatString, nil
}

// frame prepends the binary header, compressing when the payload is large enough
func (c *Codec) frame(packed []byte) ([]byte, error) {
	if c.compressor.Name() != "none" && len(packed) >= c.minSize {
		compressed, err := c.compressor.Compress(packed)
		if err != nil {
			return nil, fmt.Errorf("codec: compress: %w", err)
		}
		if len(compressed) < len(packed) {
			return append([]byte{headerCompressed}, compressed...), nil
		}
	}

	return append([]byte{headerBinary}, packed...), nil
}

// Decode deserializes data by trying each format of DecodeOrder in turn
func (c *Codec) Decode(data []byte) (any, Format) {
	for _, format := range DecodeOrder {
		if v, err := c.DecodeAs(format, data); err == nil {
			return v, format
		}
	}
	return string(data), FormatString
}

// DecodeAs deserializes data with one specific format
func (c *Codec) DecodeAs(format Format, data []byte) (any, error) {
	switch format {
	case FormatBinary:
		return c.decodeBinary(data)
	case FormatJSON:
		if !json.Valid(data) {
			return nil, ErrNotJSON
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("codec: json: %w", err)
		}
		return v, nil
	case FormatString:
		return string(data), nil
	default:
		return nil, fmt.Errorf("codec: unsupported format %d", format)
	}
}

func (c *Codec) decodeBinary(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, ErrNotBinary
	}

	var payload []byte
	switch data[0] {
	case headerBinary:
		payload = data[1:]
	case headerCompressed:
		decompressor := c.compressor
		if decompressor.Name() == "none" {
			// Written by a compressing peer; gzip is the default algorithm
			decompressor = NewGzipCompressor(-1)
		}
		decompressed, err := decompressor.Decompress(data[1:])
		if err != nil {
			return nil, fmt.Errorf("codec: decompress: %w", err)
		}
		payload = decompressed
	default:
		return nil, ErrNotBinary
	}

	r := bytes.NewReader(payload)
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)

	v, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return nil, fmt.Errorf("codec: msgpack: %w", err)
	}
	if r.Len() != 0 {
		return nil, ErrTrailingData
	}

	return v, nil
}

// Size returns the best-effort serialized size of v in bytes
func Size(v any) int64 {
	data, _, err := Default().Encode(v)
	if err != nil {
		return int64(len(fmt.Sprint(v)))
	}
	return int64(len(data))
}

// Convert stores src into the value dst points to. A src already assignable
// to the target type is copied as is; anything else, such as the generic maps
// and int64s a decoded payload yields, is re-encoded with msgpack and decoded
// into the target, so a value reads back the same from every backend.
func Convert(src, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return ErrInvalidTarget
	}

	target := rv.Elem()
	if src == nil {
		target.SetZero()
		return nil
	}
	if sv := reflect.ValueOf(src); sv.Type().AssignableTo(target.Type()) {
		target.Set(sv)
		return nil
	}

	packed, err := msgpack.Marshal(src)
	if err != nil {
		return fmt.Errorf("codec: convert %T: %w", src, err)
	}
	if err := msgpack.Unmarshal(packed, dst); err != nil {
		return fmt.Errorf("codec: convert %T to %s: %w", src, target.Type(), err)
	}
	return nil
}
