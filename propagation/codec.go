// Package propagation carries a span's context between processes in a
// single HTTP header (or gRPC metadata key) and attaches it to every
// outbound call made during a unit of work.
//
// The wire format is versioned, fixed-width text:
//
//	01-<trace id: 32 hex>-<span id: 16 hex>-<flags: 2 hex>
//
// Only lowercase hex is accepted and every field is validated; a value
// that does not match exactly is rejected with a *DecodeError rather than
// producing a partially-populated SpanContext.
package propagation

import (
	"fmt"
	"strconv"
	"strings"

	opentracing "github.com/opentracing/opentracing-go"
)

// HeaderName is the header that carries an encoded SpanContext. Header
// lookups are case-insensitive.
const HeaderName = "X-TRACE"

// MetadataKey is HeaderName as it appears in gRPC metadata.
const MetadataKey = "x-trace"

const (
	version   = "01"
	separator = "-"

	traceIDLen = 32
	spanIDLen  = 16
	flagsLen   = 2

	encodedLen = len(version) + traceIDLen + spanIDLen + flagsLen + 3*len(separator)

	// longer inputs are truncated in error messages
	maxQuotedLen = 64
)

// FlagSampled marks a trace the upstream tracer decided to record.
const FlagSampled byte = 0x01

// SpanContext is the tracer-independent identity of a span: enough to
// start a child of it in another process.
type SpanContext struct {
	TraceIDHigh uint64
	TraceIDLow  uint64
	SpanID      uint64
	Flags       byte
}

// Sampled reports whether FlagSampled is set.
func (c SpanContext) Sampled() bool {
	return c.Flags&FlagSampled != 0
}

// IsValid reports whether c has a non-zero trace and span ID.
func (c SpanContext) IsValid() bool {
	return (c.TraceIDHigh != 0 || c.TraceIDLow != 0) && c.SpanID != 0
}

// Format is the opentracing carrier format for the X-TRACE header. Tracers
// register an injector and extractor for it; carriers are
// opentracing.TextMapWriter / opentracing.TextMapReader values (for
// example opentracing.HTTPHeadersCarrier).
var Format = headerFormat{}

type headerFormat struct{}

func (headerFormat) String() string {
	return "x-trace"
}

// DecodeError is returned by Decode for any value that is not a valid
// encoding. It unwraps to opentracing.ErrSpanContextCorrupted.
type DecodeError struct {
	Value  string
	Reason string
}

func (e *DecodeError) Error() string {
	v := e.Value
	if len(v) > maxQuotedLen {
		v = v[:maxQuotedLen] + "..."
	}
	return fmt.Sprintf("malformed span context %q: %s", v, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return opentracing.ErrSpanContextCorrupted
}

// Encode serializes c. It does not validate c; encoding a zero context
// yields a string that Decode rejects.
func Encode(c SpanContext) string {
	return fmt.Sprintf("%s-%016x%016x-%016x-%02x", version, c.TraceIDHigh, c.TraceIDLow, c.SpanID, c.Flags)
}

// Decode parses a value produced by Encode.
func Decode(s string) (SpanContext, error) {
	fail := func(reason string) (SpanContext, error) {
		return SpanContext{}, &DecodeError{Value: s, Reason: reason}
	}

	if s == "" {
		return fail("empty value")
	}
	if len(s) != encodedLen {
		return fail(fmt.Sprintf("expected %d bytes, got %d", encodedLen, len(s)))
	}

	parts := strings.Split(s, separator)
	if len(parts) != 4 {
		return fail("expected 4 fields")
	}
	if parts[0] != version {
		return fail(fmt.Sprintf("unsupported version %q", parts[0]))
	}
	if len(parts[1]) != traceIDLen || len(parts[2]) != spanIDLen || len(parts[3]) != flagsLen {
		return fail("field width mismatch")
	}
	for _, p := range parts[1:] {
		if !isLowerHex(p) {
			return fail("fields must be lowercase hex")
		}
	}

	var c SpanContext
	var err error
	if c.TraceIDHigh, err = strconv.ParseUint(parts[1][:16], 16, 64); err != nil {
		return fail("bad trace id")
	}
	if c.TraceIDLow, err = strconv.ParseUint(parts[1][16:], 16, 64); err != nil {
		return fail("bad trace id")
	}
	if c.SpanID, err = strconv.ParseUint(parts[2], 16, 64); err != nil {
		return fail("bad span id")
	}
	flags, err := strconv.ParseUint(parts[3], 16, 8)
	if err != nil {
		return fail("bad flags")
	}
	c.Flags = byte(flags)

	if !c.IsValid() {
		return fail("zero trace or span id")
	}
	return c, nil
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if (b < '0' || b > '9') && (b < 'a' || b > 'f') {
			return false
		}
	}
	return true
}
