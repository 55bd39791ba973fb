package propagation

import (
	"errors"
	"strings"

	opentracing "github.com/opentracing/opentracing-go"
)

var errStop = errors.New("stop")

// Read finds the X-TRACE value in carrier and decodes it. A carrier
// without the key yields opentracing.ErrSpanContextNotFound; a present but
// malformed value yields a *DecodeError.
func Read(carrier interface{}) (SpanContext, error) {
	r, ok := carrier.(opentracing.TextMapReader)
	if !ok {
		return SpanContext{}, opentracing.ErrInvalidCarrier
	}
	value, found := get(r, HeaderName)
	if !found {
		return SpanContext{}, opentracing.ErrSpanContextNotFound
	}
	return Decode(value)
}

// Write encodes c into carrier under HeaderName.
func Write(c SpanContext, carrier interface{}) error {
	w, ok := carrier.(opentracing.TextMapWriter)
	if !ok {
		return opentracing.ErrInvalidCarrier
	}
	w.Set(HeaderName, Encode(c))
	return nil
}

// get is a case-insensitive lookup; the first matching key wins.
func get(r opentracing.TextMapReader, key string) (value string, found bool) {
	_ = r.ForeachKey(func(k, v string) error {
		if strings.EqualFold(k, key) {
			value = v
			found = true
			return errStop
		}
		return nil
	})
	return value, found
}
