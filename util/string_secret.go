package util

import (
	"encoding/json"
	"flag"
)

var PrintSecrets = flag.Bool(
	"print-secrets", false, "Disables redacting config secrets")

const Redacted = "REDACTED"

// StringSecret is a config value that is redacted whenever it is printed
// or served back from a config endpoint.
type StringSecret struct {
	Value string
}

func (s StringSecret) String() string {
	if *PrintSecrets {
		return s.Value
	}
	if s.Value == "" {
		return ""
	}
	return Redacted
}

func (s *StringSecret) UnmarshalYAML(unmarshal func(interface{}) error) error {
	return unmarshal(&s.Value)
}

func (s StringSecret) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s StringSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Decode implements envconfig.Decoder.
func (s *StringSecret) Decode(value string) error {
	s.Value = value
	return nil
}
