package util

import (
	"encoding/json"
	"net/url"
)

// Url is a config value holding a parsed URL. The zero Url is unset.
type Url struct {
	Value *url.URL
}

func (u Url) String() string {
	if u.Value == nil {
		return ""
	}
	return u.Value.String()
}

func (u Url) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u Url) MarshalYAML() (interface{}, error) {
	return u.String(), nil
}

func (u *Url) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	err := unmarshal(&s)
	if err != nil {
		return err
	}
	return u.Decode(s)
}

// Decode implements envconfig.Decoder. An empty string leaves u unset.
func (u *Url) Decode(s string) error {
	if s == "" {
		u.Value = nil
		return nil
	}
	var err error
	u.Value, err = url.Parse(s)
	return err
}
