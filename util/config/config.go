package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/template"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// ReadConfig renders the YAML file at path as a template with
// templateData, decodes it strictly and then overlays environment
// variables prefixed with envBase. An empty path reads the environment
// only.
func ReadConfig[Config interface{}](
	path string, templateData interface{}, envBase string,
) (*Config, error) {
	config := new(Config)
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %v", err)
		}
		defer file.Close()

		err = decode(file, templateData, config)
		if err != nil {
			return nil, err
		}
	}

	err := envconfig.Process(envBase, config)
	if err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %v", err)
	}

	return config, nil
}

func decode(r io.Reader, templateData interface{}, config interface{}) error {
	fileData, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read config file: %v", err)
	}

	configTemplate, err := template.New("config").Parse(string(fileData))
	if err != nil {
		return err
	}

	var rendered bytes.Buffer
	err = configTemplate.Execute(&rendered, templateData)
	if err != nil {
		return err
	}
	if rendered.Len() == 0 {
		return nil
	}

	decoder := yaml.NewDecoder(&rendered)
	decoder.SetStrict(true)
	err = decoder.Decode(config)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %v", err)
	}
	return nil
}

func HandleConfigJson(config interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		encodedConfig, err := json.MarshalIndent(config, "", "  ")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(err.Error()))
			return
		}
		w.Header().Add("Content-Type", "application/json")
		w.Write(encodedConfig)
	}
}

func HandleConfigYaml(config interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		encodedConfig, err := yaml.Marshal(config)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(err.Error()))
			return
		}
		w.Header().Add("Content-Type", "application/x-yaml")
		w.Write(encodedConfig)
	}
}
