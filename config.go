package requesttrace

import (
	"net"
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/stripe/requesttrace/trace"
	"github.com/stripe/requesttrace/util"
	"github.com/stripe/requesttrace/util/config"
)

const defaultHTTPAddress = "127.0.0.1:8080"

// Config is the configuration of an instrumented service. It is read from
// YAML and then overridden by environment variables, e.g. TRACING_HOST
// for tracing.host.
type Config struct {
	AppName     string            `yaml:"app_name" split_words:"true"`
	HTTPAddress string            `yaml:"http_address" split_words:"true"`
	Debug       bool              `yaml:"debug"`
	SentryDsn   util.StringSecret `yaml:"sentry_dsn" split_words:"true"`
	UpstreamURL util.Url          `yaml:"upstream_url" split_words:"true"`
	Database    DatabaseConfig    `yaml:"database"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// DatabaseConfig names a database/sql driver and data source. The driver
// must be linked into the binary.
type DatabaseConfig struct {
	Name   string            `yaml:"name"`
	Driver string            `yaml:"driver"`
	DSN    util.StringSecret `yaml:"dsn"`
}

type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// QueueSize is the number of finished spans buffered on their way to
	// the collector.
	QueueSize uint `yaml:"queue_size" split_words:"true"`
	Service   struct {
		Name string `yaml:"name"`
	} `yaml:"service"`
}

// Active reports whether spans are recorded at all. Tracing without a
// collector host is off, not an error.
func (c TracingConfig) Active() bool {
	return c.Enabled && c.Host != ""
}

// CollectorAddress is the host:port spans are sent to.
func (c TracingConfig) CollectorAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type templateData struct {
	Hostname string
}

// ReadConfig reads the config file at path, which may use
// {{.Hostname}}, and applies environment overrides and defaults. An
// empty path configures from the environment alone.
func ReadConfig(path string) (Config, error) {
	hostname, _ := os.Hostname()
	c, err := config.ReadConfig[Config](path, templateData{Hostname: hostname}, "")
	if err != nil {
		return Config{}, errors.Wrap(err, "could not read config")
	}
	c.applyDefaults()
	return *c, nil
}

func (c *Config) applyDefaults() {
	if c.HTTPAddress == "" {
		c.HTTPAddress = defaultHTTPAddress
	}
	if c.Tracing.Port == 0 {
		c.Tracing.Port = trace.DefaultAgentPort
	}
	if c.Tracing.QueueSize == 0 {
		c.Tracing.QueueSize = trace.DefaultCapacity
	}
	if c.Database.Name == "" {
		c.Database.Name = c.Database.Driver
	}
	if c.Tracing.Service.Name == "" {
		c.Tracing.Service.Name = c.AppName
	}
}
