// Package build holds the version stamped into binaries with -ldflags,
// e.g. -X github.com/stripe/requesttrace/util/build.VERSION=v1.2.0.
package build

import (
	"fmt"
	"net/http"
)

const defaultValue = "dirty"

var (
	BUILD_DATE = defaultValue
	VERSION    = defaultValue
)

// Fields describes the build for structured logs.
func Fields() map[string]interface{} {
	return map[string]interface{}{
		"version":    VERSION,
		"build_date": BUILD_DATE,
	}
}

// String is the build in human-readable form.
func String() string {
	return fmt.Sprintf("%s (built %s)", VERSION, BUILD_DATE)
}

func HandleBuildDate(writer http.ResponseWriter, _ *http.Request) {
	writer.Write([]byte(BUILD_DATE))
}

func HandleVersion(writer http.ResponseWriter, _ *http.Request) {
	writer.Write([]byte(VERSION))
}
