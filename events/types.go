package events

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// LogMessage is published for every log entry made through a logger
// carrying LogHook.
type LogMessage struct {
	Level   logrus.Level
	Message string
	Fields  logrus.Fields
	Time    time.Time
}

// RequestHandled is published once per HTTP request, after the handler
// has produced its response and before the request's span ends.
type RequestHandled struct {
	Request   *http.Request
	Status    int
	Principal string
}

// QueryExecuted is published after every database statement.
type QueryExecuted struct {
	Connection string
	Query      string
	Duration   time.Duration
}
