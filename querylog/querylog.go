// Package querylog writes a debug line for every database statement,
// whether or not tracing is enabled.
package querylog

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stripe/requesttrace/events"
)

// Observer logs QueryExecuted events.
type Observer struct {
	log *logrus.Entry
}

// New creates an observer logging on log.
func New(log *logrus.Entry) *Observer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Observer{log: log}
}

// Register subscribes o to bus.
func (o *Observer) Register(bus *events.Bus) func() {
	return events.Subscribe(bus, o.OnQuery)
}

// OnQuery logs q at debug level. The entry carries ctx, so when the
// logger is hooked to the event bus the line is also recorded on the
// unit of work's span.
func (o *Observer) OnQuery(ctx context.Context, q events.QueryExecuted) {
	o.log.WithContext(ctx).WithFields(logrus.Fields{
		"query": q.Query,
		"time":  Milliseconds(q.Duration),
	}).Debugf("[DB Query] %s", q.Connection)
}

// Milliseconds formats d the way query times are logged, e.g. "1.25ms".
func Milliseconds(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
}
