package events

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogHook is a logrus hook publishing a LogMessage for each entry, at
// every level. The entry's context (set with WithContext) becomes the
// event's context, so a subscriber can find the unit of work the entry
// was logged in.
type LogHook struct {
	Bus *Bus
}

var _ logrus.Hook = LogHook{}

func (LogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h LogHook) Fire(entry *logrus.Entry) error {
	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if Depth(ctx) >= MaxDepth {
		return nil
	}
	fields := make(logrus.Fields, len(entry.Data))
	for k, v := range entry.Data {
		fields[k] = v
	}
	Publish(ctx, h.Bus, LogMessage{
		Level:   entry.Level,
		Message: entry.Message,
		Fields:  fields,
		Time:    entry.Time,
	})
	return nil
}
