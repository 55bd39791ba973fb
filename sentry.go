package requesttrace

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// SentryFlushTimeout bounds how long reporting to sentry may delay a
// crashing process.
const SentryFlushTimeout = 10 * time.Second

// ConsumePanic reports a recovered panic to sentry and then re-panics.
// Call it in a deferred function:
//
//	defer func() {
//		requesttrace.ConsumePanic(hub, hostname, recover())
//	}()
func ConsumePanic(hub *sentry.Hub, hostname string, err interface{}) {
	if err == nil {
		return
	}

	if hub != nil && hub.Client() != nil {
		event := sentry.NewEvent()
		event.Level = sentry.LevelFatal
		event.ServerName = hostname
		switch e := err.(type) {
		case error:
			event.Message = e.Error()
		case fmt.Stringer:
			event.Message = e.String()
		default:
			event.Message = fmt.Sprintf("%#v", e)
		}
		hub.CaptureEvent(event)
		// we don't want the program to terminate before reporting to sentry
		hub.Flush(SentryFlushTimeout)
	}

	panic(err)
}

// SentryHook is a logrus hook sending error, fatal and panic entries to
// sentry.
type SentryHook struct {
	Hub      *sentry.Hub
	Hostname string
}

var _ logrus.Hook = SentryHook{}

func (SentryHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel}
}

func (s SentryHook) Fire(e *logrus.Entry) error {
	event := sentry.NewEvent()
	event.ServerName = s.Hostname

	if err, ok := e.Data[logrus.ErrorKey].(error); ok {
		event.Message = err.Error()
	} else {
		event.Message = e.Message
	}

	event.Extra = make(map[string]interface{}, len(e.Data))
	for k, v := range e.Data {
		if k == logrus.ErrorKey {
			continue // already the message
		}
		event.Extra[k] = v
	}
	if event.Message != e.Message {
		event.Extra["log_message"] = e.Message
	}

	switch e.Level {
	case logrus.FatalLevel, logrus.PanicLevel:
		event.Level = sentry.LevelFatal
	default:
		event.Level = sentry.LevelError
	}

	s.Hub.CaptureEvent(event)
	if e.Level == logrus.PanicLevel || e.Level == logrus.FatalLevel {
		// we don't want the program to terminate before reporting to sentry
		s.Hub.Flush(SentryFlushTimeout)
	}
	return nil
}
