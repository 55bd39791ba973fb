package querylog

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripe/requesttrace/events"
)

func TestQueryIsLogged(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	bus := events.NewBus(nil)
	New(logrus.NewEntry(logger)).Register(bus)

	events.Publish(context.Background(), bus, events.QueryExecuted{
		Connection: "mysql",
		Query:      "select * from orders where id = ?",
		Duration:   1250 * time.Microsecond,
	})

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "[DB Query] mysql", entry.Message)
	assert.Equal(t, "select * from orders where id = ?", entry.Data["query"])
	assert.Equal(t, "1.25ms", entry.Data["time"])
}

func TestQuietAboveDebug(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	bus := events.NewBus(nil)
	New(logrus.NewEntry(logger)).Register(bus)

	events.Publish(context.Background(), bus, events.QueryExecuted{Connection: "mysql", Query: "select 1"})
	assert.Empty(t, hook.Entries)
}

func TestMilliseconds(t *testing.T) {
	assert.Equal(t, "0.00ms", Milliseconds(0))
	assert.Equal(t, "12.00ms", Milliseconds(12*time.Millisecond))
	assert.Equal(t, "0.50ms", Milliseconds(500*time.Microsecond))
}
