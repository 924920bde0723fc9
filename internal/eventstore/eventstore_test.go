package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to the Postgres named by the PG* variables and skips the test
// when none is reachable.
func setupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("PGHOST", "localhost"),
		getEnv("PGPORT", "5432"),
		getEnv("PGUSER", "user"),
		getEnv("PGPASSWORD", "password"),
		getEnv("PGDATABASE", "testdb"),
	)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}

	_, err = db.Exec(Schema)
	require.NoError(t, err)

	return db
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

type testPayload struct {
	Message string `json:"message"`
}

func TestNewEventRoundTrip(t *testing.T) {
	event, err := NewEvent("SomethingHappened", testPayload{Message: "hello"})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, event.EventID)
	assert.Equal(t, "SomethingHappened", event.EventType)
	assert.JSONEq(t, `{"message":"hello"}`, string(event.EventData))

	var decoded testPayload
	require.NoError(t, event.Decode(&decoded))
	assert.Equal(t, "hello", decoded.Message)
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	event := Event{EventType: "Broken", EventData: []byte(`{"message":`)}

	var decoded testPayload
	assert.Error(t, event.Decode(&decoded))
}

func TestAppendAndLoadEvents(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := NewEventStore(db)
	ctx := context.Background()

	streamID := "test-" + uuid.NewString()
	for i := 0; i < 3; i++ {
		event, err := NewEvent("TestEvent", testPayload{Message: fmt.Sprintf("event %d", i)})
		require.NoError(t, err)
		if i == 0 {
			event.Metadata = map[string]string{"source": "test"}
		}
		require.NoError(t, store.Append(ctx, streamID, "test_stream", event))
	}

	version, err := store.GetCurrentVersion(ctx, streamID)
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	events, err := store.LoadEvents(ctx, streamID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "test", events[0].Metadata["source"])
	for i, event := range events {
		assert.Equal(t, i+1, event.Version)
		var payload testPayload
		require.NoError(t, event.Decode(&payload))
		assert.Equal(t, fmt.Sprintf("event %d", i), payload.Message)
	}

	events, err = store.LoadEvents(ctx, streamID, 2, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Version)
}

func TestAppendEventsDetectsStaleVersion(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := NewEventStore(db)
	ctx := context.Background()

	streamID := "test-" + uuid.NewString()
	event, err := NewEvent("TestEvent", testPayload{Message: "first"})
	require.NoError(t, err)
	require.NoError(t, store.AppendEvents(ctx, streamID, "test_stream", 0, []Event{event}))

	event, err = NewEvent("TestEvent", testPayload{Message: "stale"})
	require.NoError(t, err)
	err = store.AppendEvents(ctx, streamID, "test_stream", 0, []Event{event})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	err = store.AppendEvents(ctx, streamID, "test_stream", -1, []Event{event})
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func BenchmarkAppendEvents(b *testing.B) {
	db := setupTestDB(b)
	defer db.Close()
	store := NewEventStore(db)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		event, err := NewEvent("TestEvent", testPayload{Message: fmt.Sprintf("event %d", i)})
		if err != nil {
			b.Fatal(err)
		}
		streamID := "bench-" + uuid.NewString()
		b.StartTimer()

		if err := store.AppendEvents(context.Background(), streamID, "test_stream", 0, []Event{event}); err != nil {
			b.Fatalf("AppendEvents failed: %v", err)
		}
	}
}
