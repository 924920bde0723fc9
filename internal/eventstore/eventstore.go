package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Schema creates the events table. Stream versions start at 1 and are unique per stream.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id          BIGSERIAL PRIMARY KEY,
	event_id    UUID NOT NULL UNIQUE,
	stream_id   TEXT NOT NULL,
	stream_type TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	event_data  JSONB NOT NULL,
	metadata    JSONB,
	version     INT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (stream_id, version)
);`

// Event is a domain fact appended to a stream.
type Event struct {
	ID         int64               `json:"id" db:"id"`
	EventID    uuid.UUID           `json:"event_id" db:"event_id"`
	StreamID   string              `json:"stream_id" db:"stream_id"`
	StreamType string              `json:"stream_type" db:"stream_type"`
	EventType  string              `json:"event_type" db:"event_type"`
	EventData  jsoniter.RawMessage `json:"event_data" db:"event_data"`
	Metadata   map[string]string   `json:"metadata,omitempty" db:"metadata"`
	Version    int                 `json:"version" db:"version"`
	CreatedAt  time.Time           `json:"created_at" db:"created_at"`
}

// NewEvent encodes data as the payload of a new event of the given type.
func NewEvent(eventType string, data any) (Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{
		EventID:   uuid.New(),
		EventType: eventType,
		EventData: payload,
	}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.EventData, v); err != nil {
		return fmt.Errorf("decode %s event %d: %w", e.EventType, e.ID, err)
	}
	return nil
}

// EventStore appends and replays streams in Postgres with optimistic concurrency.
type EventStore struct {
	db     *sql.DB
	tracer trace.Tracer
	now    func() time.Time
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{
		db:     db,
		tracer: otel.Tracer("librarydesk/eventstore"),
		now:    time.Now,
	}
}

// AppendEvents atomically appends events after expectedVersion.
func (es *EventStore) AppendEvents(ctx context.Context, streamID, streamType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("stream.id", streamID),
			attribute.String("stream.type", streamType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	tx, err := es.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE stream_id = $1
	`, streamID).Scan(&currentVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("query current version: %w", err)
	}

	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (event_id, stream_id, stream_type, event_type, event_data, metadata, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, event := range events {
		version := expectedVersion + i + 1
		if event.EventID == uuid.Nil {
			event.EventID = uuid.New()
		}

		// lib/pq sends []byte as bytea, so JSONB columns get strings.
		var metadata sql.NullString
		if len(event.Metadata) > 0 {
			metadata.String, err = json.MarshalToString(event.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata for event %d: %w", i, err)
			}
			metadata.Valid = true
		}

		var id int64
		err = stmt.QueryRowContext(
			ctx,
			event.EventID,
			streamID,
			streamType,
			event.EventType,
			string(event.EventData),
			metadata,
			version,
			es.now().UTC(),
		).Scan(&id)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", id),
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// LoadEvents returns a stream's events from fromVersion on, up to toVersion when it is positive.
func (es *EventStore) LoadEvents(ctx context.Context, streamID string, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("stream.id", streamID),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	query := `
		SELECT id, event_id, stream_id, stream_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE stream_id = $1
		AND version >= $2
	`
	args := []any{streamID, fromVersion}

	if toVersion > 0 {
		query += " AND version <= $3"
		args = append(args, toVersion)
	}
	query += " ORDER BY version ASC"

	rows, err := es.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event        Event
			data         []byte
			metadataJSON []byte
		)
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.StreamID,
			&event.StreamType,
			&event.EventType,
			&data,
			&metadataJSON,
			&event.Version,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.EventData = data

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", event.ID, err)
			}
		}

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// GetCurrentVersion returns the latest version of a stream, 0 when it has no events.
func (es *EventStore) GetCurrentVersion(ctx context.Context, streamID string) (int, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.get_version",
		trace.WithAttributes(
			attribute.String("stream.id", streamID),
		),
	)
	defer span.End()

	var version int
	err := es.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE stream_id = $1
	`, streamID).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("query version: %w", err)
	}

	span.SetAttributes(attribute.Int("current.version", version))
	return version, nil
}

// Append appends events at the end of the stream, reading its version first.
// Concurrent writers to the same stream get ErrConcurrencyConflict.
func (es *EventStore) Append(ctx context.Context, streamID, streamType string, events ...Event) error {
	version, err := es.GetCurrentVersion(ctx, streamID)
	if err != nil {
		return err
	}
	return es.AppendEvents(ctx, streamID, streamType, version, events)
}
