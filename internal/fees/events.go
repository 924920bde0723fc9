package fees

import (
	"context"
	"librarydesk/internal/eventstore"
)

const (
	patronStreamType      = "patron"
	transactionStreamType = "payment"
)

func patronStream(patronID string) string {
	return "patron-" + patronID
}

func transactionStream(transactionID string) string {
	return "payment-" + transactionID
}

// record appends a fee event. Payments have already gone through at the gateway, so a
// failed append is logged and the caller still gets its result.
func (s *service) record(ctx context.Context, streamID, streamType, eventType string, data any) {
	if s.events == nil {
		return
	}

	event, err := eventstore.NewEvent(eventType, data)
	if err == nil {
		event.Metadata = map[string]string{"source": "fees"}
		err = s.events.Append(ctx, streamID, streamType, event)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record fee event",
			"event_type", eventType, "stream_id", streamID, "err", err)
	}
}
