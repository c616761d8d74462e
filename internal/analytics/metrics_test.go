package analytics

import (
	"context"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
)

// Malformed or incomplete payloads must be dropped without touching the
// database; a nil pool panics if any handler gets that wrong.
func TestRecorderDropsBadPayloads(t *testing.T) {
	r := NewRecorder(nil, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	cases := []struct {
		name    string
		handler Handler
		value   string
	}{
		{"created not json", r.HandleCreated, "{not json"},
		{"created missing id", r.HandleCreated, `{"start":"2026-03-02T10:00:00Z"}`},
		{"status missing start", r.HandleStatusChanged, `{"appointment_id":"a1"}`},
		{"rescheduled not json", r.HandleRescheduled, ""},
		{"notification not json", r.HandleNotification("sent"), "{"},
		{"notification missing channel", r.HandleNotification("failed"), `{"appointment_id":"a1","at":"2026-03-02T10:00:00Z"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.handler(ctx, kafka.Message{Value: []byte(tc.value)})
			if err != nil {
				t.Fatalf("expected bad payload to be dropped, got %v", err)
			}
		})
	}
}
