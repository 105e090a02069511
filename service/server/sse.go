package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	natspkg "github.com/brojonat/nftstake/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const sseKeepaliveInterval = 10 * time.Second

// EventStream relays staking events from JetStream to Server-Sent Events clients.
type EventStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewEventStream connects to NATS for streaming staking events.
func NewEventStream(natsURL string, logger *slog.Logger) (*EventStream, error) {
	nc, err := natspkg.Connect(natsURL, "nftstake-event-stream")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("event stream initialized", "nats_url", natsURL)

	return &EventStream{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (s *EventStream) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("event stream closed")
	}
	return nil
}

// streamSubject returns the subject filter for owner, or every owner when empty.
func streamSubject(owner string) string {
	if owner == "" {
		return natspkg.StreamSubjects
	}
	return natspkg.Subject(owner)
}

// handleStreamStakingEvents streams staking events as SSE.
// GET /api/v1/stream/staking/{owner}
// GET /api/v1/stream/staking
func handleStreamStakingEvents(stream *EventStream, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.PathValue("owner")
		if owner != "" {
			if err := validateAddress(owner); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		subject := streamSubject(owner)

		cons, err := stream.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer",
				"subject", subject,
				"error", err,
			)
			writeError(w, "failed to subscribe", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		// Streams outlive the server's write timeout.
		rc := http.NewResponseController(w)
		rc.SetWriteDeadline(time.Time{})
		flush := func() { rc.Flush() }

		logger.DebugContext(r.Context(), "SSE client connected",
			"subject", subject,
			"remote_addr", r.RemoteAddr,
		)

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-r.Context().Done():
				}
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start consuming messages", "error", err)
				return
			}
			<-r.Context().Done()
			cc.Stop()
		}()

		connected, _ := json.Marshal(map[string]string{"subject": subject})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
		flush()

		keepalive := time.NewTicker(sseKeepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case msg := <-msgChan:
				var event natspkg.StakingEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(r.Context(), "failed to unmarshal staking event", "error", err)
					msg.Ack()
					continue
				}
				writeSSEEvent(w, "staking", msg.Data())
				flush()
				msg.Ack()

				logger.DebugContext(r.Context(), "sent staking event",
					"owner", event.Owner,
					"signature", event.Signature,
					"status", event.Status,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"subject", subject,
					"remote_addr", r.RemoteAddr,
				)
				return

			case <-doneChan:
				return
			}
		}
	})
}

// writeSSEEvent writes one named event. data must not contain newlines.
func writeSSEEvent(w http.ResponseWriter, name string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
