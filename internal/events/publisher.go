package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/docport/docport/internal/store"
)

// Publisher ships lifecycle events from the local SQLite event log to NATS
// JetStream. Events stay in SQLite until acknowledged, so a NATS outage never
// loses them.
type Publisher struct {
	nc    *nats.Conn
	js    nats.JetStreamContext
	store *store.Store
	stop  chan struct{}
	wg    sync.WaitGroup
}

// WireEvent is the JSON payload published to NATS.
type WireEvent struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// NewPublisher connects to NATS and ensures the event stream exists.
func NewPublisher(natsURL string, st *store.Store) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     "DOCPORT_EVENTS",
		Subjects: []string{"docport.events.>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		// Stream may already exist, that's OK
		log.Printf("events: stream setup: %v", err)
	}

	return &Publisher{
		nc:    nc,
		js:    js,
		store: st,
		stop:  make(chan struct{}),
	}, nil
}

// Start begins the event sync loop (every 2 seconds).
func (p *Publisher) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.syncEvents()
			case <-p.stop:
				// Final flush
				p.syncEvents()
				return
			}
		}
	}()
}

// Stop stops the sync loop after a final flush and closes the NATS connection.
func (p *Publisher) Stop() {
	close(p.stop)
	p.wg.Wait()
	p.nc.Close()
}

func (p *Publisher) syncEvents() {
	events, err := p.store.GetUnsyncedEvents(100)
	if err != nil || len(events) == 0 {
		return
	}

	var synced []int64
	for _, e := range events {
		subject := "docport.events." + e.Type
		data, _ := json.Marshal(WireEvent{
			Type:      e.Type,
			Payload:   json.RawMessage(e.Payload),
			Timestamp: e.CreatedAt,
		})

		if _, err := p.js.Publish(subject, data); err != nil {
			log.Printf("events: publish error for event %d: %v", e.ID, err)
			continue
		}
		synced = append(synced, e.ID)
	}

	if err := p.store.MarkEventsSynced(synced); err != nil {
		log.Printf("events: mark synced error: %v", err)
		return
	}

	if len(synced) > 0 {
		log.Printf("events: synced %d events to NATS", len(synced))
	}
}
