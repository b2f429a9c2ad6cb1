// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/harvester/internal/metrics"
	"github.com/tomtom215/harvester/internal/models"
)

// NATSConfig configures the JetStream sink.
type NATSConfig struct {
	URL            string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	PublishTimeout time.Duration
}

func (c *NATSConfig) applyDefaults() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "killfeed"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 30 * time.Second
	}
}

// NATSSink publishes events to a JetStream stream, one message per event
// on subject <prefix>.<source_id>. Every message carries the event
// fingerprint as its Nats-Msg-Id so the stream's duplicate window absorbs
// replays from crashed runs.
type NATSSink struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg NATSConfig
}

// NewNATSSink connects to NATS and ensures the target stream exists.
func NewNATSSink(ctx context.Context, cfg NATSConfig) (*NATSSink, error) {
	cfg.applyDefaults()

	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	s := &NATSSink{nc: nc, js: js, cfg: cfg}
	if err := s.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return s, nil
}

func (s *NATSSink) streamName() string {
	return strings.ToUpper(s.cfg.SubjectPrefix)
}

func (s *NATSSink) ensureStream(ctx context.Context) error {
	_, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        s.streamName(),
		Subjects:    []string{s.cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		Duplicates:  2 * time.Minute,
		AllowDirect: true,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", s.streamName(), err)
	}
	return nil
}

// Flush publishes the batch asynchronously and waits for all acks. A
// failed or duplicate-rejected publish fails the whole batch; the caller
// retries and the duplicate window swallows the already-stored events.
func (s *NATSSink) Flush(ctx context.Context, events []models.KillEvent) error {
	if len(events) == 0 {
		return nil
	}
	source := events[0].SourceID

	futures := make([]jetstream.PubAckFuture, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %x: %w", ev.Fingerprint, err)
		}
		msg := &nats.Msg{
			Subject: s.cfg.SubjectPrefix + "." + ev.SourceID,
			Data:    data,
			Header:  nats.Header{},
		}
		msg.Header.Set(nats.MsgIdHdr, strconv.FormatUint(ev.Fingerprint, 16))

		f, err := s.js.PublishMsgAsync(msg)
		if err != nil {
			metrics.SinkErrors.WithLabelValues(source).Inc()
			return fmt.Errorf("publish event %x: %w", ev.Fingerprint, err)
		}
		futures = append(futures, f)
	}

	timeout := time.NewTimer(s.cfg.PublishTimeout)
	defer timeout.Stop()
	select {
	case <-s.js.PublishAsyncComplete():
	case <-timeout.C:
		metrics.SinkErrors.WithLabelValues(source).Inc()
		return fmt.Errorf("publish batch: timed out after %s", s.cfg.PublishTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, f := range futures {
		select {
		case <-f.Ok():
		case err := <-f.Err():
			metrics.SinkErrors.WithLabelValues(source).Inc()
			return fmt.Errorf("publish ack: %w", err)
		}
	}

	metrics.BatchesFlushed.WithLabelValues(source).Inc()
	metrics.EventsDelivered.WithLabelValues(source).Add(float64(len(events)))
	return nil
}

func (s *NATSSink) Close() error {
	s.nc.Close()
	return nil
}
