// Package notify delivers incident events to webhook channels. Delivery is
// best-effort by contract: a slow or failing webhook is logged and counted,
// never retried, and never surfaces to the code path that raised the event.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veriflow-io/veriflow/internal/model"
)

const (
	// requestTimeout bounds one webhook POST.
	requestTimeout = 10 * time.Second

	defaultWorkers   = 4
	defaultQueueSize = 256
)

// ChannelSource lists the active notification channels.
type ChannelSource interface {
	ListActive(ctx context.Context) ([]*model.NotificationChannel, error)
}

type event struct {
	eventType model.EventType
	incident  *model.Incident
}

// Dispatcher fans incident events out to subscribed channels from a small
// worker pool. Events are dropped, not blocked on, when the queue is full.
type Dispatcher struct {
	channels ChannelSource
	client   *http.Client
	logger   *slog.Logger

	queue chan event
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	failures atomic.Int64
}

// NewDispatcher creates a dispatcher and starts its workers.
func NewDispatcher(channels ChannelSource, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		channels: channels,
		client:   &http.Client{Timeout: requestTimeout},
		logger:   logger,
		queue:    make(chan event, defaultQueueSize),
		stop:     make(chan struct{}),
	}

	for i := 0; i < defaultWorkers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// Dispatch enqueues an event without blocking. Implements incident.Notifier.
func (d *Dispatcher) Dispatch(eventType model.EventType, incident *model.Incident) {
	select {
	case <-d.stop:
	case d.queue <- event{eventType: eventType, incident: incident}:
	default:
		d.logger.Warn("notification queue full, dropping event",
			"event", string(eventType), "incident_id", incident.ID)
	}
}

// Close stops the workers after the queued events drain. Safe to call more
// than once.
func (d *Dispatcher) Close() error {
	d.once.Do(func() {
		close(d.stop)
		d.wg.Wait()
	})

	return nil
}

// Failures reports how many deliveries have failed since start.
func (d *Dispatcher) Failures() int64 {
	return d.failures.Load()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			// Drain what is already queued before exiting.
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	channels, err := d.channels.ListActive(ctx)
	if err != nil {
		d.logger.Error("failed to load notification channels", "error", err)
		return
	}

	payload, err := json.Marshal(eventPayload(ev.eventType, ev.incident))
	if err != nil {
		d.logger.Error("failed to encode notification payload", "error", err)
		return
	}

	for _, channel := range channels {
		if !channel.SubscribedTo(ev.eventType) {
			continue
		}

		if !channel.WantsSeverity(ev.incident.Severity) {
			continue
		}

		if channel.Config.URL == "" {
			continue
		}

		if status, err := d.post(channel, payload); err != nil {
			d.failures.Add(1)
			d.logger.Warn("webhook delivery failed",
				"channel", channel.Name, "event", string(ev.eventType), "error", err)
		} else if status >= http.StatusBadRequest {
			d.failures.Add(1)
			d.logger.Warn("webhook delivery rejected",
				"channel", channel.Name, "event", string(ev.eventType), "status", status)
		}
	}
}

// TestSend delivers a fixed test payload to one channel synchronously.
func (d *Dispatcher) TestSend(ctx context.Context, channel *model.NotificationChannel) (int, error) {
	payload, err := json.Marshal(map[string]any{
		"event":     string(model.EventTest),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"message":   "test notification from veriflow",
	})
	if err != nil {
		return 0, err
	}

	return d.post(channel, payload)
}

func (d *Dispatcher) post(channel *model.NotificationChannel, payload []byte) (int, error) {
	if channel.Config.URL == "" {
		return 0, fmt.Errorf("channel %s has no url", channel.Name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, channel.Config.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	for name, value := range channel.Config.Headers {
		req.Header.Set(name, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

func eventPayload(eventType model.EventType, incident *model.Incident) map[string]any {
	return map[string]any{
		"event":     string(eventType),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"incident": map[string]any{
			"id":            incident.ID,
			"title":         incident.Title,
			"severity":      string(incident.Severity),
			"status":        string(incident.Status),
			"failure_count": incident.FailureCount,
			"check_id":      incident.CheckID,
			"description":   incident.Description,
		},
	}
}
