package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"transity.ai/internal/sim/world"
)

// D1Config points the remote index at an HTTP ingest worker that writes
// batches into a hosted SQL store.
type D1Config struct {
	Endpoint      string
	Token         string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxRetained bounds the events kept across failed flushes.
	MaxRetained int
	Logger      *log.Logger
}

type D1Index struct {
	cfg        D1Config
	httpClient *http.Client

	ch   chan d1Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	queueDropped  atomic.Uint64
	retainDropped atomic.Uint64
	flushFail     atomic.Uint64
	sent          atomic.Uint64
}

type d1Event struct {
	Kind    string `json:"kind"`
	WorldID string `json:"world_id"`
	Payload any    `json:"payload"`
}

type d1WorldRunPayload struct {
	Tick   uint64 `json:"tick"`
	Epoch  uint64 `json:"epoch"`
	Event  string `json:"event"`
	Params any    `json:"params,omitempty"`
	Time   string `json:"time"`
}

type d1SettlementPayload struct {
	Tick       uint64  `json:"tick"`
	Generation uint64  `json:"generation"`
	Seq        int     `json:"seq"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Tier       string  `json:"tier"`
	Score      float64 `json:"score"`
	Time       string  `json:"time"`
}

type d1FailurePayload struct {
	Tick       uint64 `json:"tick"`
	Generation uint64 `json:"generation"`
	Tier       string `json:"tier"`
}

type D1Stats struct {
	QueueDepth         int    `json:"queue_depth"`
	QueueDroppedTotal  uint64 `json:"queue_dropped_total"`
	RetainDroppedTotal uint64 `json:"retain_dropped_total"`
	FlushFailTotal     uint64 `json:"flush_fail_total"`
	SentTotal          uint64 `json:"sent_total"`
}

func OpenD1(cfg D1Config) (*D1Index, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty d1 ingest endpoint")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 8 * cfg.BatchSize
	}

	d := &D1Index{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan d1Event, 8192),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *D1Index) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *D1Index) Stats() D1Stats {
	if d == nil {
		return D1Stats{}
	}
	return D1Stats{
		QueueDepth:         len(d.ch),
		QueueDroppedTotal:  d.queueDropped.Load(),
		RetainDroppedTotal: d.retainDropped.Load(),
		FlushFailTotal:     d.flushFail.Load(),
		SentTotal:          d.sent.Load(),
	}
}

// WriteEvent implements world.EventLogger.
func (d *D1Index) WriteEvent(e world.EventEntry) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	switch e.Kind {
	case world.EventWorldCreated, world.EventWorldSwapped, world.EventSmoothRegenerated:
		p := d1WorldRunPayload{Tick: e.Tick, Epoch: e.Epoch, Event: string(e.Kind), Time: e.Time}
		if e.Params != nil {
			p.Params = e.Params
		}
		d.enqueue(d1Event{Kind: "world_run", WorldID: e.WorldID, Payload: p})
	case world.EventSettlementPlaced:
		if e.Settlement == nil {
			return nil
		}
		s := e.Settlement
		d.enqueue(d1Event{Kind: "settlement", WorldID: e.WorldID, Payload: d1SettlementPayload{
			Tick:       e.Tick,
			Generation: e.Generation,
			Seq:        s.Seq,
			X:          s.X,
			Y:          s.Y,
			Tier:       s.Tier.String(),
			Score:      s.Score,
			Time:       e.Time,
		}})
	case world.EventPlacementFailed:
		d.enqueue(d1Event{Kind: "placement_failed", WorldID: e.WorldID, Payload: d1FailurePayload{
			Tick:       e.Tick,
			Generation: e.Generation,
			Tier:       e.Tier,
		}})
	}
	return nil
}

func (d *D1Index) enqueue(ev d1Event) {
	select {
	case d.ch <- ev:
	default:
		d.queueDropped.Add(1)
		d.printf("d1 index queue full; drop kind=%s world=%s", ev.Kind, ev.WorldID)
	}
}

func (d *D1Index) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]d1Event, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("d1 index flush failed batch=%d err=%v", len(batch), err)
			// Keep the batch for the next flush, trimming the oldest events.
			if over := len(batch) - d.cfg.MaxRetained; over > 0 {
				d.retainDropped.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		d.sent.Add(uint64(len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *D1Index) sendBatch(events []d1Event) error {
	body := struct {
		Events []d1Event `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-transity-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *D1Index) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
