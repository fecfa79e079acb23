package streaming

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/brickwellhealth/simulator/db"
	"github.com/brickwellhealth/simulator/observability"
)

const (
	defaultFlushInterval = 1 * time.Second
	defaultPublishBatch  = 100
	closeJoinTimeout     = 30 * time.Second

	logMsgPublishError       = "streaming publish error"
	logMsgCloseJoinTimedOut  = "streaming drain goroutine join timed out"
	logMsgDroppedAfterClose  = "streaming events dropped after close"
	logMsgPublisherCloseFail = "publisher close failed"
)

// WrapperStats are the streaming-side counters of a StreamingWriter.
type WrapperStats struct {
	EventsQueued            int
	EventsPublished         int
	PublishErrors           int
	EventsDroppedAfterClose int
}

// StreamingWriter decorates a db.Writer so that inserts and applied updates
// on configured tables are additionally published as change events. The
// write to the inner writer always happens synchronously; publishing is
// asynchronous through an unbounded queue drained by one goroutine and never
// makes a write fail under the fail-open policy.
type StreamingWriter struct {
	inner     db.Writer
	publisher EventPublisher
	topics    *TopicResolver
	tables    map[string]bool
	workerID  int
	failOpen  bool
	simNow    func() time.Time
	interval  time.Duration
	batchSize int
	logger    observability.Logger

	queue  *eventQueue
	joined chan struct{}

	mu         sync.Mutex
	closed     bool
	stats      WrapperStats
	publishErr error
}

var _ db.Writer = (*StreamingWriter)(nil)

// WrapperOption defines a functional option for configuring a StreamingWriter.
type WrapperOption func(*StreamingWriter) error

// WithFlushInterval sets how long the drain goroutine waits for a first event.
func WithFlushInterval(interval time.Duration) WrapperOption {
	return func(w *StreamingWriter) error {
		if interval > 0 {
			w.interval = interval
		}
		return nil
	}
}

// WithPublishBatchSize caps how many events one drain cycle publishes.
func WithPublishBatchSize(size int) WrapperOption {
	return func(w *StreamingWriter) error {
		if size > 0 {
			w.batchSize = size
		}
		return nil
	}
}

// WithFailClosed makes publish failures stop the drain loop and surface the
// error from Close instead of logging and continuing.
func WithFailClosed() WrapperOption {
	return func(w *StreamingWriter) error {
		w.failOpen = false
		return nil
	}
}

// WithWrapperLogger sets the logger for the StreamingWriter.
func WithWrapperLogger(logger observability.Logger) WrapperOption {
	return func(w *StreamingWriter) error {
		w.logger = logger
		return nil
	}
}

// NewStreamingWriter wraps inner so that writes to the given tables are
// mirrored as events. simNow supplies the simulated timestamp stamped onto
// each event. The drain goroutine starts immediately.
func NewStreamingWriter(
	inner db.Writer,
	publisher EventPublisher,
	topics *TopicResolver,
	tables []string,
	workerID int,
	simNow func() time.Time,
	options ...WrapperOption,
) (*StreamingWriter, error) {

	if inner == nil {
		return nil, ErrNilWriter
	}
	if publisher == nil {
		return nil, ErrNilPublisher
	}

	tableSet := make(map[string]bool, len(tables))
	for _, table := range tables {
		tableSet[table] = true
	}

	w := &StreamingWriter{
		inner:     inner,
		publisher: publisher,
		topics:    topics,
		tables:    tableSet,
		workerID:  workerID,
		failOpen:  true,
		simNow:    simNow,
		interval:  defaultFlushInterval,
		batchSize: defaultPublishBatch,
		queue:     newEventQueue(),
		joined:    make(chan struct{}),
	}

	for _, option := range options {
		if err := option(w); err != nil {
			return nil, err
		}
	}

	go w.drainLoop()

	return w, nil
}

func (w *StreamingWriter) Add(ctx context.Context, table string, record db.Record) error {
	if err := w.inner.Add(ctx, table, record); err != nil {
		return err
	}

	w.enqueue(EventTypeInsert, table, record, nil)

	return nil
}

func (w *StreamingWriter) AddMany(ctx context.Context, table string, records []db.Record) error {
	if err := w.inner.AddMany(ctx, table, records); err != nil {
		return err
	}

	for _, record := range records {
		w.enqueue(EventTypeInsert, table, record, nil)
	}

	return nil
}

func (w *StreamingWriter) AddRawStatement(kind string, statement string) {
	w.inner.AddRawStatement(kind, statement)
}

func (w *StreamingWriter) UpdateRecord(
	ctx context.Context,
	table string,
	keyField string,
	keyValue any,
	changes db.Record,
) (bool, error) {

	applied, err := w.inner.UpdateRecord(ctx, table, keyField, keyValue, changes)
	if err != nil || !applied {
		return applied, err
	}

	w.enqueue(EventTypeUpdate, table, changes, map[string]any{keyField: keyValue})

	return true, nil
}

func (w *StreamingWriter) IsBuffered(table string, keyField string, keyValue any) bool {
	return w.inner.IsBuffered(table, keyField, keyValue)
}

func (w *StreamingWriter) FlushForCDC(ctx context.Context, table string, keyField string, keyValue any) (bool, error) {
	return w.inner.FlushForCDC(ctx, table, keyField, keyValue)
}

func (w *StreamingWriter) FlushAll(ctx context.Context) error {
	return w.inner.FlushAll(ctx)
}

func (w *StreamingWriter) Count(table string) int {
	return w.inner.Count(table)
}

func (w *StreamingWriter) Counts() map[string]int {
	return w.inner.Counts()
}

// Close stops accepting events, lets the drain goroutine publish everything
// already queued, joins it with a timeout, then closes the publisher. Under
// fail-closed it returns the first publish error that stopped the loop.
func (w *StreamingWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	dropped := w.stats.EventsDroppedAfterClose
	w.mu.Unlock()

	w.queue.close()

	select {
	case <-w.joined:
	case <-time.After(closeJoinTimeout):
		w.logWarn(logMsgCloseJoinTimedOut, logAttrWorkerID, w.workerID)
	}

	if err := w.publisher.Close(); err != nil {
		w.logWarn(logMsgPublisherCloseFail, logAttrError, err.Error())
	}

	if dropped > 0 {
		w.logInfo(logMsgDroppedAfterClose, logAttrWorkerID, w.workerID, logAttrCount, dropped)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	return w.publishErr
}

// StreamingStats returns the wrapper counters combined with the publisher's
// backend counters.
func (w *StreamingWriter) StreamingStats() map[string]int {
	w.mu.Lock()
	stats := w.stats
	w.mu.Unlock()

	combined := map[string]int{
		"events_queued":             stats.EventsQueued,
		"events_published":          stats.EventsPublished,
		"publish_errors":            stats.PublishErrors,
		"events_dropped_after_close": stats.EventsDroppedAfterClose,
	}

	for name, value := range w.publisher.Stats() {
		combined[name] = value
	}

	return combined
}

func (w *StreamingWriter) enqueue(eventType string, table string, data db.Record, key map[string]any) {
	if !w.streams(table) {
		return
	}

	w.mu.Lock()
	if w.closed {
		w.stats.EventsDroppedAfterClose++
		w.mu.Unlock()
		return
	}
	w.stats.EventsQueued++
	w.mu.Unlock()

	w.queue.put(NewEvent(eventType, table, w.simNow(), w.workerID, data, key))
}

// streams reports whether a table is configured for streaming, accepting
// both qualified ("claims.ambulance_claim") and bare names.
func (w *StreamingWriter) streams(table string) bool {
	if w.tables[table] {
		return true
	}

	if dot := lastDot(table); dot >= 0 {
		return w.tables[table[dot+1:]]
	}

	return false
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}

	return -1
}

func (w *StreamingWriter) drainLoop() {
	defer close(w.joined)

	ctx := context.Background()

	for {
		batch, closed := w.queue.drain(w.batchSize)

		if len(batch) > 0 {
			if err := w.publishBatch(ctx, batch); err != nil {
				return
			}
		}

		if closed && len(batch) == 0 {
			return
		}

		if len(batch) == 0 {
			w.queue.await(w.interval)
		}
	}
}

// publishBatch groups a drained batch by topic and publishes once per topic.
// Under fail-open errors are counted and logged; under fail-closed the first
// error is stored and stops the drain loop.
func (w *StreamingWriter) publishBatch(ctx context.Context, batch []PublishEvent) error {
	byTopic := make(map[string][]PublishEvent)
	order := make([]string, 0, 4)

	for _, event := range batch {
		topic := w.topics.Resolve(event.Table)
		if _, seen := byTopic[topic]; !seen {
			order = append(order, topic)
		}
		byTopic[topic] = append(byTopic[topic], event)
	}

	for _, topic := range order {
		events := byTopic[topic]

		var err error
		if len(events) == 1 {
			err = w.publisher.Publish(ctx, topic, events[0])
		} else {
			err = w.publisher.PublishBatch(ctx, topic, events)
		}

		w.mu.Lock()
		if err != nil {
			w.stats.PublishErrors += len(events)
		} else {
			w.stats.EventsPublished += len(events)
		}
		w.mu.Unlock()

		if err != nil {
			if w.failOpen {
				w.logWarn(logMsgPublishError,
					logAttrTopic, topic,
					logAttrEventCount, len(events),
					logAttrWorkerID, w.workerID,
					logAttrError, err.Error())
				continue
			}

			w.mu.Lock()
			w.publishErr = errors.Join(ErrPublishFailed, err)
			w.mu.Unlock()

			return err
		}
	}

	return nil
}

func (w *StreamingWriter) logInfo(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Info(msg, args...)
	}
}

func (w *StreamingWriter) logWarn(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Warn(msg, args...)
	}
}
