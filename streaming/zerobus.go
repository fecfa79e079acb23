package streaming

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/brickwellhealth/simulator/observability"
)

const (
	logMsgIngestStreamCreated   = "ingest stream created"
	logMsgIngestStreamUnhealthy = "ingest stream unhealthy"
	logMsgIngestPublishFailed   = "ingest publish failed"
	logMsgIngestStreamsClosed   = "ingest streams closed"

	// A stream is discarded and reopened after this many consecutive
	// failed ingest calls.
	ingestFailureThreshold = 3

	ingestRequestTimeout = 30 * time.Second
)

var epochDay = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// ZeroBusConfig carries the managed ingest service settings.
type ZeroBusConfig struct {
	WorkspaceID   string
	WorkspaceURL  string
	Region        string
	Catalog       string
	SchemaName    string
	ClientID      string
	ClientSecret  string
	TokenCacheDir string
}

// ingestStream is one per-topic session against the ingest endpoint. It is
// considered unhealthy once too many consecutive calls have failed, at which
// point the publisher discards it and opens a new one.
type ingestStream struct {
	topic    string
	url      string
	tokens   *TokenCache
	failures int
}

func (s *ingestStream) healthy() bool {
	return s.failures < ingestFailureThreshold
}

// ZeroBusPublisher streams events to a managed ingest service over HTTP.
// Topics are fully qualified table names ("catalog.schema.table"); each gets
// its own stream and its own file-cached OAuth token shared across workers.
type ZeroBusPublisher struct {
	cfg            ZeroBusConfig
	serverEndpoint string
	client         *http.Client
	streams        map[string]*ingestStream
	logger         observability.Logger

	recordCount    int
	batchCount     int
	errorCount     int
	reconnectCount int
}

var _ EventPublisher = (*ZeroBusPublisher)(nil)

// NewZeroBusPublisher creates a publisher against the configured workspace.
func NewZeroBusPublisher(cfg ZeroBusConfig, logger observability.Logger) *ZeroBusPublisher {
	return &ZeroBusPublisher{
		cfg:            cfg,
		serverEndpoint: serverEndpoint(cfg),
		client:         &http.Client{Timeout: ingestRequestTimeout},
		streams:        make(map[string]*ingestStream),
		logger:         logger,
	}
}

// serverEndpoint derives the ingest host from the workspace. Azure and AWS
// workspaces use different ingest domains.
func serverEndpoint(cfg ZeroBusConfig) string {
	if strings.Contains(cfg.WorkspaceURL, "azuredatabricks.net") {
		return fmt.Sprintf("%s.zerobus.%s.azuredatabricks.net", cfg.WorkspaceID, cfg.Region)
	}

	return fmt.Sprintf("%s.zerobus.%s.cloud.databricks.com", cfg.WorkspaceID, cfg.Region)
}

func (p *ZeroBusPublisher) Publish(ctx context.Context, topic string, event PublishEvent) error {
	return p.PublishBatch(ctx, topic, []PublishEvent{event})
}

func (p *ZeroBusPublisher) PublishBatch(ctx context.Context, topic string, events []PublishEvent) error {
	stream := p.streamFor(topic)

	body := &bytes.Buffer{}
	encoder := jsoniter.ConfigFastest.NewEncoder(body)
	for _, event := range events {
		if err := encoder.Encode(convertForIngest(event.ToIngestRecord())); err != nil {
			return err
		}
	}

	if err := p.ingest(ctx, stream, body); err != nil {
		stream.failures++
		p.errorCount += len(events)
		p.logWarn(logMsgIngestPublishFailed,
			logAttrTopic, topic,
			logAttrEventCount, len(events),
			logAttrError, err.Error())

		return errors.Join(ErrPublishFailed, err)
	}

	stream.failures = 0
	p.recordCount += len(events)
	if len(events) > 1 {
		p.batchCount++
	}

	return nil
}

func (p *ZeroBusPublisher) Flush() error { return nil }

func (p *ZeroBusPublisher) Close() error {
	count := len(p.streams)
	p.streams = make(map[string]*ingestStream)

	p.logDebug(logMsgIngestStreamsClosed, logAttrStreamCount, count)

	return nil
}

func (p *ZeroBusPublisher) Stats() map[string]int {
	return map[string]int{
		"zerobus_records_published": p.recordCount,
		"zerobus_batches_published": p.batchCount,
		"zerobus_errors":            p.errorCount,
		"zerobus_reconnects":        p.reconnectCount,
	}
}

func (p *ZeroBusPublisher) streamFor(topic string) *ingestStream {
	if existing, open := p.streams[topic]; open {
		if existing.healthy() {
			return existing
		}

		p.logWarn(logMsgIngestStreamUnhealthy,
			logAttrTopic, topic,
			logAttrState, fmt.Sprintf("%d consecutive failures", existing.failures))

		delete(p.streams, topic)
		p.reconnectCount++
	}

	fetcher := NewClientCredentialsFetcher(
		p.cfg.WorkspaceURL,
		p.cfg.WorkspaceID,
		topic,
		p.cfg.ClientID,
		p.cfg.ClientSecret,
	)

	stream := &ingestStream{
		topic:  topic,
		url:    fmt.Sprintf("https://%s/api/2.0/zerobus/streams/%s/records", p.serverEndpoint, topic),
		tokens: NewTokenCache(p.cfg.TokenCacheDir, topic, fetcher, p.logger),
	}
	p.streams[topic] = stream

	p.logDebug(logMsgIngestStreamCreated, logAttrTopic, topic)

	return stream
}

func (p *ZeroBusPublisher) ingest(ctx context.Context, stream *ingestStream, body io.Reader) error {
	token, err := stream.tokens.Token(ctx)
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, stream.url, body)
	if err != nil {
		return err
	}

	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Content-Type", "application/x-ndjson")
	request.Header.Set("X-Databricks-Zerobus-Table-Name", stream.topic)

	response, err := p.client.Do(request)
	if err != nil {
		return err
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 512))

		return fmt.Errorf("ingest returned %d: %s", response.StatusCode, string(detail))
	}

	return nil
}

func (p *ZeroBusPublisher) logDebug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *ZeroBusPublisher) logWarn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

// convertForIngest maps record values to the ingest wire types: DATE columns
// become int32 days since epoch, TIMESTAMP columns int64 microseconds since
// epoch. Date and timestamp values may arrive either as time.Time or as the
// ISO strings produced upstream.
func convertForIngest(record map[string]any) map[string]any {
	converted := make(map[string]any, len(record))
	for column, value := range record {
		converted[column] = convertIngestValue(value)
	}

	return converted
}

func convertIngestValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil

	case time.Time:
		if isDateOnly(v) {
			return epochDays(v)
		}
		return v.UnixMicro()

	case string:
		if parsed, ok := parseDateString(v); ok {
			return epochDays(parsed)
		}
		if parsed, ok := parseTimestampString(v); ok {
			return parsed.UnixMicro()
		}
		return v

	default:
		return value
	}
}

func isDateOnly(t time.Time) bool {
	hour, minute, second := t.Clock()

	return hour == 0 && minute == 0 && second == 0 && t.Nanosecond() == 0
}

func epochDays(t time.Time) int {
	return int(t.Sub(epochDay).Hours() / 24)
}

func parseDateString(s string) (time.Time, bool) {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return time.Time{}, false
	}

	parsed, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, false
	}

	return parsed, true
}

func parseTimestampString(s string) (time.Time, bool) {
	if len(s) < 19 || !strings.Contains(s, "T") {
		return time.Time{}, false
	}

	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return parsed, true
	}

	if parsed, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return parsed.UTC(), true
	}

	return time.Time{}, false
}
