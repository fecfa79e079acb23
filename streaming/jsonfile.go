package streaming

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// JSONFilePublisher appends events as newline-delimited JSON, one file per
// topic per worker, named "<topic>_worker<id>.ndjson" under the output
// directory. Dots and slashes in topic names are flattened for the filename.
type JSONFilePublisher struct {
	outputDir  string
	workerID   int
	files      map[string]*os.File
	writers    map[string]*bufio.Writer
	writeCount int
}

var _ EventPublisher = (*JSONFilePublisher)(nil)

// NewJSONFilePublisher creates a publisher writing NDJSON files under
// outputDir, creating the directory if needed.
func NewJSONFilePublisher(outputDir string, workerID int) (*JSONFilePublisher, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}

	return &JSONFilePublisher{
		outputDir: outputDir,
		workerID:  workerID,
		files:     make(map[string]*os.File),
		writers:   make(map[string]*bufio.Writer),
	}, nil
}

func (p *JSONFilePublisher) Publish(_ context.Context, topic string, event PublishEvent) error {
	writer, err := p.writerFor(topic)
	if err != nil {
		return err
	}

	return p.writeLine(writer, event)
}

func (p *JSONFilePublisher) PublishBatch(_ context.Context, topic string, events []PublishEvent) error {
	writer, err := p.writerFor(topic)
	if err != nil {
		return err
	}

	for _, event := range events {
		if writeErr := p.writeLine(writer, event); writeErr != nil {
			return writeErr
		}
	}

	return nil
}

func (p *JSONFilePublisher) Flush() error {
	var flushErr error
	for _, writer := range p.writers {
		flushErr = errors.Join(flushErr, writer.Flush())
	}

	return flushErr
}

func (p *JSONFilePublisher) Close() error {
	closeErr := p.Flush()

	for _, file := range p.files {
		closeErr = errors.Join(closeErr, file.Close())
	}

	p.files = make(map[string]*os.File)
	p.writers = make(map[string]*bufio.Writer)

	return closeErr
}

func (p *JSONFilePublisher) Stats() map[string]int {
	return map[string]int{
		"json_file_writes": p.writeCount,
		"open_files":       len(p.files),
	}
}

func (p *JSONFilePublisher) writerFor(topic string) (*bufio.Writer, error) {
	if writer, open := p.writers[topic]; open {
		return writer, nil
	}

	safeTopic := strings.NewReplacer(".", "_", "/", "_").Replace(topic)
	path := filepath.Join(p.outputDir, fmt.Sprintf("%s_worker%d.ndjson", safeTopic, p.workerID))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	writer := bufio.NewWriter(file)
	p.files[topic] = file
	p.writers[topic] = writer

	return writer, nil
}

func (p *JSONFilePublisher) writeLine(writer *bufio.Writer, event PublishEvent) error {
	line, err := jsoniter.ConfigFastest.Marshal(event)
	if err != nil {
		return err
	}

	if _, err = writer.Write(line); err != nil {
		return err
	}
	if err = writer.WriteByte('\n'); err != nil {
		return err
	}

	p.writeCount++

	return nil
}
