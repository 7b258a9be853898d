package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bosunhq/bosun/pkg/engine"
)

// FanoutSink delivers each engine event to every registered sink. A failing
// sink does not stop delivery to the others; the first error is returned.
type FanoutSink struct {
	sinks []engine.EventSink
}

// NewFanoutSink creates a sink that forwards to all given sinks. Nil entries
// are skipped so callers can pass optional sinks unconditionally.
func NewFanoutSink(sinks ...engine.EventSink) *FanoutSink {
	fs := &FanoutSink{}
	for _, s := range sinks {
		if s != nil {
			fs.sinks = append(fs.sinks, s)
		}
	}
	return fs
}

// Publish implements engine.EventSink.
func (fs *FanoutSink) Publish(ctx context.Context, ev engine.Event) error {
	var firstErr error
	for _, s := range fs.sinks {
		if err := s.Publish(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AsyncSink decouples event publishing from the execution path. Events are
// buffered and delivered by a background goroutine; a full buffer drops the
// event rather than stalling a host group.
type AsyncSink struct {
	inner  engine.EventSink
	buffer chan engine.Event
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewAsyncSink wraps a sink with a buffer of the given size.
func NewAsyncSink(inner engine.EventSink, bufferSize int) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())

	as := &AsyncSink{
		inner:  inner,
		buffer: make(chan engine.Event, bufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	as.wg.Add(1)
	go as.process()

	return as
}

func (as *AsyncSink) process() {
	defer as.wg.Done()
	for ev := range as.buffer {
		// Delivery uses a detached context so an engine cancellation does
		// not lose the trailing events of the run.
		if err := as.inner.Publish(context.Background(), ev); err != nil {
			log.Warn().Err(err).Str("type", string(ev.Type)).Msg("event delivery failed")
		}
	}
}

// Publish implements engine.EventSink.
func (as *AsyncSink) Publish(_ context.Context, ev engine.Event) error {
	select {
	case <-as.ctx.Done():
		return fmt.Errorf("event sink closed")
	default:
	}

	select {
	case as.buffer <- ev:
		return nil
	default:
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (as *AsyncSink) Close() {
	as.cancel()
	close(as.buffer)
	as.wg.Wait()
}

// LogSink writes each engine event to the structured log. It gives `bosun run`
// its progress output without the engine knowing about zerolog.
type LogSink struct {
	logger *Logger
}

// NewLogSink creates a sink writing to the given logger.
func NewLogSink(logger *Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish implements engine.EventSink.
func (ls *LogSink) Publish(_ context.Context, ev engine.Event) error {
	zl := ls.logger.Zerolog()

	var e *zerolog.Event
	switch ev.Level {
	case "error":
		e = zl.Error()
	case "warning":
		e = zl.Warn()
	default:
		e = zl.Info()
	}

	e = e.Str("run_id", ev.RunID).Str("type", string(ev.Type))
	if ev.Group != "" {
		e = e.Str("group", ev.Group)
	}
	if ev.TaskID != "" {
		e = e.Str("task_id", ev.TaskID)
	}
	e.Msg(ev.Message)
	return nil
}
