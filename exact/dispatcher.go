package exact

import (
	"fmt"
	"strings"
	gosync "sync"

	"github.com/iancoleman/strcase"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultMaxParallelism bounds the worker pool when the config does not
// set one. Matches the parallelism ceiling the Exact API tolerates well.
const DefaultMaxParallelism = 10

// EmbeddedJSONFields is implemented by sinks whose records carry fields
// that arrive as strings containing serialized JSON (e.g. line_items).
// The dispatcher decodes those once during ingestion so no sink ever
// re-parses a loosely-typed literal.
type EmbeddedJSONFields interface {
	EmbeddedJSONFields() []string
}

type dispatchJob struct {
	record Record
	sink   Sink
	rc     RecordContext
}

// Dispatcher routes each incoming record to the sink registered for its
// stream name and runs submissions through a bounded worker pool. Rate
// limiting is the client's concern (via backoff), not the pool's.
type Dispatcher struct {
	Processor *RecordProcessor

	mu    gosync.RWMutex
	sinks map[string]Sink

	jobs    chan dispatchJob
	workers gosync.WaitGroup
	started bool
}

func NewDispatcher(processor *RecordProcessor) *Dispatcher {
	return &Dispatcher{
		Processor: processor,
		sinks:     make(map[string]Sink),
	}
}

// Register adds a sink under its normalized stream name. Registration
// happens at startup; resolution is by lookup, never by type inspection.
func (d *Dispatcher) Register(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[normalizeStreamName(sink.Stream())] = sink
}

// Resolve returns the sink registered for a stream name.
func (d *Dispatcher) Resolve(stream string) (Sink, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sink, exists := d.sinks[normalizeStreamName(stream)]
	return sink, exists
}

// Start launches the worker pool. parallelism <= 0 selects the default.
func (d *Dispatcher) Start(parallelism int) {
	if d.started {
		return
	}
	if parallelism <= 0 {
		parallelism = DefaultMaxParallelism
	}
	d.jobs = make(chan dispatchJob, parallelism)
	for i := 0; i < parallelism; i++ {
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			for job := range d.jobs {
				d.Processor.Process(job.record, job.sink, job.rc)
			}
		}()
	}
	d.started = true
}

// Submit routes one raw record to its sink. It blocks when all workers
// are busy, which keeps ingestion paced to the pool.
func (d *Dispatcher) Submit(stream string, rawRecord string, rc RecordContext) error {
	sink, exists := d.Resolve(stream)
	if !exists {
		return fmt.Errorf("no sink registered for stream %q", stream)
	}
	if !d.started {
		return fmt.Errorf("dispatcher is not started")
	}

	raw := rawRecord
	if n, ok := sink.(EmbeddedJSONFields); ok {
		raw = normalizeEmbeddedJSON(raw, n.EmbeddedJSONFields())
	}

	d.jobs <- dispatchJob{record: NewRecord(stream, raw), sink: sink, rc: rc}
	return nil
}

// Drain closes the job channel and waits for in-flight workers.
func (d *Dispatcher) Drain() {
	if !d.started {
		return
	}
	close(d.jobs)
	d.workers.Wait()
	d.started = false
}

// normalizeEmbeddedJSON replaces string fields that hold serialized JSON
// with the decoded structure, so sinks see strongly-typed nested values.
func normalizeEmbeddedJSON(raw string, fields []string) string {
	for _, field := range fields {
		value := gjson.Get(raw, field)
		if value.Type != gjson.String {
			continue
		}
		inner := strings.TrimSpace(value.String())
		if inner == "" || (inner[0] != '[' && inner[0] != '{') {
			continue
		}
		if !gjson.Valid(inner) {
			continue
		}
		if updated, err := sjson.SetRaw(raw, field, inner); err == nil {
			raw = updated
		}
	}
	return raw
}

// normalizeStreamName maps the wire stream name onto the registry key,
// so "buy_orders", "buyOrders" and "BuyOrders" all resolve the same sink.
func normalizeStreamName(stream string) string {
	return strcase.ToCamel(strings.TrimSpace(stream))
}
