package exact

import (
	"fmt"
	gosync "sync"
	"sync/atomic"
	"testing"

	"github.com/tidwall/gjson"
)

func TestResolveNormalizesStreamNames(t *testing.T) {
	dispatcher := NewDispatcher(NewRecordProcessor(NewMemoryDedupStateStore(), nil))
	dispatcher.Register(&fakeSink{stream: "BuyOrders"})

	for _, name := range []string{"BuyOrders", "buy_orders", "buyOrders", " buy_orders "} {
		if _, exists := dispatcher.Resolve(name); !exists {
			t.Errorf("expected %q to resolve the BuyOrders sink", name)
		}
	}
	if _, exists := dispatcher.Resolve("SellOrders"); exists {
		t.Error("expected unknown stream to stay unresolved")
	}
}

func TestSubmitRejectsUnknownStream(t *testing.T) {
	dispatcher := NewDispatcher(NewRecordProcessor(NewMemoryDedupStateStore(), nil))
	dispatcher.Start(1)
	defer dispatcher.Drain()

	if err := dispatcher.Submit("Nope", `{}`, testContext()); err == nil {
		t.Fatal("expected an error for an unregistered stream")
	}
}

type embeddedSink struct {
	fakeSink
	mu   gosync.Mutex
	seen []Record
}

func (s *embeddedSink) EmbeddedJSONFields() []string { return []string{"line_items"} }

func (s *embeddedSink) MapRecord(record Record, rc RecordContext) (Payload, error) {
	s.mu.Lock()
	s.seen = append(s.seen, record)
	s.mu.Unlock()
	return s.fakeSink.MapRecord(record, rc)
}

func TestSubmitNormalizesEmbeddedJSON(t *testing.T) {
	dispatcher := NewDispatcher(NewRecordProcessor(NewMemoryDedupStateStore(), &outcomeCollector{}))
	sink := &embeddedSink{fakeSink: fakeSink{stream: "BuyOrders"}}
	dispatcher.Register(sink)
	dispatcher.Start(1)

	raw := `{"id": "bo_1", "line_items": "[{\"sku\": \"A1\", \"quantity\": 10}]"}`
	if err := dispatcher.Submit("BuyOrders", raw, testContext()); err != nil {
		t.Fatal(err)
	}
	dispatcher.Drain()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.seen) != 1 {
		t.Fatalf("expected one record, got %d", len(sink.seen))
	}
	lines := gjson.Get(sink.seen[0].Source.Raw(), "line_items")
	if !lines.IsArray() {
		t.Fatalf("expected line_items decoded to an array, got %s", lines.Type)
	}
	if sku := lines.Array()[0].Get("sku").String(); sku != "A1" {
		t.Errorf("expected sku A1 inside decoded line items, got %q", sku)
	}
}

func TestSubmitLeavesPlainStringsAlone(t *testing.T) {
	dispatcher := NewDispatcher(NewRecordProcessor(NewMemoryDedupStateStore(), &outcomeCollector{}))
	sink := &embeddedSink{fakeSink: fakeSink{stream: "BuyOrders"}}
	dispatcher.Register(sink)
	dispatcher.Start(1)

	if err := dispatcher.Submit("BuyOrders", `{"line_items": "not json"}`, testContext()); err != nil {
		t.Fatal(err)
	}
	dispatcher.Drain()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if got := gjson.Get(sink.seen[0].Source.Raw(), "line_items").String(); got != "not json" {
		t.Errorf("expected the string preserved, got %q", got)
	}
}

func TestWorkerPoolProcessesAllRecords(t *testing.T) {
	collector := &outcomeCollector{}
	dispatcher := NewDispatcher(NewRecordProcessor(NewMemoryDedupStateStore(), collector))
	sink := &fakeSink{stream: "Items"}
	dispatcher.Register(sink)
	dispatcher.Start(4)

	const total = 50
	for i := 0; i < total; i++ {
		raw := fmt.Sprintf(`{"id": %d}`, i)
		if err := dispatcher.Submit("Items", raw, testContext()); err != nil {
			t.Fatal(err)
		}
	}
	dispatcher.Drain()

	if got := atomic.LoadInt32(&sink.upserts); got != total {
		t.Errorf("expected %d upserts, got %d", total, got)
	}
	if len(collector.all()) != total {
		t.Errorf("expected %d outcomes, got %d", total, len(collector.all()))
	}
}
