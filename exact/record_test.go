package exact

import (
	"testing"
)

func TestRecordHashIgnoresFieldOrder(t *testing.T) {
	a := NewRecord("BuyOrders", `{"id": 7, "supplier_remoteId": "s-1", "quantity": 10}`)
	b := NewRecord("BuyOrders", `{"quantity": 10, "id": 7, "supplier_remoteId": "s-1"}`)

	hashA, err := a.Hash()
	if err != nil {
		t.Fatal(err)
	}
	hashB, err := b.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if hashA != hashB {
		t.Errorf("expected identical hashes for reordered content: %s != %s", hashA, hashB)
	}
}

func TestRecordHashDiffersForDifferentContent(t *testing.T) {
	a := NewRecord("BuyOrders", `{"id": 7}`)
	b := NewRecord("BuyOrders", `{"id": 8}`)

	hashA, _ := a.Hash()
	hashB, _ := b.Hash()
	if hashA == hashB {
		t.Error("expected different hashes for different content")
	}
}

func TestRecordHashCoversNestedStructures(t *testing.T) {
	a := NewRecord("BuyOrders", `{"id": 7, "line_items": [{"sku": "A1", "quantity": 10}]}`)
	b := NewRecord("BuyOrders", `{"id": 7, "line_items": [{"sku": "A1", "quantity": 11}]}`)

	hashA, _ := a.Hash()
	hashB, _ := b.Hash()
	if hashA == hashB {
		t.Error("expected nested changes to change the hash")
	}
}

func TestRecordHashInvalidJSON(t *testing.T) {
	r := NewRecord("BuyOrders", `not json`)
	if _, err := r.Hash(); err == nil {
		t.Error("expected an error for unparseable content")
	}
}

func TestSourcePathAccess(t *testing.T) {
	r := NewRecord("BuyOrders", `{"id": 7, "name": "Acme", "active": true, "price": 1.5, "missing": null}`)

	if v, ok := r.Source.StringForPath("name"); !ok || v != "Acme" {
		t.Errorf("StringForPath: got %q, %v", v, ok)
	}
	if v, ok := r.Source.IntForPath("id"); !ok || v != 7 {
		t.Errorf("IntForPath: got %d, %v", v, ok)
	}
	if v, ok := r.Source.FloatForPath("price"); !ok || v != 1.5 {
		t.Errorf("FloatForPath: got %f, %v", v, ok)
	}
	if v, ok := r.Source.BoolForPath("active"); !ok || !v {
		t.Errorf("BoolForPath: got %v, %v", v, ok)
	}
	if _, ok := r.Source.StringForPath("missing"); ok {
		t.Error("expected null field to report absent")
	}
	if _, ok := r.Source.StringForPath("nonexistent"); ok {
		t.Error("expected unknown field to report absent")
	}
}
