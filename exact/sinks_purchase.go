package exact

import (
	"log"
)

// BuyOrdersSink creates purchase orders from upstream buy-order records.
type BuyOrdersSink struct{}

func (BuyOrdersSink) Stream() string { return "BuyOrders" }

// EmbeddedJSONFields marks line_items for dispatcher-side decoding: the
// upstream extraction delivers it as a string of serialized JSON.
func (BuyOrdersSink) EmbeddedJSONFields() []string { return []string{"line_items"} }

func (s BuyOrdersSink) MapRecord(record Record, rc RecordContext) (Payload, error) {
	items, ok := record.Source.ArrayForPath("line_items")
	if !ok || len(items) == 0 {
		return Payload{}, &SkipRecord{Reason: "record has no line_items"}
	}

	orderDate, _ := record.Source.StringForPath("transaction_date")
	orderNumber, _ := record.Source.IntForPath("id")
	supplier, hasSupplier := record.Source.StringForPath("supplier_remoteId")
	if !hasSupplier || supplier == "" {
		return Payload{}, &MappingError{Stream: s.Stream(), Message: "record has no supplier_remoteId"}
	}

	// The receipt date falls back to the sync date when the upstream
	// record has no creation timestamp.
	receiptDate, hasReceipt := record.Source.StringForPath("created_at")
	if !hasReceipt || receiptDate == "" {
		receiptDate, _ = record.Source.StringForPath("syncedDate")
	}

	var lines []map[string]interface{}
	for _, item := range items {
		productID := item.Get("product_remoteId").String()
		if productID == "" {
			// No matching related entity for this line; skip it with a
			// reason rather than failing the whole record.
			log.Printf("%s line skipped: no product_remoteId in %s", s.Stream(), item.Raw)
			continue
		}
		line := map[string]interface{}{
			"Item":                    productID,
			"QuantityInPurchaseUnits": purchaseUnits(item.Get("quantity").Float(), item.Get("lot_size").Float()),
		}
		if receiptDate != "" {
			line["ReceiptDate"] = FormatExactDate(receiptDate, ExactLineDateTimeFormat)
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return Payload{}, &SkipRecord{Reason: "record has no mappable line_items"}
	}

	payload := Payload{
		Endpoint: "/purchaseorder/PurchaseOrders",
		IDField:  "PurchaseOrderID",
		Body: map[string]interface{}{
			"OrderDate":          FormatExactDate(orderDate, ExactLineDateTimeFormat),
			"OrderNumber":        orderNumber,
			"Supplier":           supplier,
			"Warehouse":          rc.Config.WarehouseUUID,
			"PurchaseOrderLines": lines,
		},
	}
	payload.RemoteID, _ = record.Source.StringForPath("buy_order_remoteId")
	return payload, nil
}

func (s BuyOrdersSink) Upsert(payload Payload, rc RecordContext) (UpsertResult, error) {
	return CreateEntity(payload, rc, s.Stream())
}

// purchaseUnits converts an ordered quantity into purchase units. The
// lot size defaults to 1 when absent, zero or false on the record.
func purchaseUnits(quantity float64, lotSize float64) float64 {
	if lotSize <= 0 {
		lotSize = 1
	}
	return quantity / lotSize
}
