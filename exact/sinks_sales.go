package exact

import (
	"log"
)

// SalesOrdersSink creates sales orders.
type SalesOrdersSink struct{}

func (SalesOrdersSink) Stream() string { return "SalesOrders" }

func (SalesOrdersSink) EmbeddedJSONFields() []string { return []string{"line_items"} }

func (s SalesOrdersSink) MapRecord(record Record, rc RecordContext) (Payload, error) {
	items, ok := record.Source.ArrayForPath("line_items")
	if !ok || len(items) == 0 {
		return Payload{}, &SkipRecord{Reason: "record has no line_items"}
	}
	customer, hasCustomer := record.Source.StringForPath("customer_remoteId")
	if !hasCustomer || customer == "" {
		return Payload{}, &MappingError{Stream: s.Stream(), Message: "record has no customer_remoteId"}
	}

	var lines []map[string]interface{}
	for _, item := range items {
		productID := item.Get("product_remoteId").String()
		if productID == "" {
			log.Printf("%s line skipped: no product_remoteId in %s", s.Stream(), item.Raw)
			continue
		}
		line := map[string]interface{}{
			"Item":     productID,
			"Quantity": item.Get("quantity").Float(),
		}
		if price := item.Get("unit_price"); price.Exists() {
			line["NetPrice"] = price.Float()
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return Payload{}, &SkipRecord{Reason: "record has no mappable line_items"}
	}

	orderDate, _ := record.Source.StringForPath("transaction_date")
	body := map[string]interface{}{
		"OrderedBy":       customer,
		"OrderDate":       FormatExactDate(orderDate, ExactDateTimeFormat),
		"SalesOrderLines": lines,
	}
	if deliveryDate, ok := record.Source.StringForPath("delivery_date"); ok && deliveryDate != "" {
		body["DeliveryDate"] = FormatExactDate(deliveryDate, ExactDateTimeFormat)
	}
	if ref, ok := record.Source.StringForPath("id"); ok && ref != "" {
		body["YourRef"] = ref
	}

	payload := Payload{
		Endpoint: "/salesorder/SalesOrders",
		IDField:  "OrderID",
		Body:     body,
	}
	payload.RemoteID, _ = record.Source.StringForPath("sales_order_remoteId")
	return payload, nil
}

func (s SalesOrdersSink) Upsert(payload Payload, rc RecordContext) (UpsertResult, error) {
	return CreateEntity(payload, rc, s.Stream())
}

// ShopOrdersSink creates manufacturing shop orders.
type ShopOrdersSink struct{}

func (ShopOrdersSink) Stream() string { return "ShopOrders" }

func (s ShopOrdersSink) MapRecord(record Record, rc RecordContext) (Payload, error) {
	itemID, hasItem := record.Source.StringForPath("product_remoteId")
	if !hasItem || itemID == "" {
		return Payload{}, &MappingError{Stream: s.Stream(), Message: "record has no product_remoteId"}
	}
	quantity, hasQuantity := record.Source.FloatForPath("quantity")
	if !hasQuantity || quantity <= 0 {
		return Payload{}, &SkipRecord{Reason: "record has no positive quantity"}
	}

	body := map[string]interface{}{
		"Item":            itemID,
		"PlannedQuantity": quantity,
		"Warehouse":       rc.Config.WarehouseUUID,
	}
	if plannedDate, ok := record.Source.StringForPath("planned_date"); ok && plannedDate != "" {
		body["PlannedDate"] = FormatExactDate(plannedDate, ExactDateTimeFormat)
	}

	payload := Payload{
		Endpoint: "/manufacturing/ShopOrders",
		IDField:  "ShopOrderID",
		Body:     body,
	}
	payload.RemoteID, _ = record.Source.StringForPath("shop_order_remoteId")
	return payload, nil
}

func (s ShopOrdersSink) Upsert(payload Payload, rc RecordContext) (UpsertResult, error) {
	return CreateEntity(payload, rc, s.Stream())
}
