package exact

import (
	"fmt"
	"log"
)

// ItemsSink upserts logistics items, matching on the item code before
// creating.
type ItemsSink struct{}

func (ItemsSink) Stream() string { return "Items" }

func (s ItemsSink) MapRecord(record Record, rc RecordContext) (Payload, error) {
	code, hasCode := record.Source.StringForPath("sku")
	if !hasCode || code == "" {
		code, hasCode = record.Source.StringForPath("code")
	}
	if !hasCode || code == "" {
		return Payload{}, &MappingError{Stream: s.Stream(), Message: "record has no sku or code"}
	}

	body := map[string]interface{}{
		"Code":           code,
		"IsPurchaseItem": true,
	}
	if description, ok := record.Source.StringForPath("name"); ok && description != "" {
		body["Description"] = description
	}
	if unit, ok := record.Source.StringForPath("unit"); ok && unit != "" {
		body["Unit"] = unit
	}
	if costPrice, ok := record.Source.FloatForPath("cost_price"); ok {
		body["CostPriceStandard"] = costPrice
	}

	payload := Payload{
		Endpoint: "/logistics/Items",
		IDField:  "ID",
		Body:     body,
	}
	payload.RemoteID, _ = record.Source.StringForPath("product_remoteId")
	return payload, nil
}

func (s ItemsSink) Upsert(payload Payload, rc RecordContext) (UpsertResult, error) {
	if payload.RemoteID == "" {
		code, _ := payload.Body["Code"].(string)
		filter := fmt.Sprintf("Code eq %s", ODataQuote(code))
		id, found, err := LookupEntityID(rc, payload.Endpoint, filter, payload.IDField)
		if err != nil {
			return UpsertResult{}, err
		}
		if found {
			log.Printf("%s matched existing item %s for code %q", s.Stream(), id, code)
			return UpsertResult{
				RemoteID: id,
				Success:  true,
				Extra:    map[string]interface{}{"existing": true},
			}, nil
		}
	}
	return CreateEntity(payload, rc, s.Stream())
}

// UpdateInventorySink books a stock count for an item in the configured
// warehouse so the remote stock position matches the upstream quantity.
type UpdateInventorySink struct{}

func (UpdateInventorySink) Stream() string { return "UpdateInventory" }

func (s UpdateInventorySink) MapRecord(record Record, rc RecordContext) (Payload, error) {
	itemID, hasItem := record.Source.StringForPath("product_remoteId")
	if !hasItem || itemID == "" {
		return Payload{}, &MappingError{Stream: s.Stream(), Message: "record has no product_remoteId"}
	}
	quantity, hasQuantity := record.Source.FloatForPath("quantity")
	if !hasQuantity {
		return Payload{}, &SkipRecord{Reason: "record has no quantity"}
	}

	countDate, _ := record.Source.StringForPath("counted_at")
	body := map[string]interface{}{
		"Warehouse": rc.Config.WarehouseUUID,
		"StockCountLines": []map[string]interface{}{
			{"Item": itemID, "QuantityNew": quantity},
		},
	}
	if countDate != "" {
		body["StockCountDate"] = FormatExactDate(countDate, ExactDateTimeFormat)
	}

	return Payload{
		Endpoint: "/inventory/StockCounts",
		IDField:  "StockCountID",
		Body:     body,
	}, nil
}

func (s UpdateInventorySink) Upsert(payload Payload, rc RecordContext) (UpsertResult, error) {
	result, err := CreateEntity(payload, rc, s.Stream())
	if err != nil {
		return result, err
	}
	log.Printf("%s booked stock count %s", s.Stream(), result.RemoteID)
	return result, nil
}
