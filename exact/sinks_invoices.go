package exact

import (
	"fmt"
	"log"
)

// PurchaseInvoicesSink creates purchase invoices. VAT codes on the lines
// are either passed through verbatim or resolved against /vat/VATCodes,
// depending on the lookup_tax_codes config toggle.
type PurchaseInvoicesSink struct{}

func (PurchaseInvoicesSink) Stream() string { return "PurchaseInvoices" }

func (PurchaseInvoicesSink) EmbeddedJSONFields() []string { return []string{"line_items"} }

func (s PurchaseInvoicesSink) MapRecord(record Record, rc RecordContext) (Payload, error) {
	items, ok := record.Source.ArrayForPath("line_items")
	if !ok || len(items) == 0 {
		return Payload{}, &SkipRecord{Reason: "record has no line_items"}
	}
	supplier, hasSupplier := record.Source.StringForPath("supplier_remoteId")
	if !hasSupplier || supplier == "" {
		return Payload{}, &MappingError{Stream: s.Stream(), Message: "record has no supplier_remoteId"}
	}

	var lines []map[string]interface{}
	for _, item := range items {
		productID := item.Get("product_remoteId").String()
		if productID == "" {
			log.Printf("%s line skipped: no product_remoteId in %s", s.Stream(), item.Raw)
			continue
		}
		line := map[string]interface{}{
			"Item":      productID,
			"Quantity":  item.Get("quantity").Float(),
			"UnitPrice": item.Get("unit_price").Float(),
		}
		if taxCode := item.Get("tax_code").String(); taxCode != "" {
			resolved, err := resolveVATCode(taxCode, rc)
			if err != nil {
				return Payload{}, err
			}
			line["VATCode"] = resolved
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return Payload{}, &SkipRecord{Reason: "record has no mappable line_items"}
	}

	invoiceDate, _ := record.Source.StringForPath("transaction_date")
	body := map[string]interface{}{
		"Supplier":             supplier,
		"InvoiceDate":          FormatExactDate(invoiceDate, ExactDateTimeFormat),
		"PurchaseInvoiceLines": lines,
	}
	if ref, ok := record.Source.StringForPath("id"); ok && ref != "" {
		body["YourRef"] = ref
	}
	if description, ok := record.Source.StringForPath("description"); ok && description != "" {
		body["Description"] = description
	}

	payload := Payload{
		Endpoint: "/purchase/PurchaseInvoices",
		IDField:  "InvoiceID",
		Body:     body,
	}
	payload.RemoteID, _ = record.Source.StringForPath("invoice_remoteId")
	return payload, nil
}

func (s PurchaseInvoicesSink) Upsert(payload Payload, rc RecordContext) (UpsertResult, error) {
	return CreateEntity(payload, rc, s.Stream())
}

// resolveVATCode returns the remote VAT code matching the record's tax
// code when remote lookups are enabled; otherwise the value passes
// through verbatim. An enabled lookup that finds nothing also passes the
// value through, with a logged reason.
func resolveVATCode(taxCode string, rc RecordContext) (string, error) {
	if !rc.Config.LookupTaxCodes {
		return taxCode, nil
	}
	filter := fmt.Sprintf("Code eq %s", ODataQuote(taxCode))
	code, found, err := LookupEntityID(rc, "/vat/VATCodes", filter, "Code")
	if err != nil {
		return "", err
	}
	if !found {
		log.Printf("no VAT code matched %q, passing through", taxCode)
		return taxCode, nil
	}
	return code, nil
}

// PurchaseEntriesSink books purchase journal entries.
type PurchaseEntriesSink struct{}

func (PurchaseEntriesSink) Stream() string { return "PurchaseEntries" }

func (PurchaseEntriesSink) EmbeddedJSONFields() []string { return []string{"lines"} }

func (s PurchaseEntriesSink) MapRecord(record Record, rc RecordContext) (Payload, error) {
	entryLines, ok := record.Source.ArrayForPath("lines")
	if !ok || len(entryLines) == 0 {
		return Payload{}, &SkipRecord{Reason: "record has no lines"}
	}
	supplier, hasSupplier := record.Source.StringForPath("supplier_remoteId")
	if !hasSupplier || supplier == "" {
		return Payload{}, &MappingError{Stream: s.Stream(), Message: "record has no supplier_remoteId"}
	}

	var lines []map[string]interface{}
	for _, entryLine := range entryLines {
		glAccount := entryLine.Get("gl_account_remoteId").String()
		if glAccount == "" {
			log.Printf("%s line skipped: no gl_account_remoteId in %s", s.Stream(), entryLine.Raw)
			continue
		}
		line := map[string]interface{}{
			"GLAccount": glAccount,
			"AmountFC":  entryLine.Get("amount").Float(),
		}
		if description := entryLine.Get("description").String(); description != "" {
			line["Description"] = description
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return Payload{}, &SkipRecord{Reason: "record has no mappable lines"}
	}

	entryDate, _ := record.Source.StringForPath("transaction_date")
	body := map[string]interface{}{
		"Supplier":           supplier,
		"EntryDate":          FormatExactDate(entryDate, ExactDateTimeFormat),
		"PurchaseEntryLines": lines,
	}
	if journal, ok := record.Source.StringForPath("journal"); ok && journal != "" {
		body["Journal"] = journal
	}
	if ref, ok := record.Source.StringForPath("id"); ok && ref != "" {
		body["YourRef"] = ref
	}

	payload := Payload{
		Endpoint: "/purchaseentry/PurchaseEntries",
		IDField:  "EntryID",
		Body:     body,
	}
	payload.RemoteID, _ = record.Source.StringForPath("entry_remoteId")
	return payload, nil
}

func (s PurchaseEntriesSink) Upsert(payload Payload, rc RecordContext) (UpsertResult, error) {
	return CreateEntity(payload, rc, s.Stream())
}
