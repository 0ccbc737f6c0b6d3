package exact

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"
)

const (
	// ExactDateTimeFormat is the timestamp form accepted on entity bodies.
	ExactDateTimeFormat = "2006-01-02T15:04:05Z"
	// ExactLineDateTimeFormat carries fractional seconds, used on order lines.
	ExactLineDateTimeFormat = "2006-01-02T15:04:05.000000Z"
)

// RecordContext is the explicit per-call context threaded through every
// sink invocation: the shared client (which owns auth and division), the
// run configuration and the run id. Sinks never reach for ambient state.
type RecordContext struct {
	Ctx    context.Context
	Client *Client
	Config Config
	RunID  string
}

// Payload is a sink's mapped form of one record, ready to send. The
// endpoint is built per call from the base endpoint and division and is
// never mutated on a shared instance.
type Payload struct {
	Endpoint string
	IDField  string
	Body     map[string]interface{}
	// RemoteID is set when the record carries a pre-existing remote
	// identifier, which selects update semantics over create.
	RemoteID string
}

// UpsertResult is what a sink reports back for one sent payload.
type UpsertResult struct {
	RemoteID string
	Success  bool
	Extra    map[string]interface{}
}

// Sink is the pluggable mapper/upserter pair for one business-object
// type. One implementation exists per Exact entity; the dispatcher
// resolves them by stream name.
type Sink interface {
	Stream() string
	MapRecord(record Record, rc RecordContext) (Payload, error)
	Upsert(payload Payload, rc RecordContext) (UpsertResult, error)
}

// CreateEntity posts the payload body and extracts the created entity's
// identifier from the Atom response. Payloads carrying a pre-existing
// remote id are reported as already synced without a remote call.
func CreateEntity(payload Payload, rc RecordContext, stream string) (UpsertResult, error) {
	if payload.RemoteID != "" {
		return UpsertResult{
			RemoteID: payload.RemoteID,
			Success:  true,
			Extra:    map[string]interface{}{"existing": true},
		}, nil
	}

	body, err := rc.Client.Execute(rc.Ctx, http.MethodPost, payload.Endpoint, nil, payload.Body)
	if err != nil {
		return UpsertResult{}, err
	}
	id, ok := DecodeEntryID(body, payload.IDField)
	if !ok {
		return UpsertResult{}, &FatalError{
			Status:  http.StatusOK,
			Message: fmt.Sprintf("%s response carried no %s property", stream, payload.IDField),
		}
	}
	log.Printf("%s created with id: %s", stream, id)
	return UpsertResult{RemoteID: id, Success: true}, nil
}

// LookupEntityID finds an existing entity by an OData $filter expression
// (e.g. "Name eq 'Acme'") and returns its identifier field. Both the
// single-match and the multi-match feed shape are handled by the decoder.
func LookupEntityID(rc RecordContext, endpoint string, filter string, idField string) (string, bool, error) {
	params := url.Values{}
	params.Set("$filter", filter)
	params.Set("$top", "1")
	body, err := rc.Client.Execute(rc.Ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return "", false, err
	}
	id, ok := DecodeEntryID(body, idField)
	return id, ok, nil
}

// ODataQuote escapes a value for interpolation into an OData $filter
// string literal.
func ODataQuote(value string) string {
	quoted := ""
	for _, r := range value {
		if r == '\'' {
			quoted += "''"
			continue
		}
		quoted += string(r)
	}
	return "'" + quoted + "'"
}

// DefaultSinks returns one sink per supported stream, ready to register
// with a dispatcher.
func DefaultSinks() []Sink {
	return []Sink{
		BuyOrdersSink{},
		UpdateInventorySink{},
		ItemsSink{},
		PurchaseInvoicesSink{},
		SuppliersSink{},
		PurchaseEntriesSink{},
		SalesOrdersSink{},
		ShopOrdersSink{},
	}
}

// FormatExactDate renders a record timestamp in the form Exact expects.
// Inbound records carry RFC 3339 timestamps or bare dates; anything
// unparseable is passed through unchanged.
func FormatExactDate(value string, layout string) string {
	for _, in := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(in, value); err == nil {
			return t.UTC().Format(layout)
		}
	}
	return value
}
