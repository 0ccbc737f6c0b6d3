package exact

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/clbanning/mxj/v2"
)

// ErrorEnvelope is the normalized form of a failed Exact API response,
// whether the body carried a structured XML error document or not.
type ErrorEnvelope struct {
	Kind      string
	Message   string
	RawStatus int
	RawBody   string
}

const (
	ErrorKindRetriable = "retriable"
	ErrorKindFatal     = "fatal"
	ErrorKindAuth      = "auth"
)

// DecodeError extracts the error message embedded in an Exact XML error
// document and classifies it by HTTP status. A malformed or non-XML body
// falls back to the raw HTTP status text rather than failing the decode.
func DecodeError(status int, body []byte) ErrorEnvelope {
	envelope := ErrorEnvelope{
		Kind:      errorKindForStatus(status),
		RawStatus: status,
		RawBody:   string(body),
	}

	if m, err := mxj.NewMapXml(body); err == nil {
		for _, path := range []string{"error.message.#text", "error.message"} {
			if v, err := m.ValueForPath(path); err == nil {
				if s, ok := v.(string); ok && s != "" {
					envelope.Message = s
					return envelope
				}
			}
		}
	}

	// Fall back to plain-text bodies, then to the status line
	if s := strings.TrimSpace(string(body)); s != "" && !strings.HasPrefix(s, "<") {
		envelope.Message = s
		return envelope
	}
	envelope.Message = fmt.Sprintf("%d %s", status, http.StatusText(status))
	return envelope
}

func errorKindForStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return ErrorKindRetriable
	case status == http.StatusUnauthorized:
		return ErrorKindAuth
	default:
		return ErrorKindFatal
	}
}

// DecodeEntryID extracts the identifier field from the first entry of an
// Atom/OData response. Exact serializes a single match as an entry object
// and multiple matches as a feed containing a list of entries; both shapes
// are normalized here so sinks never have to care which one came back.
// The field name is the property without its "d:" prefix, e.g. "ID" or
// "PurchaseOrderID".
func DecodeEntryID(body []byte, field string) (string, bool) {
	if field == "" {
		field = "ID"
	}
	m, err := mxj.NewMapXml(body)
	if err != nil {
		return "", false
	}

	// ValuesForPath flattens both the single-entry and the feed shape
	// into a list, in document order.
	for _, root := range []string{"feed.entry", "entry"} {
		values, err := m.ValuesForPath(root + ".content.m:properties.d:" + field)
		if err != nil || len(values) == 0 {
			continue
		}
		if s, ok := entryValueString(values[0]); ok {
			return s, true
		}
	}
	return "", false
}

// entryValueString unwraps a property value which mxj may represent either
// as a plain string or as a map holding attributes alongside "#text".
func entryValueString(v interface{}) (string, bool) {
	switch value := v.(type) {
	case string:
		return value, value != ""
	case map[string]interface{}:
		if text, ok := value["#text"].(string); ok && text != "" {
			return text, true
		}
	}
	return "", false
}
