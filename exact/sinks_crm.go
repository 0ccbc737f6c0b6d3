package exact

import (
	"fmt"
	"log"

	"github.com/biter777/countries"
	"github.com/ttacon/libphonenumber"
)

// SuppliersSink upserts supplier accounts. Existing suppliers are found
// by name before any create, so reprocessed extracts never duplicate an
// account.
type SuppliersSink struct{}

func (SuppliersSink) Stream() string { return "Suppliers" }

func (s SuppliersSink) MapRecord(record Record, rc RecordContext) (Payload, error) {
	name, hasName := record.Source.StringForPath("supplierName")
	if !hasName || name == "" {
		name, hasName = record.Source.StringForPath("name")
	}
	if !hasName || name == "" {
		return Payload{}, &MappingError{Stream: s.Stream(), Message: "record has no supplier name"}
	}

	body := map[string]interface{}{
		"Name":       name,
		"IsSupplier": true,
		"Status":     "C", // customer/supplier account status code required by Exact
	}

	if email, ok := record.Source.StringForPath("email"); ok && email != "" {
		body["Email"] = email
	}
	if address, ok := record.Source.StringForPath("address.line1"); ok && address != "" {
		body["AddressLine1"] = address
	}
	if city, ok := record.Source.StringForPath("address.city"); ok && city != "" {
		body["City"] = city
	}
	if postcode, ok := record.Source.StringForPath("address.postcode"); ok && postcode != "" {
		body["Postcode"] = postcode
	}

	// Exact wants an ISO alpha-2 country code; upstream records carry
	// full names or alpha-3 codes interchangeably.
	countryCode := ""
	if country, ok := record.Source.StringForPath("address.country"); ok && country != "" {
		if c := countries.ByName(country); c != countries.Unknown {
			countryCode = c.Alpha2()
			body["Country"] = countryCode
		} else {
			log.Printf("%s: unrecognized country %q dropped", s.Stream(), country)
		}
	}

	if phone, ok := record.Source.StringForPath("phone"); ok && phone != "" {
		body["Phone"] = normalizePhone(phone, countryCode)
	}

	payload := Payload{
		Endpoint: "/crm/Accounts",
		IDField:  "ID",
		Body:     body,
	}
	payload.RemoteID, _ = record.Source.StringForPath("supplier_remoteId")
	return payload, nil
}

func (s SuppliersSink) Upsert(payload Payload, rc RecordContext) (UpsertResult, error) {
	if payload.RemoteID == "" {
		name, _ := payload.Body["Name"].(string)
		filter := fmt.Sprintf("Name eq %s", ODataQuote(name))
		id, found, err := LookupEntityID(rc, payload.Endpoint, filter, payload.IDField)
		if err != nil {
			return UpsertResult{}, err
		}
		if found {
			log.Printf("%s matched existing account %s for %q", s.Stream(), id, name)
			return UpsertResult{
				RemoteID: id,
				Success:  true,
				Extra:    map[string]interface{}{"existing": true},
			}, nil
		}
	}
	return CreateEntity(payload, rc, s.Stream())
}

// normalizePhone renders a phone number in E.164 using the supplier's
// country as the parsing region. Unparseable numbers pass through
// unchanged rather than blocking the record.
func normalizePhone(number string, region string) string {
	if region == "" {
		region = "US"
	}
	parsed, err := libphonenumber.Parse(number, region)
	if err != nil {
		log.Printf("Warning: failed to parse phone number %q with region %q: %v", number, region, err)
		return number
	}
	return libphonenumber.Format(parsed, libphonenumber.E164)
}
