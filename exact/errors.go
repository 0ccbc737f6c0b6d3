package exact

import "fmt"

// RetriableError is returned for responses that are worth retrying:
// HTTP 429, any 5xx, or a network read timeout. The Client retries these
// with exponential backoff before surfacing the last one to the caller.
type RetriableError struct {
	Status  int
	Message string
}

func (e *RetriableError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("retriable: %s", e.Message)
	}
	return fmt.Sprintf("retriable: status=%d message=%s", e.Status, e.Message)
}

// FatalError is returned for HTTP 4xx responses other than 429.
// These are never retried. Message carries the decoded XML error
// message when one was present in the response body.
type FatalError struct {
	Status  int
	Message string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: status=%d message=%s", e.Status, e.Message)
}

// AuthError indicates the token exchange or refresh failed and the
// credential itself is unusable. It halts processing for every
// subsequent record sharing the same token context.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s", e.Message)
}

// MappingError indicates a sink could not translate a record into a
// remote payload (missing related entity, invalid field, business-rule
// violation). Terminal for that record only.
type MappingError struct {
	Stream  string
	Message string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %s: %s", e.Stream, e.Message)
}

// SkipRecord is returned by a sink's mapper when the record carries no
// valid payload (e.g. a required nested list is absent). The processor
// commits a failed outcome with the skip reason without calling the
// upserter, so the same content is not retried on reprocessing.
type SkipRecord struct {
	Reason string
}

func (e *SkipRecord) Error() string {
	return fmt.Sprintf("skip: %s", e.Reason)
}
