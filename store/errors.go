package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ResponseError is an error status returned by the cluster.
type ResponseError struct {
	Status int
	ErrorCause
	// Body is the raw response when it could not be parsed.
	Body string
}

func (e *ResponseError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("elasticsearch error [%d %s]: %s: %s", e.Status, http.StatusText(e.Status), e.Type, e.Reason)
	}
	return fmt.Sprintf("elasticsearch error [%d %s]: %s", e.Status, http.StatusText(e.Status), e.Body)
}

// Transient reports whether retrying the same request may succeed.
func (e *ResponseError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// checkResponse checks an Elasticsearch API response for errors.
func checkResponse(res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}

	body, _ := io.ReadAll(res.Body)
	return parseResponseError(res.StatusCode, body)
}

func parseResponseError(status int, body []byte) *ResponseError {
	e := &ResponseError{Status: status}

	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Error) > 0 {
		var cause ErrorCause
		if err := json.Unmarshal(payload.Error, &cause); err == nil && cause.Type != "" {
			e.ErrorCause = cause
			return e
		}
		var reason string
		if err := json.Unmarshal(payload.Error, &reason); err == nil {
			e.Reason = reason
			e.Body = reason
			return e
		}
	}

	e.Body = string(body)
	return e
}

// IsNotFound reports a 404 from the cluster.
func IsNotFound(err error) bool {
	var re *ResponseError
	return errors.As(err, &re) && re.Status == http.StatusNotFound
}

// IsAlreadyExists reports an attempt to create an index that exists, for
// example because a concurrent delete has not finished.
func IsAlreadyExists(err error) bool {
	var re *ResponseError
	return errors.As(err, &re) && re.Type == "resource_already_exists_exception"
}

// IsSnapshotInProgress reports a delete refused because the index is being
// snapshotted.
func IsSnapshotInProgress(err error) bool {
	var re *ResponseError
	if !errors.As(err, &re) {
		return false
	}
	return re.Type == "snapshot_in_progress_exception" ||
		strings.Contains(re.Reason, "being snapshotted") ||
		strings.Contains(re.Body, "being snapshotted")
}

// IsTransient reports whether err may go away on retry: transport failures,
// throttling and server errors. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Transient()
	}
	return true
}
