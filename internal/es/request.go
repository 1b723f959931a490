package es

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mixing-db/mixing/internal/mixing"
)

// requestTimeout bounds a single round trip to the search cluster.
const requestTimeout = 30 * time.Second

// RequestBuilder assembles and executes one HTTP call against the search
// cluster. A builder is obtained from the client for a specific verb,
// configured fluently and fired via execute.
type RequestBuilder struct {
	client *LowLevelClient
	method string

	params url.Values

	body    interface{}
	rawBody []byte

	response map[string]interface{}

	// customErrorHandler may inspect a non-2xx response and turn it into a
	// regular response (returning true) instead of an error.
	customErrorHandler func(status int, data map[string]interface{}) bool
}

func newRequestBuilder(client *LowLevelClient, method string) *RequestBuilder {
	return &RequestBuilder{
		client: client,
		method: method,
		params: url.Values{},
	}
}

// WithParam adds a query string parameter.
func (rb *RequestBuilder) WithParam(name, value string) *RequestBuilder {
	if value != "" {
		rb.params.Set(name, value)
	}
	return rb
}

// WithRouting sets the routing parameter which pins the request to the
// shard derived from the given value.
func (rb *RequestBuilder) WithRouting(routing string) *RequestBuilder {
	return rb.WithParam("routing", routing)
}

// WithVersion enables external version based optimistic locking for
// writes.
func (rb *RequestBuilder) WithVersion(version int64) *RequestBuilder {
	if version > 0 {
		rb.params.Set("version", strconv.FormatInt(version, 10))
		rb.params.Set("version_type", "external")
	}
	return rb
}

// WithRefresh requests that the write becomes visible to searches before
// the call returns.
func (rb *RequestBuilder) WithRefresh() *RequestBuilder {
	return rb.WithParam("refresh", "true")
}

// WithJSONBody sets a body which is serialized as JSON.
func (rb *RequestBuilder) WithJSONBody(body interface{}) *RequestBuilder {
	rb.body = body
	return rb
}

// WithRawBody sets a pre-rendered body, used for NDJSON bulk payloads.
func (rb *RequestBuilder) WithRawBody(body []byte) *RequestBuilder {
	rb.rawBody = body
	return rb
}

// WithCustomErrorHandler installs a handler consulted for non-2xx
// responses before they are turned into errors.
func (rb *RequestBuilder) WithCustomErrorHandler(handler func(status int, data map[string]interface{}) bool) *RequestBuilder {
	rb.customErrorHandler = handler
	return rb
}

// Response returns the parsed response after a successful execute.
func (rb *RequestBuilder) Response() map[string]interface{} {
	return rb.response
}

// execute performs the call against the given uri (path and query below
// the cluster address). The call duration feeds the client metrics; calls
// above the slow threshold are counted and logged.
func (rb *RequestBuilder) execute(ctx context.Context, uri string) error {
	start := time.Now()
	err := rb.perform(ctx, uri)
	duration := time.Since(start)

	rb.client.callDuration.AddDuration(duration)
	if duration > rb.client.slowThreshold {
		rb.client.slowQueries.Inc()
		rb.client.log.Warn("slow query against search cluster",
			zap.String("method", rb.method),
			zap.String("uri", uri),
			zap.ByteString("body", rb.payload()),
			zap.Duration("duration", duration),
			zap.Duration("threshold", rb.client.slowThreshold),
			zap.StackSkip("caller", 2))
	}
	return err
}

// payload renders the request body for the slow-query log.
func (rb *RequestBuilder) payload() []byte {
	if rb.rawBody != nil {
		return rb.rawBody
	}
	if rb.body == nil {
		return nil
	}
	data, err := json.Marshal(rb.body)
	if err != nil {
		return []byte(err.Error())
	}
	return data
}

func (rb *RequestBuilder) perform(ctx context.Context, uri string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	target := rb.client.host + uri
	if len(rb.params) > 0 {
		target += "?" + rb.params.Encode()
	}

	var body io.Reader
	contentType := "application/json"
	if rb.rawBody != nil {
		body = bytes.NewReader(rb.rawBody)
		contentType = "application/x-ndjson"
	} else if rb.body != nil {
		data, err := json.Marshal(rb.body)
		if err != nil {
			return &mixing.ProtocolError{Op: rb.method + " " + uri, Detail: err.Error()}
		}
		body = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, rb.method, target, body)
	if err != nil {
		return &mixing.TransportError{Op: rb.method + " " + uri, Cause: err}
	}
	if body != nil {
		request.Header.Set("Content-Type", contentType)
	}

	response, err := rb.client.httpClient.Do(request)
	if err != nil {
		return &mixing.TransportError{Op: rb.method + " " + uri, Cause: err}
	}
	defer response.Body.Close()

	// HEAD probes carry no body, only a status.
	if rb.method == http.MethodHead {
		rb.response = map[string]interface{}{"found": response.StatusCode < 300}
		if response.StatusCode >= 300 && response.StatusCode != http.StatusNotFound {
			return &mixing.ProtocolError{
				Op:     rb.method + " " + uri,
				Detail: fmt.Sprintf("unexpected status %d", response.StatusCode),
			}
		}
		return nil
	}

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return &mixing.TransportError{Op: rb.method + " " + uri, Cause: err}
	}

	var parsed map[string]interface{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &parsed); err != nil {
			return &mixing.ProtocolError{Op: rb.method + " " + uri, Detail: "invalid JSON response: " + err.Error()}
		}
	}
	rb.response = parsed

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	if rb.customErrorHandler != nil && rb.customErrorHandler(response.StatusCode, parsed) {
		return nil
	}
	if response.StatusCode == http.StatusConflict {
		return &mixing.OptimisticLockError{Reason: extractErrorReason(parsed)}
	}
	return &mixing.ProtocolError{
		Op:     rb.method + " " + uri,
		Detail: fmt.Sprintf("status %d: %s", response.StatusCode, extractErrorReason(parsed)),
	}
}

// extractErrorReason digs the human readable reason out of an error
// response ({"error": {"reason": ...}}); the raw error is used if the
// structure is unexpected.
func extractErrorReason(response map[string]interface{}) string {
	if response == nil {
		return "no error description provided"
	}
	switch errValue := response["error"].(type) {
	case map[string]interface{}:
		if reason, ok := errValue["reason"].(string); ok && reason != "" {
			return reason
		}
	case string:
		if errValue != "" {
			return errValue
		}
	}
	return fmt.Sprintf("%v", response["error"])
}
