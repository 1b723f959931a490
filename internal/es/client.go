package es

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mixing-db/mixing/internal/mixing"
)

// defaultSlowThreshold marks a call as slow when it takes longer.
const defaultSlowThreshold = 500 * time.Millisecond

// LowLevelClient talks to the search cluster on the REST level. It knows
// URIs and verbs but nothing about entities; the mapper sits on top.
type LowLevelClient struct {
	host       string
	httpClient *http.Client
	log        *zap.Logger

	slowThreshold time.Duration
	callDuration  *Average
	slowQueries   *Counter
}

// ClientOption customizes a low-level client.
type ClientOption func(*LowLevelClient)

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *LowLevelClient) {
		c.httpClient = httpClient
	}
}

// WithSlowThreshold overrides the slow-query threshold.
func WithSlowThreshold(threshold time.Duration) ClientOption {
	return func(c *LowLevelClient) {
		c.slowThreshold = threshold
	}
}

// NewLowLevelClient creates a client for the cluster at the given host
// (scheme and address, no trailing slash).
func NewLowLevelClient(host string, log *zap.Logger, options ...ClientOption) *LowLevelClient {
	if log == nil {
		log = zap.NewNop()
	}
	client := &LowLevelClient{
		host:          strings.TrimSuffix(host, "/"),
		httpClient:    &http.Client{},
		log:           log,
		slowThreshold: defaultSlowThreshold,
		callDuration:  NewAverage(256),
		slowQueries:   &Counter{},
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// CallDuration exposes the rolling average call duration in milliseconds.
func (c *LowLevelClient) CallDuration() *Average {
	return c.callDuration
}

// SlowQueries exposes the slow-query counter.
func (c *LowLevelClient) SlowQueries() *Counter {
	return c.slowQueries
}

// PerformGet starts building a GET request.
func (c *LowLevelClient) PerformGet() *RequestBuilder {
	return newRequestBuilder(c, http.MethodGet)
}

// PerformPost starts building a POST request.
func (c *LowLevelClient) PerformPost() *RequestBuilder {
	return newRequestBuilder(c, http.MethodPost)
}

// PerformPut starts building a PUT request.
func (c *LowLevelClient) PerformPut() *RequestBuilder {
	return newRequestBuilder(c, http.MethodPut)
}

// PerformDelete starts building a DELETE request.
func (c *LowLevelClient) PerformDelete() *RequestBuilder {
	return newRequestBuilder(c, http.MethodDelete)
}

// PerformHead starts building a HEAD request.
func (c *LowLevelClient) PerformHead() *RequestBuilder {
	return newRequestBuilder(c, http.MethodHead)
}

// Index stores a document under the given id. A version above zero
// enables external optimistic locking; routing pins the target shard.
func (c *LowLevelClient) Index(ctx context.Context, index, id, routing string, version int64, document map[string]interface{}) (map[string]interface{}, error) {
	rb := c.PerformPut().
		WithRouting(routing).
		WithVersion(version).
		WithJSONBody(document)
	if err := rb.execute(ctx, "/"+index+"/_doc/"+url.PathEscape(id)); err != nil {
		return nil, err
	}
	return rb.Response(), nil
}

// Get fetches a document by id. A missing document is reported via the
// bool result rather than as an error.
func (c *LowLevelClient) Get(ctx context.Context, index, id, routing string) (map[string]interface{}, bool, error) {
	rb := c.PerformGet().
		WithRouting(routing).
		WithCustomErrorHandler(func(status int, data map[string]interface{}) bool {
			return status == http.StatusNotFound
		})
	if err := rb.execute(ctx, "/"+index+"/_doc/"+url.PathEscape(id)); err != nil {
		return nil, false, err
	}
	response := rb.Response()
	if found, ok := response["found"].(bool); !ok || !found {
		return nil, false, nil
	}
	return response, true, nil
}

// Delete removes a document by id. Deleting a missing document is not an
// error.
func (c *LowLevelClient) Delete(ctx context.Context, index, id, routing string, version int64) error {
	rb := c.PerformDelete().
		WithRouting(routing).
		WithVersion(version).
		WithCustomErrorHandler(func(status int, data map[string]interface{}) bool {
			return status == http.StatusNotFound
		})
	return rb.execute(ctx, "/"+index+"/_doc/"+url.PathEscape(id))
}

// DeleteByQuery removes all documents matching the given query.
func (c *LowLevelClient) DeleteByQuery(ctx context.Context, index, routing string, query map[string]interface{}) (map[string]interface{}, error) {
	rb := c.PerformPost().
		WithRouting(routing).
		WithParam("conflicts", "proceed").
		WithJSONBody(query)
	if err := rb.execute(ctx, "/"+index+"/_delete_by_query"); err != nil {
		return nil, err
	}
	return rb.Response(), nil
}

// UpdateByQuery applies a scripted update to all documents matching the
// given query.
func (c *LowLevelClient) UpdateByQuery(ctx context.Context, index, routing string, body map[string]interface{}) (map[string]interface{}, error) {
	rb := c.PerformPost().
		WithRouting(routing).
		WithParam("conflicts", "proceed").
		WithJSONBody(body)
	if err := rb.execute(ctx, "/"+index+"/_update_by_query"); err != nil {
		return nil, err
	}
	return rb.Response(), nil
}

// Search runs a query against one or more indices.
func (c *LowLevelClient) Search(ctx context.Context, indices, routing string, query map[string]interface{}) (map[string]interface{}, error) {
	rb := c.PerformPost().
		WithRouting(routing).
		WithJSONBody(query)
	if err := rb.execute(ctx, "/"+indices+"/_search"); err != nil {
		return nil, err
	}
	return rb.Response(), nil
}

// Count returns the number of documents matching the given query.
func (c *LowLevelClient) Count(ctx context.Context, indices, routing string, query map[string]interface{}) (int64, error) {
	rb := c.PerformPost().
		WithRouting(routing).
		WithJSONBody(query)
	if err := rb.execute(ctx, "/"+indices+"/_count"); err != nil {
		return 0, err
	}
	count, ok := rb.Response()["count"].(float64)
	if !ok {
		return 0, &mixing.ProtocolError{Op: "count", Detail: "response contains no count"}
	}
	return int64(count), nil
}

// Exists determines if at least one document matches the given query.
func (c *LowLevelClient) Exists(ctx context.Context, indices, routing string, query map[string]interface{}) (bool, error) {
	count, err := c.Count(ctx, indices, routing, query)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Bulk sends a pre-rendered NDJSON bulk payload.
func (c *LowLevelClient) Bulk(ctx context.Context, payload []byte) (*BulkResult, error) {
	rb := c.PerformPost().WithRawBody(payload)
	if err := rb.execute(ctx, "/_bulk"); err != nil {
		return nil, err
	}
	return NewBulkResult(rb.Response()), nil
}

// CreateIndex creates an index with the given settings and mappings.
func (c *LowLevelClient) CreateIndex(ctx context.Context, index string, body map[string]interface{}) error {
	return c.PerformPut().WithJSONBody(body).execute(ctx, "/"+index)
}

// PutMapping installs a field mapping on an existing index.
func (c *LowLevelClient) PutMapping(ctx context.Context, index string, mapping map[string]interface{}) error {
	return c.PerformPut().WithJSONBody(mapping).execute(ctx, "/"+index+"/_mapping")
}

// Refresh makes all pending writes of the given index visible to
// searches.
func (c *LowLevelClient) Refresh(ctx context.Context, index string) error {
	return c.PerformPost().execute(ctx, "/"+index+"/_refresh")
}

// IndexExists determines if the given index exists.
func (c *LowLevelClient) IndexExists(ctx context.Context, index string) (bool, error) {
	rb := c.PerformHead()
	if err := rb.execute(ctx, "/"+index); err != nil {
		return false, err
	}
	found, _ := rb.Response()["found"].(bool)
	return found, nil
}

// AliasExists determines if the given alias exists.
func (c *LowLevelClient) AliasExists(ctx context.Context, alias string) (bool, error) {
	rb := c.PerformHead()
	if err := rb.execute(ctx, "/_alias/"+alias); err != nil {
		return false, err
	}
	found, _ := rb.Response()["found"].(bool)
	return found, nil
}

// AddAlias points the given alias at the given index, keeping any other
// indices the alias already covers.
func (c *LowLevelClient) AddAlias(ctx context.Context, index, alias string) error {
	body := map[string]interface{}{
		"actions": []interface{}{
			map[string]interface{}{
				"add": map[string]interface{}{"index": index, "alias": alias},
			},
		},
	}
	return c.PerformPost().WithJSONBody(body).execute(ctx, "/_aliases")
}

// IndicesForAlias lists the indices currently backing the given alias.
func (c *LowLevelClient) IndicesForAlias(ctx context.Context, alias string) ([]string, error) {
	rb := c.PerformGet().
		WithCustomErrorHandler(func(status int, data map[string]interface{}) bool {
			return status == http.StatusNotFound
		})
	if err := rb.execute(ctx, "/_alias/"+alias); err != nil {
		return nil, err
	}

	var indices []string
	for index, value := range rb.Response() {
		if index == "error" || index == "status" {
			continue
		}
		if _, ok := value.(map[string]interface{}); ok {
			indices = append(indices, index)
		}
	}
	return indices, nil
}

// MoveActiveAlias atomically repoints the alias from its single current
// backing index to the given destination. The destination index must
// exist, and the move is refused unless exactly one index currently backs
// the alias, since an alias spread over several indices indicates an
// unfinished previous move.
func (c *LowLevelClient) MoveActiveAlias(ctx context.Context, alias, destination string) (string, error) {
	exists, err := c.IndexExists(ctx, destination)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", &mixing.ProtocolError{
			Op:     "move alias " + alias,
			Detail: fmt.Sprintf("destination index '%s' does not exist", destination),
		}
	}

	current, err := c.IndicesForAlias(ctx, alias)
	if err != nil {
		return "", err
	}
	if len(current) != 1 {
		return "", &mixing.ProtocolError{
			Op: "move alias " + alias,
			Detail: fmt.Sprintf("expected exactly one index behind alias, found %d (%s)",
				len(current), strings.Join(current, ", ")),
		}
	}

	body := map[string]interface{}{
		"actions": []interface{}{
			map[string]interface{}{
				"remove": map[string]interface{}{"index": current[0], "alias": alias},
			},
			map[string]interface{}{
				"add": map[string]interface{}{"index": destination, "alias": alias},
			},
		},
	}
	if err := c.PerformPost().WithJSONBody(body).execute(ctx, "/_aliases"); err != nil {
		return "", err
	}
	return current[0], nil
}

// Reindex copies all documents from one index into another.
func (c *LowLevelClient) Reindex(ctx context.Context, source, destination string) (map[string]interface{}, error) {
	body := map[string]interface{}{
		"source": map[string]interface{}{"index": source},
		"dest":   map[string]interface{}{"index": destination},
	}
	rb := c.PerformPost().
		WithParam("wait_for_completion", "true").
		WithJSONBody(body)
	if err := rb.execute(ctx, "/_reindex"); err != nil {
		return nil, err
	}
	return rb.Response(), nil
}

// CreateScroll opens a scroll cursor over all documents matching the
// given query.
func (c *LowLevelClient) CreateScroll(ctx context.Context, indices, routing string, ttlMinutes int, query map[string]interface{}) (map[string]interface{}, error) {
	rb := c.PerformPost().
		WithRouting(routing).
		WithParam("scroll", fmt.Sprintf("%dm", ttlMinutes)).
		WithJSONBody(query)
	if err := rb.execute(ctx, "/"+indices+"/_search"); err != nil {
		return nil, err
	}
	return rb.Response(), nil
}

// ContinueScroll fetches the next batch of a scroll cursor.
func (c *LowLevelClient) ContinueScroll(ctx context.Context, scrollID string, ttlMinutes int) (map[string]interface{}, error) {
	body := map[string]interface{}{
		"scroll":    fmt.Sprintf("%dm", ttlMinutes),
		"scroll_id": scrollID,
	}
	rb := c.PerformPost().WithJSONBody(body)
	if err := rb.execute(ctx, "/_search/scroll"); err != nil {
		return nil, err
	}
	return rb.Response(), nil
}

// CloseScroll releases a scroll cursor.
func (c *LowLevelClient) CloseScroll(ctx context.Context, scrollID string) error {
	body := map[string]interface{}{"scroll_id": scrollID}
	return c.PerformDelete().WithJSONBody(body).execute(ctx, "/_search/scroll")
}
