package es

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/mixing-db/mixing/internal/mixing"
)

// BulkResult wraps the response of a bulk call. Failure digestion is
// deferred until a caller actually asks, then memoized, since most bulk
// responses are fully successful and never inspected item by item.
type BulkResult struct {
	response map[string]interface{}

	digested  bool
	digestErr error
	failedIDs map[string]struct{}
	failure   string
}

// NewBulkResult wraps a raw bulk response.
func NewBulkResult(response map[string]interface{}) *BulkResult {
	return &BulkResult{response: response}
}

// IsSuccessful determines if all items of the bulk update succeeded. An
// absent response counts as success since the cluster reported no errors.
func (r *BulkResult) IsSuccessful() bool {
	if r.response == nil {
		return true
	}
	hasErrors, ok := r.response["errors"].(bool)
	return !ok || !hasErrors
}

// FailedIDs returns the document ids for which the bulk update failed.
func (r *BulkResult) FailedIDs() (map[string]struct{}, error) {
	if err := r.digest(); err != nil {
		return nil, err
	}
	return r.failedIDs, nil
}

// FailureMessage returns a description of all item failures.
func (r *BulkResult) FailureMessage() (string, error) {
	if err := r.digest(); err != nil {
		return "", err
	}
	return r.failure, nil
}

// Err returns nil if the bulk update fully succeeded and an error
// describing all item failures otherwise.
func (r *BulkResult) Err() error {
	if r.IsSuccessful() {
		return nil
	}
	message, err := r.FailureMessage()
	if err != nil {
		return err
	}
	return &mixing.ProtocolError{Op: "bulk", Detail: message}
}

// itemWrappers are the operation names a bulk response item is keyed by.
var itemWrappers = []string{"index", "create", "update", "delete"}

func (r *BulkResult) digest() error {
	if r.digested {
		return r.digestErr
	}
	r.digested = true
	r.failedIDs = make(map[string]struct{})

	if r.IsSuccessful() {
		return nil
	}

	items, _ := r.response["items"].([]interface{})
	var messages []string
	for _, rawItem := range items {
		item, ok := rawItem.(map[string]interface{})
		if !ok {
			continue
		}
		inner, err := unwrapItem(item)
		if err != nil {
			r.digestErr = err
			return err
		}
		itemError, ok := inner["error"].(map[string]interface{})
		if !ok {
			continue
		}
		if id, ok := inner["_id"].(string); ok {
			r.failedIDs[id] = struct{}{}
		}
		messages = append(messages, describeItemError(inner, itemError))
	}
	r.failure = strings.Join(messages, "\n")
	return nil
}

// unwrapItem resolves the single operation wrapper of a bulk item.
func unwrapItem(item map[string]interface{}) (map[string]interface{}, error) {
	for _, wrapper := range itemWrappers {
		if inner, ok := item[wrapper].(map[string]interface{}); ok {
			return inner, nil
		}
	}
	return nil, &mixing.ProtocolError{Op: "bulk", Detail: fmt.Sprintf("unknown item wrapper in %v", item)}
}

func describeItemError(inner, itemError map[string]interface{}) string {
	message := fmt.Sprintf("index: %v type: %v reason: %v",
		inner["_index"], itemError["type"], itemError["reason"])
	if cause, ok := itemError["caused_by"].(map[string]interface{}); ok {
		message += fmt.Sprintf(" cause: %v %v", cause["type"], cause["reason"])
	}
	return message
}

// BulkContext batches index, create, update and delete commands into a
// single bulk call. It is not safe for concurrent use.
type BulkContext struct {
	client *LowLevelClient
	buffer bytes.Buffer
	err    error
}

// StartBulk opens a new bulk batch.
func (c *LowLevelClient) StartBulk() *BulkContext {
	return &BulkContext{client: c}
}

// Index queues an index command for the given document.
func (b *BulkContext) Index(index, id, routing string, version int64, document map[string]interface{}) *BulkContext {
	command := map[string]interface{}{"_index": index, "_id": id}
	if routing != "" {
		command["routing"] = routing
	}
	if version > 0 {
		command["version"] = version
		command["version_type"] = "external"
	}
	b.appendCommand("index", command, document)
	return b
}

// Create queues a create command, which fails on the server if a document
// with the given id already exists.
func (b *BulkContext) Create(index, id, routing string, document map[string]interface{}) *BulkContext {
	command := map[string]interface{}{"_index": index, "_id": id}
	if routing != "" {
		command["routing"] = routing
	}
	b.appendCommand("create", command, document)
	return b
}

// Update queues a partial update merging the given fields into the stored
// document.
func (b *BulkContext) Update(index, id, routing string, fields map[string]interface{}) *BulkContext {
	command := map[string]interface{}{"_index": index, "_id": id}
	if routing != "" {
		command["routing"] = routing
	}
	b.appendCommand("update", command, map[string]interface{}{"doc": fields})
	return b
}

// Delete queues a delete command for the given document.
func (b *BulkContext) Delete(index, id, routing string) *BulkContext {
	command := map[string]interface{}{"_index": index, "_id": id}
	if routing != "" {
		command["routing"] = routing
	}
	b.appendCommand("delete", command, nil)
	return b
}

func (b *BulkContext) appendCommand(operation string, command, document map[string]interface{}) {
	if b.err != nil {
		return
	}
	line, err := json.Marshal(map[string]interface{}{operation: command})
	if err != nil {
		b.err = err
		return
	}
	b.buffer.Write(line)
	b.buffer.WriteByte('\n')

	if document != nil {
		line, err = json.Marshal(document)
		if err != nil {
			b.err = err
			return
		}
		b.buffer.Write(line)
		b.buffer.WriteByte('\n')
	}
}

// Commit sends the batch. An empty batch is a no-op reported as success.
func (b *BulkContext) Commit(ctx context.Context) (*BulkResult, error) {
	if b.err != nil {
		return nil, &mixing.ProtocolError{Op: "bulk", Detail: b.err.Error()}
	}
	if b.buffer.Len() == 0 {
		return NewBulkResult(nil), nil
	}
	return b.client.Bulk(ctx, b.buffer.Bytes())
}
