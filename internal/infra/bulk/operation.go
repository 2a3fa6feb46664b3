package bulk

import (
	"encoding/json"
	"fmt"
)

// OpType distinguishes the two operation variants.
type OpType string

const (
	OpIndex  OpType = "index"
	OpDelete OpType = "delete"
)

// Operation is an index or delete request for a single document.
type Operation struct {
	Type     OpType
	Index    string
	ID       string
	Pipeline string
	// Document is the encoded body of an index operation.
	Document json.RawMessage
}

// IndexOp builds an index operation.
func IndexOp(index, id, pipeline string, doc json.RawMessage) Operation {
	return Operation{Type: OpIndex, Index: index, ID: id, Pipeline: pipeline, Document: doc}
}

// DeleteOp builds a delete operation.
func DeleteOp(index, id string) Operation {
	return Operation{Type: OpDelete, Index: index, ID: id}
}

func (o Operation) String() string { return fmt.Sprintf("%s %s/%s", o.Type, o.Index, o.ID) }

// Request is an ordered batch of operations.
type Request struct {
	Operations []Operation
}

// ResponseItem is the outcome of one operation.
type ResponseItem struct {
	Success bool
	Version int64
	Status  int
	Failure string
}

// Response holds one item per request operation, in request order.
type Response struct {
	Items []ResponseItem
}

// HasFailures reports whether any item failed.
func (r Response) HasFailures() bool {
	for _, it := range r.Items {
		if !it.Success {
			return true
		}
	}
	return false
}

// operationOverhead approximates the action line of an operation.
const operationOverhead = 64

// OperationCodec is the Codec for Operation batches.
type OperationCodec struct{}

var _ Codec[Operation, Request, Response] = OperationCodec{}

// Size implements Codec.
func (OperationCodec) Size(op Operation) int {
	return operationOverhead + len(op.Index) + len(op.ID) + len(op.Pipeline) + len(op.Document)
}

// Request implements Codec.
func (OperationCodec) Request(ops []Operation) Request { return Request{Operations: ops} }

// Failure implements Codec.
func (OperationCodec) Failure(ops []Operation, err error) Response {
	items := make([]ResponseItem, len(ops))
	for i := range items {
		items[i] = ResponseItem{Failure: err.Error()}
	}
	return Response{Items: items}
}

// Failed implements Codec.
func (OperationCodec) Failed(resp Response) int {
	n := 0
	for _, it := range resp.Items {
		if !it.Success {
			n++
		}
	}
	return n
}

// OperationEngine batches plain operations.
type OperationEngine = Engine[Operation, Request, Response]
