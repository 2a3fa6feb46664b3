package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/internal/infra/bulk"
)

// ErrIndexExists is returned by a strict CreateIndex when the index exists.
var ErrIndexExists = errors.New("index already exists")

var (
	_ bulk.Transport[bulk.Request, bulk.Response] = (*Client)(nil)
	_ crawl.PriorLookup                           = (*Client)(nil)
)

type actionMeta struct {
	Index    string `json:"_index"`
	ID       string `json:"_id"`
	Pipeline string `json:"pipeline,omitempty"`
}

type bulkItemResult struct {
	ID      string `json:"_id"`
	Status  int    `json:"status"`
	Version int64  `json:"_version"`
	Result  string `json:"result"`
	Error   *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

type bulkResponseBody struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

// Bulk sends req as one _bulk call. Per-item failures are reported in the
// response; an error means no item outcome is known.
func (c *Client) Bulk(ctx context.Context, req bulk.Request) (bulk.Response, error) {
	ctx, span := c.tracer.Start(ctx, "elastic_client.bulk",
		trace.WithAttributes(attribute.Int("operations", len(req.Operations))))
	defer span.End()

	body, err := encodeBulk(req.Operations)
	if err != nil {
		span.RecordError(err)
		return bulk.Response{}, err
	}

	resp, err := c.perform(ctx, http.MethodPost, "/_bulk", body, "application/x-ndjson")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bulk call failed")
		return bulk.Response{}, fmt.Errorf("bulk request: %w", err)
	}
	if resp.status >= 300 {
		rerr := responseError(resp)
		span.RecordError(rerr)
		span.SetStatus(codes.Error, "bulk call rejected")
		return bulk.Response{}, fmt.Errorf("bulk request: %w", rerr)
	}

	out, err := decodeBulk(resp.body, req.Operations)
	if err != nil {
		span.RecordError(err)
		return bulk.Response{}, err
	}
	return out, nil
}

func encodeBulk(ops []bulk.Operation) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, op := range ops {
		meta := actionMeta{Index: op.Index, ID: op.ID, Pipeline: op.Pipeline}
		if op.Type == bulk.OpDelete {
			meta.Pipeline = ""
		}
		if err := enc.Encode(map[bulk.OpType]actionMeta{op.Type: meta}); err != nil {
			return nil, fmt.Errorf("encoding action for %s: %w", op, err)
		}
		if op.Type == bulk.OpIndex {
			var line bytes.Buffer
			if err := json.Compact(&line, op.Document); err != nil {
				return nil, fmt.Errorf("encoding %s: %w", op, err)
			}
			buf.Write(line.Bytes())
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

func decodeBulk(data []byte, ops []bulk.Operation) (bulk.Response, error) {
	var body bulkResponseBody
	if err := json.Unmarshal(data, &body); err != nil {
		return bulk.Response{}, fmt.Errorf("decoding bulk response: %w", err)
	}
	if len(body.Items) != len(ops) {
		return bulk.Response{}, fmt.Errorf("bulk response has %d items for %d operations", len(body.Items), len(ops))
	}

	items := make([]bulk.ResponseItem, len(ops))
	for i, raw := range body.Items {
		var res bulkItemResult
		for _, v := range raw {
			res = v
		}
		item := bulk.ResponseItem{Status: res.Status, Version: res.Version}
		switch {
		case res.Error != nil:
			item.Failure = res.Error.Type + ": " + res.Error.Reason
		case ops[i].Type == bulk.OpDelete && res.Status == http.StatusNotFound:
			item.Success = true
		case res.Status >= 200 && res.Status < 300:
			item.Success = true
		default:
			item.Failure = fmt.Sprintf("status %d", res.Status)
		}
		items[i] = item
	}
	return bulk.Response{Items: items}, nil
}

// EnsurePipeline fails with *PipelineNotFoundError when name is not an
// ingest pipeline of the cluster.
func (c *Client) EnsurePipeline(ctx context.Context, name string) error {
	ctx, span := c.tracer.Start(ctx, "elastic_client.ensure_pipeline",
		trace.WithAttributes(attribute.String("pipeline", name)))
	defer span.End()

	resp, err := c.perform(ctx, http.MethodGet, "/_ingest/pipeline/"+url.PathEscape(name), nil, "")
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("checking pipeline %s: %w", name, err)
	}
	switch {
	case resp.status == http.StatusNotFound:
		err := &PipelineNotFoundError{Name: name}
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline missing")
		return err
	case resp.status >= 300:
		return fmt.Errorf("checking pipeline %s: %w", name, responseError(resp))
	}
	return nil
}

// CreateIndex creates index with the given body. An existing index is
// success unless strict is set, in which case ErrIndexExists is returned.
func (c *Client) CreateIndex(ctx context.Context, index string, body json.RawMessage, strict bool) error {
	ctx, span := c.tracer.Start(ctx, "elastic_client.create_index",
		trace.WithAttributes(
			attribute.String("index", index),
			attribute.Bool("strict", strict),
		))
	defer span.End()

	resp, err := c.perform(ctx, http.MethodPut, "/"+url.PathEscape(index), body, "application/json")
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("creating index %s: %w", index, err)
	}
	if resp.status < 300 {
		c.logger.Info(ctx, "index created", "index", index)
		return nil
	}

	rerr := responseError(resp)
	if rerr.Type == "resource_already_exists_exception" {
		if strict {
			return fmt.Errorf("creating index %s: %w", index, ErrIndexExists)
		}
		return nil
	}
	span.RecordError(rerr)
	return fmt.Errorf("creating index %s: %w", index, rerr)
}

// PutIndexTemplate creates or replaces a composable index template.
func (c *Client) PutIndexTemplate(ctx context.Context, name string, body json.RawMessage) error {
	ctx, span := c.tracer.Start(ctx, "elastic_client.put_index_template",
		trace.WithAttributes(attribute.String("template", name)))
	defer span.End()

	resp, err := c.perform(ctx, http.MethodPut, "/_index_template/"+url.PathEscape(name), body, "application/json")
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("putting template %s: %w", name, err)
	}
	if resp.status >= 300 {
		return fmt.Errorf("putting template %s: %w", name, responseError(resp))
	}
	return nil
}

const lookupPageSize = 1000

type searchHit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
	Sort   []any           `json:"sort"`
}

type searchBody struct {
	Hits struct {
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

type hitSource struct {
	File *struct {
		Filesize     *int64    `json:"filesize"`
		LastModified time.Time `json:"last_modified"`
		Checksum     string    `json:"checksum"`
	} `json:"file"`
	Path crawl.PathInfo `json:"path"`
}

// DocumentsInDirectory returns the documents of index whose parent is
// directory. A missing index yields no documents.
func (c *Client) DocumentsInDirectory(ctx context.Context, index, directory string) ([]crawl.DocumentRecord, error) {
	ctx, span := c.tracer.Start(ctx, "elastic_client.documents_in_directory",
		trace.WithAttributes(
			attribute.String("index", index),
			attribute.String("directory", directory),
		))
	defer span.End()

	var (
		out   []crawl.DocumentRecord
		after []any
	)
	for {
		query := map[string]any{
			"size":    lookupPageSize,
			"query":   map[string]any{"term": map[string]any{"path.root": directory}},
			"sort":    []any{map[string]any{"path.virtual": "asc"}},
			"_source": []string{"path.*", "file.filesize", "file.last_modified", "file.checksum"},
		}
		if after != nil {
			query["search_after"] = after
		}
		body, err := json.Marshal(query)
		if err != nil {
			return nil, err
		}

		resp, err := c.perform(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_search", body, "application/json")
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("searching %s: %w", index, err)
		}
		if resp.status == http.StatusNotFound {
			return nil, nil
		}
		if resp.status >= 300 {
			return nil, fmt.Errorf("searching %s: %w", index, responseError(resp))
		}

		var sb searchBody
		if err := json.Unmarshal(resp.body, &sb); err != nil {
			return nil, fmt.Errorf("decoding search response: %w", err)
		}
		for _, hit := range sb.Hits.Hits {
			var src hitSource
			if err := json.Unmarshal(hit.Source, &src); err != nil {
				return nil, fmt.Errorf("decoding hit %s: %w", hit.ID, err)
			}
			rec := crawl.DocumentRecord{
				ID:          hit.ID,
				VirtualPath: src.Path.Virtual,
				Directory:   src.Path.Root,
				Folder:      src.File == nil,
			}
			if src.File != nil {
				rec.LastModified = src.File.LastModified
				rec.Checksum = src.File.Checksum
				if src.File.Filesize != nil {
					rec.Size = *src.File.Filesize
				}
			}
			out = append(out, rec)
		}
		if len(sb.Hits.Hits) < lookupPageSize {
			break
		}
		after = sb.Hits.Hits[len(sb.Hits.Hits)-1].Sort
	}

	span.SetAttributes(attribute.Int("documents", len(out)))
	return out, nil
}
