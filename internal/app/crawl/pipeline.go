package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/internal/domain/delta"
	"github.com/fscrawl/fscrawl/internal/domain/filter"
	"github.com/fscrawl/fscrawl/internal/infra/bulk"
	"github.com/fscrawl/fscrawl/pkg/common/logger"
)

// indexOp is a bulk operation together with the record that becomes true
// once the backend confirms it.
type indexOp struct {
	bulk.Operation
	record crawl.DocumentRecord
}

// opCodec adapts bulk.OperationCodec to indexOp.
type opCodec struct{ inner bulk.OperationCodec }

func (c opCodec) Size(op indexOp) int { return c.inner.Size(op.Operation) }

func (c opCodec) Request(ops []indexOp) bulk.Request {
	req := bulk.Request{Operations: make([]bulk.Operation, len(ops))}
	for i, op := range ops {
		req.Operations[i] = op.Operation
	}
	return req
}

func (c opCodec) Failure(ops []indexOp, err error) bulk.Response {
	return c.inner.Failure(c.Request(ops).Operations, err)
}

func (c opCodec) Failed(resp bulk.Response) int { return c.inner.Failed(resp) }

// Transport sends bulk requests to the index backend.
type Transport = bulk.Transport[bulk.Request, bulk.Response]

type engine = bulk.Engine[indexOp, bulk.Request, bulk.Response]

// pipelineSnapshot is the confirmed state of a scan.
type pipelineSnapshot struct {
	documents map[string]crawl.DocumentRecord
	processed int64
	deleted   int64
	errors    int64
	lastError string
}

// Pipeline classifies walked directories and turns changes into bulk
// operations. Document records only change when the backend confirms an
// operation, so a checkpoint taken after a flush never claims more than
// the index holds.
type Pipeline struct {
	job       *crawl.Job
	source    crawl.InputSource
	extractor crawl.ContentExtractor
	lookup    crawl.PriorLookup
	detector  *delta.Detector
	matcher   *filter.Matcher
	content   *filter.ContentFilter
	engine    *engine
	now       func() time.Time

	mu         sync.Mutex
	records    *delta.RecordSet
	liveLookup bool
	processed  int64
	deleted    int64
	errors     int64
	lastError  string

	onProgress func()
	metrics    Metrics
	logger     *logger.Logger
	tracer     trace.Tracer
}

// PipelineDeps groups the collaborators of a Pipeline.
type PipelineDeps struct {
	Source    crawl.InputSource
	Extractor crawl.ContentExtractor
	// Lookup is optional; it seeds the baseline when the job has never
	// completed a scan and LiveLookup is set.
	Lookup crawl.PriorLookup

	Transport   Transport
	Bulk        bulk.Config
	BulkMetrics bulk.Metrics

	// OnProgress is called after each directory and each confirmed batch.
	OnProgress func()

	Metrics Metrics
	Logger  *logger.Logger
	Tracer  trace.Tracer
}

// NewPipeline builds the pipeline of job and starts its bulk engine.
func NewPipeline(job *crawl.Job, matcher *filter.Matcher, deps PipelineDeps) (*Pipeline, error) {
	content, err := filter.NewContentFilter(job.Filters)
	if err != nil {
		return nil, err
	}
	identity := delta.PathIdentity
	if job.FilenameAsID {
		identity = delta.FilenameIdentity
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	onProgress := deps.OnProgress
	if onProgress == nil {
		onProgress = func() {}
	}

	p := &Pipeline{
		job:        job,
		source:     deps.Source,
		extractor:  deps.Extractor,
		lookup:     deps.Lookup,
		detector:   delta.NewDetector(identity, job.Checksum != "", job.RemoveDeleted),
		matcher:    matcher,
		content:    content,
		now:        func() time.Time { return time.Now().UTC() },
		records:    delta.NewRecordSet(nil),
		onProgress: onProgress,
		metrics:    metrics,
		logger:     deps.Logger.With("component", "pipeline", "job", job.Name),
		tracer:     deps.Tracer,
	}
	var opts []bulk.Option[indexOp, bulk.Request, bulk.Response]
	if deps.BulkMetrics != nil {
		opts = append(opts, bulk.WithMetrics[indexOp, bulk.Request, bulk.Response](deps.BulkMetrics))
	}
	p.engine = bulk.NewEngine[indexOp, bulk.Request, bulk.Response](
		job.Name, deps.Bulk, opCodec{}, deps.Transport, p.handleResults, deps.Logger, deps.Tracer, opts...)
	return p, nil
}

// Begin prepares a new scan from the persisted checkpoint. A forced rescan
// starts without a baseline.
func (p *Pipeline) Begin(cp *crawl.Checkpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cp.ForcedRescan() {
		p.records = delta.NewRecordSet(nil)
	} else {
		docs := make(map[string]crawl.DocumentRecord, len(cp.Documents))
		for id, rec := range cp.Documents {
			rec.Missing = false
			docs[id] = rec
		}
		p.records = delta.NewRecordSet(docs)
	}
	p.liveLookup = p.job.LiveLookup && p.lookup != nil && cp.LastScanEnd == nil
	p.processed, p.deleted, p.errors, p.lastError = 0, 0, 0, ""
}

// Restore continues a scan interrupted by a pause or a restart.
func (p *Pipeline) Restore(cp *crawl.Checkpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.records = delta.NewRecordSet(cp.Documents)
	p.liveLookup = p.job.LiveLookup && p.lookup != nil && cp.LastScanEnd == nil
	p.processed, p.deleted, p.errors, p.lastError = cp.FilesProcessed, cp.FilesDeleted, cp.Errors, cp.LastError
}

func (p *Pipeline) snapshot() pipelineSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return pipelineSnapshot{
		documents: p.records.Records(),
		processed: p.processed,
		deleted:   p.deleted,
		errors:    p.errors,
		lastError: p.lastError,
	}
}

// counters returns the scan counters without copying the records.
func (p *Pipeline) counters() (processed, deleted, errs int64, lastError string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed, p.deleted, p.errors, p.lastError
}

// ProcessDirectory classifies d and submits its operations. gate is checked
// before every operation; its error is returned as is.
func (p *Pipeline) ProcessDirectory(ctx context.Context, d crawl.Directory, gate Gate) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.process_directory",
		trace.WithAttributes(
			attribute.String("directory", d.RealPath),
			attribute.Int("files", len(d.Items)),
		))
	defer span.End()

	if d.Unreadable {
		p.recordError(ctx, fmt.Sprintf("unreadable directory %s", d.RealPath))
		return nil
	}
	for range d.Failures {
		p.recordError(ctx, fmt.Sprintf("unreadable entry in %s", d.RealPath))
	}

	items := make([]crawl.ScanItem, 0, len(d.Items)+len(d.Subdirectories))
	items = append(items, d.Items...)
	if p.job.Checksum != "" {
		for i := range items {
			sum, err := p.checksum(ctx, items[i].RealPath)
			if err != nil {
				p.recordError(ctx, fmt.Sprintf("checksum %s: %v", items[i].RealPath, err))
				continue
			}
			items[i].Checksum = sum
		}
	}
	if p.job.IndexFolders {
		items = append(items, d.Subdirectories...)
	}
	if p.liveLookup {
		p.seed(ctx, d.RealPath)
	}

	p.mu.Lock()
	res := p.detector.Classify(d.RealPath, items, p.records)
	for _, ch := range res.Changes {
		prior, ok := p.records.Lookup(ch.ID)
		if ok && (ch.Relocated || prior.Missing) {
			prior.Directory = d.RealPath
			prior.VirtualPath = ch.Item.VirtualPath
			prior.Missing = false
			p.records.Put(prior)
		}
	}
	for _, rec := range res.Missing {
		rec.Missing = true
		p.records.Put(rec)
	}
	p.processed += int64(len(d.Items))
	p.mu.Unlock()

	counts := res.Counts()
	span.SetAttributes(
		attribute.Int("new", counts[delta.New]),
		attribute.Int("modified", counts[delta.Modified]),
		attribute.Int("deleted", counts[delta.Deleted]),
	)
	p.metrics.IncDirectories(ctx, p.job.Name)
	p.onProgress()

	for _, ch := range res.Changes {
		if !ch.Classification.NeedsIndexing() {
			continue
		}
		if err := gate(ctx); err != nil {
			return err
		}
		op, ok := p.buildIndexOp(ctx, d, ch)
		if !ok {
			continue
		}
		if err := p.engine.Add(ctx, op); err != nil {
			return err
		}
	}

	for _, rec := range res.Deleted {
		if p.excluded(rec) {
			continue
		}
		if err := gate(ctx); err != nil {
			return err
		}
		if err := p.engine.Add(ctx, p.deleteOp(rec)); err != nil {
			return err
		}
	}
	return nil
}

// Finish submits the deletes of a completed scan: records still missing
// and records of directories the scan never reached. Records in or below an
// unreadable directory are kept.
func (p *Pipeline) Finish(ctx context.Context, completed, unreadable []string) error {
	if !p.job.RemoveDeleted {
		return nil
	}
	visited := make(map[string]struct{}, len(completed))
	for _, dir := range completed {
		visited[dir] = struct{}{}
	}

	keep := func(rec crawl.DocumentRecord) bool {
		return p.excluded(rec) || within(rec.Directory, unreadable)
	}

	p.mu.Lock()
	stale := p.records.Stale(visited, keep)
	p.mu.Unlock()

	if len(stale) > 0 {
		p.logger.Info(ctx, "removing documents not seen by the scan", "count", len(stale))
	}
	for _, rec := range stale {
		if err := p.engine.Add(ctx, p.deleteOp(rec)); err != nil {
			return err
		}
	}
	return nil
}

// Flush waits until every submitted operation is confirmed or failed.
func (p *Pipeline) Flush(ctx context.Context) error { return p.engine.Flush(ctx) }

// Close flushes and stops the bulk engine.
func (p *Pipeline) Close(ctx context.Context) error { return p.engine.Close(ctx) }

func (p *Pipeline) handleResults(ctx context.Context, ops []indexOp, resp bulk.Response) {
	var indexed, deleted, failed int

	p.mu.Lock()
	for i, op := range ops {
		if i >= len(resp.Items) || !resp.Items[i].Success {
			failure := "no response"
			if i < len(resp.Items) {
				failure = resp.Items[i].Failure
			}
			p.errors++
			p.lastError = fmt.Sprintf("%s: %s", op.Operation, failure)
			failed++
			continue
		}
		switch op.Type {
		case bulk.OpIndex:
			p.records.Put(op.record)
			indexed++
		case bulk.OpDelete:
			p.records.Remove(op.ID)
			if !op.record.Folder {
				p.deleted++
			}
			deleted++
		}
	}
	p.mu.Unlock()

	p.metrics.AddIndexed(ctx, p.job.Name, indexed)
	p.metrics.AddDeleted(ctx, p.job.Name, deleted)
	if failed > 0 {
		p.metrics.AddErrors(ctx, p.job.Name, failed)
		p.logger.Warn(ctx, "documents rejected by the index", "failed", failed)
	}
	p.onProgress()
}

func (p *Pipeline) recordError(ctx context.Context, msg string) {
	p.mu.Lock()
	p.errors++
	p.lastError = msg
	p.mu.Unlock()

	p.metrics.AddErrors(ctx, p.job.Name, 1)
	p.logger.Warn(ctx, "crawl error", "error", msg)
}

// seed merges the index's documents for dir into the baseline.
func (p *Pipeline) seed(ctx context.Context, dir string) {
	indices := []string{p.job.Index}
	if p.job.IndexFolders {
		indices = append(indices, p.job.FolderIndex)
	}
	for _, index := range indices {
		recs, err := p.lookup.DocumentsInDirectory(ctx, index, dir)
		if err != nil {
			p.recordError(ctx, fmt.Sprintf("looking up %s in %s: %v", dir, index, err))
			continue
		}
		p.mu.Lock()
		for _, rec := range recs {
			if _, known := p.records.Lookup(rec.ID); !known {
				p.records.Put(rec)
			}
		}
		p.mu.Unlock()
	}
}

// excluded reports whether the filters currently hide rec. Operations are
// never emitted for hidden paths.
func (p *Pipeline) excluded(rec crawl.DocumentRecord) bool {
	if rec.Folder {
		return p.matcher.PathExcluded(rec.VirtualPath)
	}
	return p.matcher.PathExcluded(path.Dir(rec.VirtualPath)) || !p.matcher.IncludeFile(rec.VirtualPath)
}

func (p *Pipeline) checksum(ctx context.Context, file string) (string, error) {
	rc, err := p.source.Open(ctx, file)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return checksum(p.job.Checksum, rc)
}

func (p *Pipeline) deleteOp(rec crawl.DocumentRecord) indexOp {
	index := p.job.Index
	if rec.Folder {
		index = p.job.FolderIndex
	}
	return indexOp{Operation: bulk.DeleteOp(index, rec.ID), record: rec}
}

func (p *Pipeline) buildIndexOp(ctx context.Context, d crawl.Directory, ch delta.Change) (indexOp, bool) {
	item := ch.Item
	pathInfo := crawl.PathInfo{Root: d.RealPath, Virtual: item.VirtualPath, Real: item.RealPath}
	record := crawl.DocumentRecord{
		ID:           ch.ID,
		VirtualPath:  item.VirtualPath,
		Directory:    d.RealPath,
		Folder:       item.IsDir,
		Size:         item.Size,
		LastModified: item.LastModified,
		Checksum:     item.Checksum,
	}

	if item.IsDir {
		body, err := json.Marshal(crawl.Folder{Name: item.Name, Path: pathInfo})
		if err != nil {
			p.recordError(ctx, fmt.Sprintf("encoding folder %s: %v", item.RealPath, err))
			return indexOp{}, false
		}
		return indexOp{Operation: bulk.IndexOp(p.job.FolderIndex, ch.ID, "", body), record: record}, true
	}

	doc := crawl.Document{
		File: crawl.FileInfo{
			Filename:     item.Name,
			Extension:    strings.TrimPrefix(strings.ToLower(filepath.Ext(item.Name)), "."),
			IndexingDate: p.now(),
			LastModified: item.LastModified,
			Checksum:     item.Checksum,
		},
		Path: pathInfo,
	}
	if p.job.AddFileSize {
		size := item.Size
		doc.File.Filesize = &size
	}

	if p.job.IndexContent {
		content, ok := p.extract(ctx, item)
		if !ok {
			return indexOp{}, false
		}
		doc.Content = content.Text
		doc.Meta = content.Metadata
		doc.File.ContentType = content.ContentType
		doc.File.IndexedChars = p.job.IndexedChars
	}
	if p.content.Enabled() && !p.content.Match(doc.Content) {
		p.logger.Debug(ctx, "content filtered out", "file", item.VirtualPath)
		return indexOp{}, false
	}

	body, err := json.Marshal(doc)
	if err != nil {
		p.recordError(ctx, fmt.Sprintf("encoding %s: %v", item.RealPath, err))
		return indexOp{}, false
	}
	return indexOp{Operation: bulk.IndexOp(p.job.Index, ch.ID, p.job.Pipeline, body), record: record}, true
}

// extract opens and extracts item. A file that cannot be opened is a
// per-item failure; an extraction failure indexes the file without content.
func (p *Pipeline) extract(ctx context.Context, item crawl.ScanItem) (crawl.Content, bool) {
	rc, err := p.source.Open(ctx, item.RealPath)
	if err != nil {
		p.recordError(ctx, fmt.Sprintf("opening %s: %v", item.RealPath, err))
		return crawl.Content{}, false
	}
	defer rc.Close()

	content, err := p.extractor.Extract(ctx, rc, crawl.ExtractHints{
		Name:     item.Name,
		Size:     item.Size,
		MaxChars: p.job.IndexedChars,
	})
	if err != nil {
		p.recordError(ctx, fmt.Sprintf("extracting %s: %v", item.RealPath, err))
		return crawl.Content{}, true
	}
	return content, true
}

// within reports whether dir is one of roots or lies below one of them.
func within(dir string, roots []string) bool {
	for _, root := range roots {
		if dir == root {
			return true
		}
		rel, err := filepath.Rel(root, dir)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
