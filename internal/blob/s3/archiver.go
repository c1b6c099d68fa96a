package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// OpportunityArchiveStore provides read access to opportunities for archival.
type OpportunityArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error)
}

// ExecutionArchiveStore provides read access to executions for archival.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ArbExecution, error)
}

// multipartWriter is implemented by Writer; large archives use it.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// multipartThreshold is the payload size above which uploads go multipart.
const multipartThreshold = 16 * 1024 * 1024

const jsonlContentType = "application/x-ndjson"

// archiveMonthLayout is the month part of an archive key.
const archiveMonthLayout = "2006-01"

// archiveKinds are the record kinds written under archive/.
var archiveKinds = []string{"audit", "executions", "opportunities"}

// ArchiveImpl implements domain.Archiver. Records are grouped by the month
// they were created in and uploaded to archive/<kind>/<YYYY-MM>.jsonl. The
// cutoff is rounded down to the start of its month so only complete months
// are written, which makes an existing key safe to skip.
//
// Audit rows are deleted from the primary store once archived; opportunities
// and executions are kept.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	opps   OpportunityArchiveStore
	execs  ExecutionArchiveStore
	logger *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	opps OpportunityArchiveStore,
	execs ExecutionArchiveStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		audit:  audit,
		opps:   opps,
		execs:  execs,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveAudit archives audit entries older than the month containing before
// and then deletes them from the audit store.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	cutoff := monthStart(before)
	entries, err := a.audit.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	n, err := archiveByMonth(ctx, a, "audit", entries, func(e domain.AuditEntry) time.Time { return e.CreatedAt })
	if err != nil {
		return n, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	deleted, err := a.audit.DeleteBefore(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("s3blob: archive audit delete: %w", err)
	}
	a.logger.InfoContext(ctx, "audit entries archived",
		slog.Int64("archived", n),
		slog.Int64("deleted", deleted),
		slog.Time("before", cutoff),
	)
	return n, nil
}

// ArchiveExecutions archives executions started before the cutoff month.
func (a *ArchiveImpl) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	execs, err := a.execs.ListBefore(ctx, monthStart(before))
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	return archiveByMonth(ctx, a, "executions", execs, func(e domain.ArbExecution) time.Time { return e.StartedAt })
}

// ArchiveOpportunities archives opportunities detected before the cutoff
// month.
func (a *ArchiveImpl) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.opps.ListBefore(ctx, monthStart(before))
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	return archiveByMonth(ctx, a, "opportunities", opps, func(o domain.Opportunity) time.Time { return o.DetectedAt })
}

// archiveByMonth uploads one JSONL object per month and returns the number of
// records written. Months whose object already exists are skipped.
func archiveByMonth[T any](ctx context.Context, a *ArchiveImpl, kind string, records []T, at func(T) time.Time) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]T)
	for _, rec := range records {
		key := archivePath(kind, at(rec))
		byMonth[key] = append(byMonth[key], rec)
	}
	keys := make([]string, 0, len(byMonth))
	for k := range byMonth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var written int64
	for _, path := range keys {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return written, fmt.Errorf("s3blob: archive %s exists: %w", kind, err)
		}
		if exists {
			a.logger.DebugContext(ctx, "archive object exists, skipping", slog.String("path", path))
			continue
		}

		buf, err := marshalJSONL(byMonth[path])
		if err != nil {
			return written, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}
		if err := a.put(ctx, path, buf); err != nil {
			return written, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
		written += int64(len(byMonth[path]))

		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":  path,
			"count": len(byMonth[path]),
		}); err != nil {
			a.logger.WarnContext(ctx, "archive audit log failed", slog.String("error", err.Error()))
		}
	}
	return written, nil
}

// ListArchives returns the archived months of one kind, oldest first.
func (a *ArchiveImpl) ListArchives(ctx context.Context, kind string) ([]domain.BlobInfo, error) {
	if !slices.Contains(archiveKinds, kind) {
		return nil, fmt.Errorf("s3blob: archive kind %q: %w", kind, domain.ErrNotFound)
	}
	infos, err := a.reader.List(ctx, "archive/"+kind+"/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives %s: %w", kind, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// OpenArchive returns the JSONL body archived for one kind and month
// (YYYY-MM). The caller closes it.
func (a *ArchiveImpl) OpenArchive(ctx context.Context, kind, month string) (io.ReadCloser, error) {
	if !slices.Contains(archiveKinds, kind) {
		return nil, fmt.Errorf("s3blob: archive kind %q: %w", kind, domain.ErrNotFound)
	}
	t, err := time.Parse(archiveMonthLayout, month)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive month %q: %w", month, domain.ErrNotFound)
	}
	body, err := a.reader.Get(ctx, archivePath(kind, t))
	if err != nil {
		return nil, fmt.Errorf("s3blob: open archive: %w", err)
	}
	return body, nil
}

func (a *ArchiveImpl) put(ctx context.Context, path string, buf []byte) error {
	if mw, ok := a.writer.(multipartWriter); ok && len(buf) > multipartThreshold {
		return mw.PutMultipart(ctx, path, bytes.NewReader(buf), jsonlContentType, minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
}

// archivePath builds the object key for a record created at t:
//
//	archive/audit/2025-01.jsonl
func archivePath(kind string, t time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, t.UTC().Format(archiveMonthLayout))
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
