package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for path, b := range m.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.BlobInfo{Path: path, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type memAudit struct {
	entries []domain.AuditEntry
	deleted time.Time
	logged  []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.logged = append(m.logged, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return m.entries, nil
}

func (m *memAudit) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.deleted = before
	var kept []domain.AuditEntry
	var n int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

type memOpps []domain.Opportunity

func (m memOpps) ListBefore(_ context.Context, before time.Time) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	for _, o := range m {
		if o.DetectedAt.Before(before) {
			out = append(out, o)
		}
	}
	return out, nil
}

type memExecs []domain.ArbExecution

func (m memExecs) ListBefore(_ context.Context, before time.Time) ([]domain.ArbExecution, error) {
	var out []domain.ArbExecution
	for _, e := range m {
		if e.StartedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 12, 0, 0, 0, time.UTC) }

func newTestArchiver(blobs *memBlobs, audit *memAudit, opps memOpps, execs memExecs) *ArchiveImpl {
	return NewArchiver(blobs, blobs, audit, opps, execs, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func countLines(t *testing.T, b []byte) int {
	t.Helper()
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		require.True(t, json.Valid(sc.Bytes()))
		n++
	}
	return n
}

func TestArchiveAuditGroupsByMonthAndDeletes(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: "arb.leg", CreatedAt: day(2025, 1, 3)},
		{ID: 2, Event: "arb.summary", CreatedAt: day(2025, 1, 20)},
		{ID: 3, Event: "arb.leg", CreatedAt: day(2025, 2, 10)},
		{ID: 4, Event: "arb.leg", CreatedAt: day(2025, 3, 2)},
	}}
	a := newTestArchiver(blobs, audit, nil, nil)

	n, err := a.ArchiveAudit(context.Background(), day(2025, 3, 15))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n, "march is not complete yet")

	assert.Equal(t, 2, countLines(t, blobs.objects["archive/audit/2025-01.jsonl"]))
	assert.Equal(t, 1, countLines(t, blobs.objects["archive/audit/2025-02.jsonl"]))
	assert.NotContains(t, blobs.objects, "archive/audit/2025-03.jsonl")

	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), audit.deleted)
	require.Len(t, audit.entries, 1)
	assert.EqualValues(t, 4, audit.entries[0].ID)
}

func TestArchiveSkipsExistingKeys(t *testing.T) {
	blobs := newMemBlobs()
	blobs.objects["archive/opportunities/2025-01.jsonl"] = []byte("{}\n")
	opps := memOpps{
		{ID: "a", DetectedAt: day(2025, 1, 5)},
		{ID: "b", DetectedAt: day(2025, 2, 5)},
	}
	audit := &memAudit{}
	a := newTestArchiver(blobs, audit, opps, nil)

	n, err := a.ArchiveOpportunities(context.Background(), day(2025, 3, 1))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []byte("{}\n"), blobs.objects["archive/opportunities/2025-01.jsonl"])
	assert.Contains(t, string(blobs.objects["archive/opportunities/2025-02.jsonl"]), `"id":"b"`)
	assert.Equal(t, []string{"archive.opportunities"}, audit.logged)
}

func TestListAndOpenArchives(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: "arb.leg", CreatedAt: day(2025, 2, 3)},
		{ID: 2, Event: "arb.leg", CreatedAt: day(2025, 1, 9)},
	}}
	a := newTestArchiver(blobs, audit, nil, nil)
	blobs.objects["archive/executions/2025-01.jsonl"] = []byte("{}\n")

	_, err := a.ArchiveAudit(context.Background(), day(2025, 3, 1))
	require.NoError(t, err)

	infos, err := a.ListArchives(context.Background(), "audit")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "archive/audit/2025-01.jsonl", infos[0].Path)
	assert.Equal(t, "archive/audit/2025-02.jsonl", infos[1].Path)

	body, err := a.OpenArchive(context.Background(), "audit", "2025-02")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, 1, countLines(t, data))

	_, err = a.ListArchives(context.Background(), "orders")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = a.OpenArchive(context.Background(), "audit", "2025-13")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = a.OpenArchive(context.Background(), "audit", "2024-12")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArchiveExecutionsEmpty(t *testing.T) {
	blobs := newMemBlobs()
	a := newTestArchiver(blobs, &memAudit{}, nil, memExecs{{ID: "x", StartedAt: day(2025, 6, 1)}})

	n, err := a.ArchiveExecutions(context.Background(), day(2025, 6, 20))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}
