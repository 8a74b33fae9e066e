package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondescrow/internal/domain"
)

type memBlobs struct {
	objects   map[string][]byte
	multipart []string
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

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.multipart = append(m.multipart, path)
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound.With("%s", path)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path > out[j].Path })
	return out, nil
}

type sliceJournal []domain.TxRecord

func (s sliceJournal) Range(_ context.Context, from uint64, limit int) ([]domain.TxRecord, error) {
	var out []domain.TxRecord
	for _, r := range s {
		if r.Seq >= from && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

type memRuns struct{ runs []domain.ArchiveResult }

func (m *memRuns) RecordRun(_ context.Context, res domain.ArchiveResult) error {
	m.runs = append(m.runs, res)
	return nil
}

func (m *memRuns) LastRun(context.Context) (domain.ArchiveResult, bool, error) {
	if len(m.runs) == 0 {
		return domain.ArchiveResult{}, false, nil
	}
	return m.runs[len(m.runs)-1], true, nil
}

type fixedState struct{ seq uint64 }

func (f fixedState) ExportState(context.Context) (uint64, []byte, error) {
	return f.seq, []byte(fmt.Sprintf(`{"seq":%d}`, f.seq)), nil
}

func records(from, to uint64) sliceJournal {
	var out sliceJournal
	for s := from; s <= to; s++ {
		out = append(out, domain.TxRecord{
			Seq:       s,
			Hash:      common.BigToHash(common.Big1).Hex(),
			Op:        "vote",
			Caller:    common.HexToAddress("0x0a"),
			Args:      json.RawMessage(`{"proposal_id":1,"note":"<b>"}`),
			Timestamp: 1_700_000_000 + s,
		})
	}
	return out
}

func TestArchiveJournalResumesAfterLastRun(t *testing.T) {
	blobs := newMemBlobs()
	runs := &memRuns{}
	journal := records(1, 3)
	a := NewArchiver(journal, blobs, fixedState{seq: 3}, runs, nil)

	res, err := a.ArchiveJournal(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.FromSeq)
	assert.Equal(t, uint64(3), res.ToSeq)
	assert.Equal(t, int64(3), res.Records)
	assert.Equal(t, "archive/journal/1-3.jsonl", res.JournalPath)
	assert.Equal(t, "archive/state/3.json", res.StatePath)
	assert.Contains(t, blobs.objects, res.StatePath)
	assert.Len(t, runs.runs, 1)

	// Nothing new: no upload.
	res, err = a.ArchiveJournal(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, res.Records)
	assert.Len(t, runs.runs, 1)

	a.journal = records(1, 5)
	a.state = fixedState{seq: 5}
	res, err = a.ArchiveJournal(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "archive/journal/4-5.jsonl", res.JournalPath)
	assert.Empty(t, blobs.multipart)
}

func TestJournalReaderReadsExportsInOrder(t *testing.T) {
	blobs := newMemBlobs()
	runs := &memRuns{}
	a := NewArchiver(records(1, 4), blobs, fixedState{seq: 4}, runs, nil)
	_, err := a.ArchiveJournal(context.Background(), 0)
	require.NoError(t, err)
	a.journal = records(1, 9)
	_, err = a.ArchiveJournal(context.Background(), 0)
	require.NoError(t, err)
	blobs.objects["archive/journal/README"] = []byte("ignored")

	r := NewJournalReader(blobs)
	got, err := r.Range(context.Background(), 3, 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, rec := range got {
		assert.Equal(t, uint64(3+i), rec.Seq)
	}
	// Args bytes survive the export unchanged.
	assert.Equal(t, `{"proposal_id":1,"note":"<b>"}`, string(got[0].Args))

	got, err = r.Range(context.Background(), 1, 100)
	require.NoError(t, err)
	assert.Len(t, got, 9)

	got, err = r.Range(context.Background(), 10, 100)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseJournalPath(t *testing.T) {
	tests := []struct {
		path     string
		from, to uint64
		ok       bool
	}{
		{"archive/journal/1-3.jsonl", 1, 3, true},
		{"archive/journal/10-10.jsonl", 10, 10, true},
		{"archive/journal/3-1.jsonl", 0, 0, false},
		{"archive/journal/0-1.jsonl", 0, 0, false},
		{"archive/journal/1-3x.jsonl", 0, 0, false},
		{"archive/state/3.json", 0, 0, false},
		{"archive/journal/1-3.json", 0, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			from, to, ok := ParseJournalPath(tc.path)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.from, from)
			assert.Equal(t, tc.to, to)
		})
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://already", normaliseEndpoint("http://already", true))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/x-ndjson", contentTypeFor("archive/journal/1-2.jsonl"))
	assert.Equal(t, "application/json", contentTypeFor("archive/state/2.json"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("x.bin"))
}
