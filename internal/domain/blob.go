package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// ArchiveResult summarises one archive run.
type ArchiveResult struct {
	FromSeq     uint64    `json:"from_seq"`
	ToSeq       uint64    `json:"to_seq"`
	Records     int64     `json:"records"`
	JournalPath string    `json:"journal_path"`
	StatePath   string    `json:"state_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// ArchiveLog records completed archive runs so the next run can resume.
type ArchiveLog interface {
	RecordRun(ctx context.Context, res ArchiveResult) error
	LastRun(ctx context.Context) (ArchiveResult, bool, error)
}

// Archiver exports the journal and a state snapshot to cold storage.
type Archiver interface {
	ArchiveJournal(ctx context.Context, fromSeq uint64) (ArchiveResult, error)
}
