package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/bondescrow/internal/domain"
)

const (
	journalPrefix = "archive/journal/"
	statePrefix   = "archive/state/"

	archivePageSize = 500

	// Exports larger than this go through the multipart uploader.
	multipartThreshold = 8 << 20
	multipartPartSize  = 8 << 20
)

// StateSource renders the current state snapshot and the sequence it
// reflects.
type StateSource interface {
	ExportState(ctx context.Context) (seq uint64, data []byte, err error)
}

// ArchiveImpl implements domain.Archiver. It exports journal records after
// the last archived sequence as JSONL and writes a state snapshot next to
// them. Records are never removed from the primary journal here.
type ArchiveImpl struct {
	journal domain.JournalReader
	writer  domain.BlobWriter
	state   StateSource
	runs    domain.ArchiveLog
	audit   domain.AuditStore
}

// NewArchiver creates an ArchiveImpl. runs and audit may be nil.
func NewArchiver(journal domain.JournalReader, writer domain.BlobWriter, state StateSource, runs domain.ArchiveLog, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{journal: journal, writer: writer, state: state, runs: runs, audit: audit}
}

// ArchiveJournal exports records with seq >= fromSeq. A zero fromSeq resumes
// after the last recorded run. When there is nothing new the result has zero
// Records and nothing is written.
func (a *ArchiveImpl) ArchiveJournal(ctx context.Context, fromSeq uint64) (domain.ArchiveResult, error) {
	if fromSeq == 0 {
		fromSeq = 1
		if a.runs != nil {
			last, ok, err := a.runs.LastRun(ctx)
			if err != nil {
				return domain.ArchiveResult{}, fmt.Errorf("s3blob: archive: %w", err)
			}
			if ok {
				fromSeq = last.ToSeq + 1
			}
		}
	}

	res := domain.ArchiveResult{FromSeq: fromSeq}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	next := fromSeq
	for {
		recs, err := a.journal.Range(ctx, next, archivePageSize)
		if err != nil {
			return res, fmt.Errorf("s3blob: archive read from %d: %w", next, err)
		}
		if len(recs) == 0 {
			break
		}
		for _, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return res, fmt.Errorf("s3blob: archive encode seq %d: %w", rec.Seq, err)
			}
			res.ToSeq = rec.Seq
			res.Records++
		}
		next = res.ToSeq + 1
	}
	if res.Records == 0 {
		return res, nil
	}

	res.JournalPath = JournalPath(res.FromSeq, res.ToSeq)
	if err := a.put(ctx, res.JournalPath, &buf); err != nil {
		return res, err
	}

	seq, state, err := a.state.ExportState(ctx)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive export state: %w", err)
	}
	res.StatePath = StatePath(seq)
	if err := a.writer.Put(ctx, res.StatePath, bytes.NewReader(state), "application/json"); err != nil {
		return res, fmt.Errorf("s3blob: archive upload state: %w", err)
	}
	res.CreatedAt = time.Now().UTC()

	if a.runs != nil {
		if err := a.runs.RecordRun(ctx, res); err != nil {
			return res, fmt.Errorf("s3blob: archive: %w", err)
		}
	}
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.journal", map[string]any{
			"from_seq":     res.FromSeq,
			"to_seq":       res.ToSeq,
			"records":      res.Records,
			"journal_path": res.JournalPath,
			"state_path":   res.StatePath,
		}); err != nil {
			return res, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return res, nil
}

func (a *ArchiveImpl) put(ctx context.Context, path string, buf *bytes.Buffer) error {
	var err error
	if buf.Len() > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, buf, multipartPartSize)
	} else {
		err = a.writer.Put(ctx, path, buf, "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive upload journal: %w", err)
	}
	return nil
}

// JournalPath is the object key of a journal export.
//
//	archive/journal/1-250.jsonl
func JournalPath(from, to uint64) string {
	return fmt.Sprintf("%s%d-%d.jsonl", journalPrefix, from, to)
}

// StatePath is the object key of a state snapshot taken at seq.
func StatePath(seq uint64) string {
	return fmt.Sprintf("%s%d.json", statePrefix, seq)
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
