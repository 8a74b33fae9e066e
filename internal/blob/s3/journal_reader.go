package s3blob

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/alanyoungcy/bondescrow/internal/domain"
)

// JournalReader implements domain.JournalReader over journal exports in blob
// storage, so a node can be rebuilt without the primary database.
type JournalReader struct {
	blobs domain.BlobReader
}

// NewJournalReader creates a JournalReader over the exports in blobs.
func NewJournalReader(blobs domain.BlobReader) *JournalReader {
	return &JournalReader{blobs: blobs}
}

type exportFile struct {
	path     string
	from, to uint64
}

// ParseJournalPath extracts the sequence range from a journal export key.
func ParseJournalPath(path string) (from, to uint64, ok bool) {
	name, found := strings.CutPrefix(path, journalPrefix)
	if !found {
		return 0, 0, false
	}
	name, found = strings.CutSuffix(name, ".jsonl")
	if !found {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(name, "%d-%d", &from, &to); err != nil || from == 0 || to < from {
		return 0, 0, false
	}
	if JournalPath(from, to) != path {
		return 0, 0, false
	}
	return from, to, true
}

// Range returns up to limit records with seq >= fromSeq, reading exports in
// sequence order. Overlapping exports are tolerated; each seq is returned
// once.
func (r *JournalReader) Range(ctx context.Context, fromSeq uint64, limit int) ([]domain.TxRecord, error) {
	if limit <= 0 {
		limit = archivePageSize
	}
	files, err := r.exports(ctx)
	if err != nil {
		return nil, err
	}

	var out []domain.TxRecord
	next := fromSeq
	for _, f := range files {
		if f.to < next {
			continue
		}
		if len(out) >= limit {
			break
		}
		recs, err := r.read(ctx, f, next, limit-len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
		if len(recs) > 0 {
			next = recs[len(recs)-1].Seq + 1
		}
	}
	return out, nil
}

func (r *JournalReader) exports(ctx context.Context) ([]exportFile, error) {
	infos, err := r.blobs.List(ctx, journalPrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list journal exports: %w", err)
	}
	var files []exportFile
	for _, info := range infos {
		if from, to, ok := ParseJournalPath(info.Path); ok {
			files = append(files, exportFile{path: info.Path, from: from, to: to})
		}
	}
	slices.SortFunc(files, func(a, b exportFile) int {
		return cmp.Or(cmp.Compare(a.from, b.from), cmp.Compare(a.to, b.to))
	})
	return files, nil
}

func (r *JournalReader) read(ctx context.Context, f exportFile, from uint64, limit int) ([]domain.TxRecord, error) {
	body, err := r.blobs.Get(ctx, f.path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out []domain.TxRecord
	dec := json.NewDecoder(body)
	for len(out) < limit {
		var rec domain.TxRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("s3blob: decode %s: %w", f.path, err)
		}
		if rec.Seq >= from {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.JournalReader = (*JournalReader)(nil)
