package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

// Narrow store interfaces required by the archiver. The archiver only needs
// the cutoff queries it actually calls, not the full domain store
// interfaces; the Postgres and memory stores satisfy these implicitly.

// AuditArchiveStore provides read access to audit rows for archival.
type AuditArchiveStore interface {
	// ListBefore returns all audit rows created strictly before the cutoff,
	// oldest first.
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
}

// MarketArchiveStore provides read access to settled markets for archival.
type MarketArchiveStore interface {
	// ListResolvedBefore returns all markets resolved strictly before the
	// cutoff, oldest first.
	ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.MarketRecord, error)
	// SharesByMarket returns every share row of one market.
	SharesByMarket(ctx context.Context, matchID string) ([]domain.OutcomeShare, error)
	// ClaimantsByMarket returns the parties that claimed on one market.
	ClaimantsByMarket(ctx context.Context, matchID string) ([]domain.Party, error)
}

// archivedMarket is one JSONL line of a market archive: the resolved record
// with its residual shares (unclaimed winners and all losers) and the claim
// flags that were set.
type archivedMarket struct {
	Market    domain.MarketRecord   `json:"market"`
	Shares    []domain.OutcomeShare `json:"shares,omitempty"`
	Claimants []domain.Party        `json:"claimants,omitempty"`
}

// ArchiveImpl implements domain.Archiver by querying the hot stores for
// settled data, serializing it to JSONL, and uploading the result to object
// storage. With a reader attached, every upload is read back and its line
// count checked against the rows that were serialized.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here; that is a separate, explicit step to be executed after the
// archive has been verified.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	audit   AuditArchiveStore
	markets MarketArchiveStore
	logSink domain.AuditStore
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates an ArchiveImpl. logSink receives one audit entry per
// completed archive run.
func NewArchiver(writer domain.BlobWriter, audit AuditArchiveStore, markets MarketArchiveStore, logSink domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		audit:   audit,
		markets: markets,
		logSink: logSink,
	}
}

// WithVerify attaches a reader used to read each uploaded archive back and
// confirm it holds the expected number of lines before the run is recorded.
func (a *ArchiveImpl) WithVerify(reader domain.BlobReader) *ArchiveImpl {
	a.reader = reader
	return a
}

// ArchiveAudit queries all audit rows before the cutoff, serializes them to
// JSONL, and uploads the file at archive/audit/YYYY-MM.jsonl. The run is
// recorded in the audit log and the count of archived rows is returned.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}
	if err := a.verifyUpload(ctx, path, len(entries)); err != nil {
		return 0, err
	}

	count := int64(len(entries))

	if err := a.logSink.Log(ctx, "archive.audit", map[string]any{
		"path":     path,
		"count":    count,
		"before":   before.Format(time.RFC3339),
		"verified": a.reader != nil,
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return count, nil
}

// ArchiveMarkets queries all markets resolved before the cutoff, bundles
// each with its residual shares and claim flags, and uploads the JSONL file
// at archive/markets/YYYY-MM.jsonl. The run is recorded in the audit log and
// the count of archived markets is returned.
func (a *ArchiveImpl) ArchiveMarkets(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.markets.ListResolvedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	lines := make([]archivedMarket, 0, len(records))
	for _, rec := range records {
		shares, err := a.markets.SharesByMarket(ctx, rec.MatchID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive markets shares %s: %w", rec.MatchID, err)
		}
		claimants, err := a.markets.ClaimantsByMarket(ctx, rec.MatchID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive markets claimants %s: %w", rec.MatchID, err)
		}
		lines = append(lines, archivedMarket{Market: rec, Shares: shares, Claimants: claimants})
	}

	buf, err := marshalJSONL(lines)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets marshal: %w", err)
	}

	path := archivePath("markets", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive markets upload: %w", err)
	}
	if err := a.verifyUpload(ctx, path, len(records)); err != nil {
		return 0, err
	}

	count := int64(len(records))

	if err := a.logSink.Log(ctx, "archive.markets", map[string]any{
		"path":     path,
		"count":    count,
		"before":   before.Format(time.RFC3339),
		"verified": a.reader != nil,
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive markets log: %w", err)
	}

	return count, nil
}

// verifyUpload reads the uploaded object back and checks its line count
// against the number of records that were serialized. A no-op without a
// reader.
func (a *ArchiveImpl) verifyUpload(ctx context.Context, path string, wantLines int) error {
	if a.reader == nil {
		return nil
	}

	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: verify %s: %w", path, err)
	}
	defer body.Close()

	got, err := countLines(body)
	if err != nil {
		return fmt.Errorf("s3blob: verify %s: %w", path, err)
	}
	if got != wantLines {
		return fmt.Errorf("s3blob: verify %s: stored object has %d lines, want %d", path, got, wantLines)
	}
	return nil
}

// countLines counts '\n' bytes in r without buffering the whole object.
func countLines(r io.Reader) (int, error) {
	buf := make([]byte, 32*1024)
	lines := 0
	for {
		n, err := r.Read(buf)
		lines += bytes.Count(buf[:n], []byte{'\n'})
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
	}
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/audit/2026-08.jsonl
//	archive/markets/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element becomes one compact JSON line followed by '\n'.
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
