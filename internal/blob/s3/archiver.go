package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfold/sigbot/internal/domain"
)

// archiveBatch bounds one archival query.
const archiveBatch = 10000

// Archiver moves old audit events and closed trade history out of
// postgres into monthly JSONL objects. Risk events are pruned after a
// verified upload; trade history is copied but kept, since closed
// entries are immutable and cheap.
type Archiver struct {
	writer  *Writer
	events  domain.RiskEventStore
	history domain.TradeHistoryStore
	logger  *slog.Logger
}

func NewArchiver(writer *Writer, events domain.RiskEventStore, history domain.TradeHistoryStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:  writer,
		events:  events,
		history: history,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveRiskEvents uploads events older than the cutoff and deletes
// them afterwards. Returns how many rows were archived.
func (a *Archiver) ArchiveRiskEvents(ctx context.Context, cutoff time.Time) (int, error) {
	events, err := a.events.ListBefore(ctx, cutoff, domain.ListOpts{Limit: archiveBatch})
	if err != nil {
		return 0, fmt.Errorf("s3blob: list risk events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal risk events: %w", err)
	}
	path := archivePath("risk_events", cutoff)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: upload risk events: %w", err)
	}

	deleted, err := a.events.DeleteBefore(ctx, events[len(events)-1].Ts.Add(time.Millisecond))
	if err != nil {
		// Upload succeeded; the rows will be re-archived and pruned on
		// the next run.
		a.logger.WarnContext(ctx, "risk event prune failed after archive", slog.Any("error", err))
	}

	a.logger.InfoContext(ctx, "risk events archived",
		slog.String("path", path),
		slog.Int("count", len(events)),
		slog.Int64("pruned", deleted))
	return len(events), nil
}

// ArchiveTradeHistory uploads closed entries older than the cutoff.
func (a *Archiver) ArchiveTradeHistory(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := a.history.ListClosedBefore(ctx, cutoff, domain.ListOpts{Limit: archiveBatch})
	if err != nil {
		return 0, fmt.Errorf("s3blob: list closed history: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal history: %w", err)
	}
	path := archivePath("trade_history", cutoff)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: upload history: %w", err)
	}

	a.logger.InfoContext(ctx, "trade history archived",
		slog.String("path", path),
		slog.Int("count", len(entries)))
	return len(entries), nil
}

// archivePath groups archives by the cutoff month, e.g.
// archive/risk_events/2026-08.jsonl.
func archivePath(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, cutoff.UTC().Format("2006-01"))
}

func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
