// Package pipeline moves book statistics to cold storage.
package pipeline

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

const (
	defaultFlushInterval = time.Minute
	defaultMaxBatch      = 600
	defaultPrefix        = "archive/stats"
	flushTimeout         = 30 * time.Second
)

// ArchiveConfig configures a StatsArchiver.
type ArchiveConfig struct {
	Prefix string
	RunID  string
	// FlushInterval applies when Cron is empty.
	FlushInterval time.Duration
	// Cron, if set, schedules flushes with a 5-field expression (UTC).
	Cron string
	// MaxBatch forces an early flush once that many records are buffered.
	MaxBatch int
}

// StatsArchiver buffers BookStats and uploads them as gzipped JSONL objects,
// one object per flush:
//
//	{prefix}/{symbol}/{YYYY-MM-DD}/{run}-{seq}.jsonl.gz
type StatsArchiver struct {
	writer domain.BlobWriter
	cfg    ArchiveConfig
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	buf   []domain.BookStats
	seq   int
	full  chan struct{}
	total int64
}

// NewStatsArchiver creates a StatsArchiver writing through writer.
func NewStatsArchiver(writer domain.BlobWriter, cfg ArchiveConfig, logger *slog.Logger) *StatsArchiver {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	return &StatsArchiver{
		writer: writer,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "stats_archiver")),
		now:    time.Now,
		full:   make(chan struct{}, 1),
	}
}

// Name implements domain.StatsSink.
func (a *StatsArchiver) Name() string { return "s3_archive" }

// Write buffers stats. It never touches the network.
func (a *StatsArchiver) Write(_ context.Context, stats domain.BookStats) error {
	a.mu.Lock()
	a.buf = append(a.buf, stats)
	n := len(a.buf)
	a.mu.Unlock()

	if n >= a.cfg.MaxBatch {
		select {
		case a.full <- struct{}{}:
		default:
		}
	}
	return nil
}

// Buffered returns the number of records awaiting upload.
func (a *StatsArchiver) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Archived returns the number of records uploaded so far.
func (a *StatsArchiver) Archived() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Flush uploads the buffered records. On failure they are put back so the
// next flush retries them.
func (a *StatsArchiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	if len(a.buf) == 0 {
		a.mu.Unlock()
		return nil
	}
	batch := a.buf
	a.buf = nil
	seq := a.seq
	a.seq++
	a.mu.Unlock()

	data, err := encodeJSONLGzip(batch)
	if err != nil {
		a.requeue(batch)
		return fmt.Errorf("pipeline: encode %d records: %w", len(batch), err)
	}
	key := a.objectKey(batch[0], seq)
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/gzip"); err != nil {
		a.requeue(batch)
		return fmt.Errorf("pipeline: upload %s: %w", key, err)
	}

	a.mu.Lock()
	a.total += int64(len(batch))
	a.mu.Unlock()
	a.logger.InfoContext(ctx, "archived stats",
		slog.String("key", key),
		slog.Int("records", len(batch)),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// requeue puts a failed batch back in front of anything buffered since.
func (a *StatsArchiver) requeue(batch []domain.BookStats) {
	a.mu.Lock()
	a.buf = append(batch, a.buf...)
	a.mu.Unlock()
}

func (a *StatsArchiver) objectKey(first domain.BookStats, seq int) string {
	ts := first.Time
	if ts.IsZero() {
		ts = a.now()
	}
	return path.Join(
		a.cfg.Prefix,
		first.Symbol,
		ts.UTC().Format("2006-01-02"),
		fmt.Sprintf("%s-%06d.jsonl.gz", a.cfg.RunID, seq),
	)
}

// Run flushes on the configured schedule, and early when the buffer fills,
// until ctx is cancelled. A final flush runs on the way out.
func (a *StatsArchiver) Run(ctx context.Context) error {
	var sched *schedule
	if a.cfg.Cron != "" {
		s, err := parseCron(a.cfg.Cron)
		if err != nil {
			return fmt.Errorf("pipeline: parsing cron %q: %w", a.cfg.Cron, err)
		}
		sched = &s
	}
	a.logger.InfoContext(ctx, "stats archiver started",
		slog.String("cron", a.cfg.Cron),
		slog.Duration("interval", a.cfg.FlushInterval),
	)

	for {
		wait := a.cfg.FlushInterval
		if sched != nil {
			next, err := sched.next(a.now().UTC())
			if err != nil {
				return fmt.Errorf("pipeline: %w", err)
			}
			wait = next.Sub(a.now())
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.finalFlush()
			return ctx.Err()
		case <-timer.C:
		case <-a.full:
			timer.Stop()
		}
		if err := a.Flush(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive flush failed", slog.String("error", err.Error()))
		}
	}
}

func (a *StatsArchiver) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := a.Flush(ctx); err != nil {
		a.logger.Error("final archive flush failed", slog.String("error", err.Error()))
	}
}

func encodeJSONLGzip(records []domain.BookStats) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	for i, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadArchive downloads and decodes one archived object.
func ReadArchive(ctx context.Context, reader domain.BlobReader, key string) ([]domain.BookStats, error) {
	body, err := reader.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	zr, err := gzip.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open %s: %w", key, err)
	}
	defer zr.Close()

	var out []domain.BookStats
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var s domain.BookStats
		if err := json.Unmarshal(sc.Bytes(), &s); err != nil {
			return nil, fmt.Errorf("pipeline: decode %s line %d: %w", key, len(out)+1, err)
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("pipeline: read %s: %w", key, err)
	}
	return out, nil
}

// ListArchive lists archived objects for symbol, optionally narrowed to one
// UTC day ("2006-01-02").
func ListArchive(ctx context.Context, reader domain.BlobReader, prefix, symbol, day string) ([]domain.BlobInfo, error) {
	if prefix == "" {
		prefix = defaultPrefix
	}
	p := path.Join(prefix, symbol) + "/"
	if day != "" {
		p = path.Join(prefix, symbol, day) + "/"
	}
	return reader.List(ctx, p)
}

var _ domain.StatsSink = (*StatsArchiver)(nil)
