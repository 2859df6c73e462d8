package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"consular/internal/amqp"
	"consular/internal/core"
	"consular/internal/ingest"
	"consular/internal/storage"
)

// ErrAlreadyLoaded means a file with the same name was loaded before
// and Overwrite was not requested.
var ErrAlreadyLoaded = errors.New("file already loaded")

// IngestService orchestrates file loads: decode, header validation,
// normalization, storage and the batch-loaded notification. The AMQP
// client may be nil; loading then works without publishing.
type IngestService struct {
	storage    *storage.SQLiteRepository
	amqpClient *amqp.Client
	schema     *ingest.Schema
	strategies []ingest.Strategy
}

func NewIngestService(storage *storage.SQLiteRepository, amqpClient *amqp.Client) *IngestService {
	return &IngestService{
		storage:    storage,
		amqpClient: amqpClient,
		schema:     ingest.DefaultSchema(),
		strategies: ingest.DefaultStrategies(),
	}
}

// LoadOptions controls a file load.
type LoadOptions struct {
	// Overwrite drops a previous load of the same filename before
	// inserting, instead of refusing with ErrAlreadyLoaded.
	Overwrite bool
}

// LoadResult is the outcome of one file load.
type LoadResult struct {
	Filename    string
	Result      core.BatchResult
	DroppedRows int
}

// LoadFile ingests one spreadsheet or HTML report file. Structural
// failures (undecodable file, missing required headers) are recorded
// as failed batches so the load history explains what happened to
// every file ever offered.
func (s *IngestService) LoadFile(ctx context.Context, path string, opts LoadOptions) (*LoadResult, error) {
	filename := filepath.Base(path)

	loaded, err := s.storage.HasBatch(ctx, filename)
	if err != nil {
		return nil, fmt.Errorf("check previous load: %w", err)
	}
	if loaded {
		if !opts.Overwrite {
			return nil, fmt.Errorf("%s: %w", filename, ErrAlreadyLoaded)
		}
		if _, err := s.storage.DeleteBySource(ctx, filename); err != nil {
			return nil, fmt.Errorf("drop previous load: %w", err)
		}
		slog.InfoContext(ctx, "Replaced previous load", "filename", filename)
	}

	records, dropped, err := s.decodeAndNormalize(path)
	if err != nil {
		if recErr := s.storage.RecordFailedBatch(ctx, filename, path); recErr != nil {
			slog.ErrorContext(ctx, "Failed to record failed batch",
				"filename", filename, "error", recErr)
		}
		return nil, err
	}

	result, err := s.storage.InsertBatch(ctx, records, filename)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	s.publishBatchLoaded(ctx, filename, result)

	return &LoadResult{Filename: filename, Result: result, DroppedRows: dropped}, nil
}

func (s *IngestService) decodeAndNormalize(path string) ([]core.Record, int, error) {
	table, err := ingest.DecodeFile(path, s.strategies...)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	binding, err := s.schema.Validate(table.Headers)
	if err != nil {
		return nil, 0, fmt.Errorf("validate %s: %w", filepath.Base(path), err)
	}

	records, dropped := ingest.Normalize(table, binding, filepath.Base(path))
	return records, dropped, nil
}

// ValidationIssue is one file that failed pre-load validation.
type ValidationIssue struct {
	Path string
	Err  error
}

// ValidateFiles checks that every file decodes and carries the
// required headers, concurrently, without writing anything. It returns
// one issue per failing file.
func (s *IngestService) ValidateFiles(ctx context.Context, paths []string) ([]ValidationIssue, error) {
	issues := make([]ValidationIssue, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				issues[i] = ValidationIssue{Path: path, Err: err}
				return nil
			}
			if _, _, err := s.decodeAndNormalize(path); err != nil {
				issues[i] = ValidationIssue{Path: path, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]ValidationIssue, 0, len(paths))
	for _, issue := range issues {
		if issue.Err != nil {
			out = append(out, issue)
		}
	}
	return out, nil
}

// LoadFiles ingests several files as one logical batch: validation
// runs concurrently up front, then files load sequentially so each
// gets its own provenance row and duplicate counting stays exact. A
// file that fails to load is reported in its result and does not stop
// the rest.
func (s *IngestService) LoadFiles(ctx context.Context, paths []string, opts LoadOptions) ([]LoadResult, error) {
	if _, err := s.ValidateFiles(ctx, paths); err != nil {
		return nil, err
	}

	results := make([]LoadResult, 0, len(paths))
	for _, path := range paths {
		res, err := s.LoadFile(ctx, path, opts)
		if err != nil {
			slog.ErrorContext(ctx, "File load failed", "path", path, "error", err)
			results = append(results, LoadResult{Filename: filepath.Base(path)})
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

// DeleteFile removes every record and provenance row of one loaded
// file.
func (s *IngestService) DeleteFile(ctx context.Context, filename string) (int64, error) {
	removed, err := s.storage.DeleteBySource(ctx, filename)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", filename, err)
	}
	return removed, nil
}

func (s *IngestService) publishBatchLoaded(ctx context.Context, filename string, result core.BatchResult) {
	if s.amqpClient == nil {
		return
	}
	msg := amqp.NewBatchLoadedMessage(filename, result.Inserted, result.Duplicates, result.Errors)
	if err := s.amqpClient.PublishBatchLoaded(ctx, msg); err != nil {
		// Loading succeeded; the notification is best effort.
		slog.ErrorContext(ctx, "Failed to publish batch loaded message",
			"filename", filename, "error", err)
	}
}
