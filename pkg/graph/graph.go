package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/biomedkg/kgx/pkg/ai"
	"github.com/biomedkg/kgx/pkg/export"
	"github.com/biomedkg/kgx/pkg/loader"
	"github.com/biomedkg/kgx/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

const (
	batchDirLayout  = "20060102_150405"
	batchTimeLayout = "2006-01-02 15:04:05"

	StatusSuccess = "success"
	StatusError   = "error"
)

// BatchOptions configures ProcessBatch.
type BatchOptions struct {
	OutputDir string
	Format    string
	Parallel  bool
	Workers   int
	// Now is used for the run directory name and summary timestamps.
	Now func() time.Time
}

// BatchSummary is the aggregate part of batch_summary.json.
type BatchSummary struct {
	BatchRunTime    string  `json:"batch_run_time"`
	TotalFiles      int     `json:"total_files"`
	SuccessfulFiles int     `json:"successful_files"`
	FailedFiles     int     `json:"failed_files"`
	TotalEntities   int     `json:"total_entities"`
	TotalRelations  int     `json:"total_relations"`
	ProcessingTime  float64 `json:"processing_time"`
}

// FileDetail is the per-file part of batch_summary.json.
type FileDetail struct {
	Status        string `json:"status"`
	EntityCount   int    `json:"entity_count"`
	RelationCount int    `json:"relation_count"`
	Error         string `json:"error"`
}

// BatchReport is written to batch_summary.json.
type BatchReport struct {
	RunID       string                `json:"run_id"`
	Summary     BatchSummary          `json:"summary"`
	FileDetails map[string]FileDetail `json:"file_details"`
}

// BatchResult is returned by ProcessBatch.
type BatchResult struct {
	OutputDir string
	Report    BatchReport
	// Results holds successful files keyed by input path.
	Results map[string]*FileResult
}

// BatchDir returns the run directory name for t.
func BatchDir(t time.Time) string {
	return "batch_run_" + t.Format(batchDirLayout)
}

// FileStem is the name of a file's output directory inside a batch run:
// the base name up to its first dot.
func FileStem(path string) string {
	base := filepath.Base(path)
	if i := strings.Index(base, "."); i >= 0 {
		return base[:i]
	}
	return base
}

// batchNames gives every file its own output directory and summary key.
// Files sharing a stem get _2, _3, ... appended in input order.
func batchNames(files []loader.GraphFile) (dirs []string, keys []string) {
	taken := make(map[string]struct{}, len(files))
	for _, f := range files {
		base := filepath.Base(f.FilePath)
		stem := FileStem(f.FilePath)
		dir := stem
		for n := 2; ; n++ {
			if _, dup := taken[dir]; !dup {
				break
			}
			dir = fmt.Sprintf("%s_%d", stem, n)
		}
		taken[dir] = struct{}{}
		dirs = append(dirs, dir)
		keys = append(keys, dir+base[len(stem):])
	}
	return dirs, keys
}

// ProcessBatch processes files into a fresh batch_run_* directory below
// opts.OutputDir. A failing file is recorded in the report and never stops
// the batch; only an unusable output directory or a cancelled context
// returns an error.
func (g *GraphClient) ProcessBatch(ctx context.Context, files []loader.GraphFile, opts BatchOptions) (*BatchResult, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	start := time.Now()

	batchDir := filepath.Join(opts.OutputDir, BatchDir(now()))
	if err := os.MkdirAll(batchDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create batch directory: %w", err)
	}

	runID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}

	workers := 1
	if opts.Parallel && len(files) > 1 {
		workers = max(opts.Workers, 1)
	}
	pool, err := g.completerPool(workers)
	if err != nil {
		return nil, err
	}

	logger.Info("[Batch] Starting", "run_id", runID, "files", len(files), "workers", workers, "dir", batchDir)

	dirs, keys := batchNames(files)
	results := make([]*FileResult, len(files))
	errs := make([]error, len(files))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, file := range files {
		if gCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if err := gCtx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			c := <-pool
			defer func() { pool <- c }()

			logger.Info("[Batch] Processing file", "file", file.FilePath)
			dir := filepath.Join(batchDir, dirs[i])
			results[i], errs[i] = g.processDocument(gCtx, c, file, dir, opts.Format)
			if errs[i] != nil {
				logger.Error("[Batch] File failed", "file", file.FilePath, "err", errs[i])
				return nil
			}
			logger.Info("[Batch] Completed file", "file", file.FilePath)
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &BatchResult{
		OutputDir: batchDir,
		Results:   make(map[string]*FileResult, len(files)),
		Report: BatchReport{
			RunID:       runID,
			FileDetails: make(map[string]FileDetail, len(files)),
		},
	}

	summary := &res.Report.Summary
	summary.TotalFiles = len(files)
	for i, file := range files {
		name := keys[i]
		if errs[i] != nil || results[i] == nil {
			msg := "not processed"
			if errs[i] != nil {
				msg = errs[i].Error()
			}
			summary.FailedFiles++
			res.Report.FileDetails[name] = FileDetail{Status: StatusError, Error: msg}
			continue
		}

		md := results[i].Fragment.Metadata
		summary.SuccessfulFiles++
		summary.TotalEntities += md.EntityCount
		summary.TotalRelations += md.RelationCount
		res.Results[file.FilePath] = results[i]
		res.Report.FileDetails[name] = FileDetail{
			Status:        StatusSuccess,
			EntityCount:   md.EntityCount,
			RelationCount: md.RelationCount,
		}
	}
	summary.BatchRunTime = now().Format(batchTimeLayout)
	summary.ProcessingTime = time.Since(start).Seconds()

	if err := export.WriteJSON(filepath.Join(batchDir, "batch_summary.json"), res.Report); err != nil {
		return nil, err
	}
	if g.recorder != nil {
		if err := g.recorder.WriteTextfile(filepath.Join(batchDir, "metrics.prom")); err != nil {
			logger.Warn("[Batch] Failed to write metrics", "err", err)
		}
	}

	logger.Info("[Batch] Finished",
		"run_id", runID,
		"successful", summary.SuccessfulFiles,
		"failed", summary.FailedFiles,
		"entities", summary.TotalEntities,
		"relations", summary.TotalRelations,
		"seconds", fmt.Sprintf("%.2f", summary.ProcessingTime),
		"dir", batchDir,
	)
	return res, nil
}

// completerPool hands out one completer per worker slot.
func (g *GraphClient) completerPool(workers int) (chan ai.Completer, error) {
	pool := make(chan ai.Completer, workers)
	for range workers {
		c, err := g.newCompleter()
		if err != nil {
			return nil, fmt.Errorf("create model client: %w", err)
		}
		pool <- c
	}
	return pool, nil
}
