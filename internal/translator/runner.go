package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"locale-translator/internal/logger"
	"locale-translator/internal/types"
)

// DefaultBatchMaxItems is the default number of items per batch
const DefaultBatchMaxItems = 40

// DefaultBatchMaxChars is the default source size of a batch, in characters
const DefaultBatchMaxChars = 6000

// DefaultConcurrency is the default number of concurrent batch translations
const DefaultConcurrency = 3

// ProgressCallback reports translated (or failed) items against the total
type ProgressCallback func(completed, total int)

// RunnerConfig holds the batching options of a Runner
type RunnerConfig struct {
	BatchMaxItems int
	BatchMaxChars int
	Concurrency   int
}

// RunRequest is an ordered item set that may span many batches.
type RunRequest struct {
	// Name seeds the batch IDs: <name>.part<N>.
	Name         string
	SourceLocale string
	TargetLocale string
	Items        []types.BatchItem
}

// BatchFailure describes a batch that did not produce a verified result.
type BatchFailure struct {
	BatchID string
	Keys    []string
	Err     error
}

// RunResult 多批次翻译结果
type RunResult struct {
	// Records hold the verified translations in input order. Items of failed
	// batches are absent.
	Records []types.TranslationRecord
	Batches int
	Usage   types.TokenUsage
	Failed  []BatchFailure
}

// Runner splits large item sets into batches and translates them concurrently.
type Runner struct {
	orch        *Orchestrator
	maxItems    int
	maxChars    int
	concurrency int
}

// NewRunner creates a Runner with the given configuration
func NewRunner(orch *Orchestrator, cfg RunnerConfig) *Runner {
	maxItems := cfg.BatchMaxItems
	if maxItems <= 0 {
		maxItems = DefaultBatchMaxItems
	}
	maxChars := cfg.BatchMaxChars
	if maxChars <= 0 {
		maxChars = DefaultBatchMaxChars
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Runner{orch: orch, maxItems: maxItems, maxChars: maxChars, concurrency: concurrency}
}

// SplitBatches groups items into batches in input order. A batch holds at
// most maxItems items and maxChars characters of source text; an item that
// alone reaches maxChars gets a batch of its own.
func (r *Runner) SplitBatches(items []types.BatchItem) [][]types.BatchItem {
	if len(items) == 0 {
		return nil
	}

	var batches [][]types.BatchItem
	var current []types.BatchItem
	currentSize := 0

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
		}
		current = nil
		currentSize = 0
	}

	for _, it := range items {
		size := itemSize(it)

		if size >= r.maxChars {
			flush()
			batches = append(batches, []types.BatchItem{it})
			continue
		}

		if currentSize+size > r.maxChars || len(current) >= r.maxItems {
			flush()
		}
		current = append(current, it)
		currentSize += size
	}
	flush()

	return batches
}

func itemSize(it types.BatchItem) int {
	return utf8.RuneCountInString(it.Text) + utf8.RuneCountInString(it.Context)
}

// Run translates every batch, continuing past batches that fail. The returned
// error is set only for invalid input or when ctx ends.
func (r *Runner) Run(ctx context.Context, req RunRequest, progress ProgressCallback) (*RunResult, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "batch"
	}

	// validate the whole set once so duplicate keys across batches are caught
	whole := types.BatchRequest{BatchID: name, SourceLocale: req.SourceLocale, TargetLocale: req.TargetLocale, Items: req.Items}
	if err := whole.Validate(); err != nil {
		return nil, err
	}

	batches := r.SplitBatches(req.Items)
	logger.Info("starting translation run",
		logger.String("name", name),
		logger.Int("totalItems", len(req.Items)),
		logger.Int("batchCount", len(batches)),
		logger.Int("concurrency", r.concurrency))

	results := make([][]types.TranslationRecord, len(batches))
	failures := make([]*BatchFailure, len(batches))
	out := &RunResult{Batches: len(batches)}
	total := len(req.Items)
	completed := 0
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, batch := range batches {
		breq := types.BatchRequest{
			BatchID:      fmt.Sprintf("%s.part%d", name, i+1),
			SourceLocale: whole.SourceLocale,
			TargetLocale: whole.TargetLocale,
			Items:        batch,
		}
		g.Go(func() error {
			res, err := r.orch.Translate(gctx, breq)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				var verr *VerificationError
				if errors.As(err, &verr) {
					out.Usage.Add(verr.Usage)
				}
				failures[i] = &BatchFailure{BatchID: breq.BatchID, Keys: breq.Keys(), Err: err}
				logger.Warn("batch failed, continuing",
					logger.String("batch", breq.BatchID),
					logger.Err(err))
			} else {
				results[i] = res.Records
				out.Usage.Add(res.Usage)
			}

			completed += len(breq.Items)
			if progress != nil {
				progress(completed, total)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, recs := range results {
		out.Records = append(out.Records, recs...)
		if failures[i] != nil {
			out.Failed = append(out.Failed, *failures[i])
		}
	}

	logger.Info("translation run completed",
		logger.String("name", name),
		logger.Int("translated", len(out.Records)),
		logger.Int("failedBatches", len(out.Failed)),
		logger.Int("totalTokens", out.Usage.TotalTokens))

	return out, nil
}
