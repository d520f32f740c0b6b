// Package translator drives batch translation against a streaming chat model:
// it namespaces keys, feeds the stream into an extractor, verifies the result
// and retries whole batches.
package translator

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"locale-translator/internal/extractor"
	"locale-translator/internal/logger"
	"locale-translator/internal/namespace"
	"locale-translator/internal/types"
)

// DefaultMaxAttempts is the default number of attempts per batch
const DefaultMaxAttempts = 3

// DefaultRetryBaseDelay is the base delay between attempts (exponential backoff)
const DefaultRetryBaseDelay = time.Second

// MaxRetryDelay caps the backoff between attempts
const MaxRetryDelay = 30 * time.Second

// Callbacks receive record lifecycle events while a batch streams in.
// Keys are already stripped of the batch namespace. Each attempt starts with
// a fresh extractor, so a retried batch reports its keys again.
type Callbacks struct {
	// OnStarted fires at most once per key and attempt.
	OnStarted func(key string)
	// OnCompleted fires at most once per key and attempt, after any OnStarted
	// for the key. index counts completions within the attempt, from zero.
	OnCompleted func(record types.TranslationRecord, index int)
	// OnAttemptFailed fires once per failed attempt, the last one included.
	OnAttemptFailed func(result AttemptResult)
}

// Options 编排器选项
type Options struct {
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Prompt         PromptBuilder
	Callbacks      Callbacks
}

// BatchResult is the accepted outcome of a batch.
type BatchResult struct {
	BatchID string
	// Records are in request item order.
	Records      []types.TranslationRecord
	Attempts     int
	Usage        types.TokenUsage
	FallbackUsed bool
}

// Orchestrator owns the attempt loop for a batch. It holds no per-batch
// state, so one Orchestrator may translate several batches concurrently.
type Orchestrator struct {
	chat        model.BaseChatModel
	maxAttempts int
	baseDelay   time.Duration
	prompt      PromptBuilder
	callbacks   Callbacks
}

// New creates an Orchestrator, applying defaults for zero options
func New(chat model.BaseChatModel, opts Options) *Orchestrator {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	baseDelay := opts.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultRetryBaseDelay
	}

	prompt := opts.Prompt
	if prompt == nil {
		prompt = DefaultPromptBuilder{}
	}

	return &Orchestrator{
		chat:        chat,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		prompt:      prompt,
		callbacks:   opts.Callbacks,
	}
}

// Translate sends the batch until one attempt passes verification.
// It returns a *VerificationError once attempts are exhausted and a
// *TransportError when the stream cannot be opened or ctx ends between attempts.
func (o *Orchestrator) Translate(ctx context.Context, req types.BatchRequest) (*BatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ns := namespace.New(req.BatchID)
	keys := req.Keys()
	runID := uuid.NewString()

	msgs, err := o.prompt.Build(req, ns)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrInternal, "failed to build prompt", req.BatchID, err)
	}

	logger.Info("translating batch",
		logger.String("run", runID),
		logger.String("batch", req.BatchID),
		logger.String("prefix", ns.Prefix()),
		logger.Int("items", len(keys)),
		logger.String("target", req.TargetLocale))

	var usage types.TokenUsage
	var last AttemptResult
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &TransportError{BatchID: req.BatchID, Attempt: attempt, Cause: err}
		}

		logger.Debug("batch attempt",
			logger.String("run", runID),
			logger.String("batch", req.BatchID),
			logger.Int("attempt", attempt),
			logger.Int("maxAttempts", o.maxAttempts))

		res, attemptUsage, fallback, err := o.runAttempt(ctx, req, ns, keys, msgs, attempt)
		usage.Add(attemptUsage)
		if err != nil {
			logger.Error("failed to open model stream", err,
				logger.String("run", runID),
				logger.String("batch", req.BatchID),
				logger.Int("attempt", attempt))
			return nil, err
		}

		if len(res.Outcome.UnexpectedKeys) > 0 {
			logger.Warn("model returned unexpected keys",
				logger.String("run", runID),
				logger.String("batch", req.BatchID),
				logger.Strings("keys", res.Outcome.UnexpectedKeys))
		}

		if res.Outcome.OK() {
			logger.Info("batch verified",
				logger.String("run", runID),
				logger.String("batch", req.BatchID),
				logger.Int("attempt", attempt),
				logger.Int("records", len(res.Outcome.ValidRecords)),
				logger.Bool("fallback", fallback),
				logger.Bool("lenient", res.Outcome.Lenient))
			return &BatchResult{
				BatchID:      req.BatchID,
				Records:      res.Outcome.ValidRecords,
				Attempts:     attempt,
				Usage:        usage,
				FallbackUsed: fallback,
			}, nil
		}

		last = res
		logger.Warn("batch attempt failed verification",
			logger.String("run", runID),
			logger.String("batch", req.BatchID),
			logger.Int("attempt", attempt),
			logger.Int("missing", len(res.Outcome.MissingKeys)),
			logger.Bool("interrupted", res.Outcome.Interrupted),
			logger.Err(res.StreamErr))
		if o.callbacks.OnAttemptFailed != nil {
			o.callbacks.OnAttemptFailed(res)
		}

		// Don't sleep after the last attempt
		if attempt < o.maxAttempts {
			delay := o.backoff(attempt)
			logger.Debug("retrying after delay",
				logger.String("batch", req.BatchID),
				logger.Duration("delay", delay),
				logger.Int("nextAttempt", attempt+1))
			if err := sleepContext(ctx, delay); err != nil {
				return nil, &TransportError{BatchID: req.BatchID, Attempt: attempt + 1, Cause: err}
			}
		}
	}

	verr := &VerificationError{
		BatchID:  req.BatchID,
		Attempts: o.maxAttempts,
		Outcome:  last.Outcome,
		Usage:    usage,
	}
	logger.Error("batch exhausted attempts", verr,
		logger.String("run", runID),
		logger.String("batch", req.BatchID),
		logger.Strings("missing", last.Outcome.MissingKeys))
	return nil, verr
}

// runAttempt streams one response through a fresh extractor and verifies it.
// The returned error is set only when the stream could not be opened.
func (o *Orchestrator) runAttempt(ctx context.Context, req types.BatchRequest, ns namespace.Namespacer,
	keys []string, msgs []*schema.Message, attempt int) (AttemptResult, types.TokenUsage, bool, error) {

	var usage types.TokenUsage
	sr, err := o.chat.Stream(ctx, msgs)
	if err != nil {
		return AttemptResult{Attempt: attempt}, usage, false, &TransportError{BatchID: req.BatchID, Attempt: attempt, Cause: err}
	}
	defer sr.Close()

	ex := extractor.New()
	fw := newForwarder(o.callbacks, ns, keys)

	var streamErr error
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		if msg == nil {
			continue
		}
		// providers report usage on the final chunk; keep the latest report
		if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
			u := msg.ResponseMeta.Usage
			usage = types.TokenUsage{
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				TotalTokens:      u.TotalTokens,
			}
		}
		fw.dispatch(ex.Feed(msg.Content))
	}
	fw.dispatch(ex.Finish())

	if ex.UsedFallback() {
		logger.Debug("incremental extraction found nothing, used fallback",
			logger.String("batch", req.BatchID),
			logger.Int("attempt", attempt),
			logger.String("strategy", ex.FallbackStrategy().String()))
	}

	records := ex.Records()
	outcome := verify(ns, keys, records, streamErr != nil)
	fw.settle(outcome)
	return AttemptResult{
		Attempt:   attempt,
		Records:   records,
		Outcome:   outcome,
		StreamErr: streamErr,
	}, usage, ex.UsedFallback(), nil
}

// backoff returns the delay before the attempt after the given one:
// base * 2^(attempt-1), capped at MaxRetryDelay.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return MaxRetryDelay
	}
	delay := o.baseDelay * time.Duration(1<<uint(attempt-1))
	if delay > MaxRetryDelay || delay <= 0 {
		delay = MaxRetryDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// forwarder relays extractor events to the caller with stripped keys. Only
// requested keys are relayed while streaming. A record that the single-key
// rule accepts under a foreign key is only known after verification, so it is
// reported by settle.
type forwarder struct {
	cb        Callbacks
	ns        namespace.Namespacer
	requested map[string]struct{}
	started   map[string]struct{}
	completed map[string]struct{}
}

func newForwarder(cb Callbacks, ns namespace.Namespacer, keys []string) *forwarder {
	f := &forwarder{
		cb:        cb,
		ns:        ns,
		requested: make(map[string]struct{}, len(keys)),
		started:   make(map[string]struct{}),
		completed: make(map[string]struct{}),
	}
	for _, k := range keys {
		f.requested[k] = struct{}{}
	}
	return f
}

func (f *forwarder) label(key string) (string, bool) {
	k, ok := f.ns.Strip(key)
	if !ok {
		return "", false
	}
	_, asked := f.requested[k]
	return k, asked
}

func (f *forwarder) dispatch(events []extractor.Event) {
	for _, ev := range events {
		key, ok := f.label(ev.Key)
		if !ok {
			continue
		}
		if _, done := f.completed[key]; done {
			continue
		}
		switch ev.Kind {
		case extractor.EventStarted:
			if _, seen := f.started[key]; seen {
				continue
			}
			f.started[key] = struct{}{}
			if f.cb.OnStarted != nil {
				f.cb.OnStarted(key)
			}
		case extractor.EventCompleted:
			index := len(f.completed)
			f.completed[key] = struct{}{}
			if f.cb.OnCompleted != nil {
				rec := ev.Record
				rec.Key = key
				f.cb.OnCompleted(rec, index)
			}
		}
	}
}

// settle reports the record accepted by the single-key rule, if any.
func (f *forwarder) settle(out VerificationOutcome) {
	if !out.Lenient || len(out.ValidRecords) != 1 {
		return
	}
	rec := out.ValidRecords[0]
	if _, done := f.completed[rec.Key]; done {
		return
	}
	if _, seen := f.started[rec.Key]; !seen {
		f.started[rec.Key] = struct{}{}
		if f.cb.OnStarted != nil {
			f.cb.OnStarted(rec.Key)
		}
	}
	index := len(f.completed)
	f.completed[rec.Key] = struct{}{}
	if f.cb.OnCompleted != nil {
		f.cb.OnCompleted(rec, index)
	}
}
