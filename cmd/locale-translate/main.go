// Translate a flat JSON string file into another locale
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"locale-translator/internal/cache"
	"locale-translator/internal/config"
	"locale-translator/internal/errors"
	"locale-translator/internal/llm"
	"locale-translator/internal/logger"
	"locale-translator/internal/translator"
	"locale-translator/internal/types"
)

type options struct {
	configPath  string
	input       string
	output      string
	source      string
	target      string
	name        string
	contextPath string
	noCache     bool
	model       string

	// maintenance modes, run instead of a translation
	setAPIKey      string
	listFailures   bool
	showFailure    string
	exportFailures string
	clearFailures  bool
}

func (o *options) maintenance() bool {
	return o.setAPIKey != "" || o.ledgerMode()
}

func (o *options) ledgerMode() bool {
	return o.listFailures || o.showFailure != "" || o.exportFailures != "" || o.clearFailures
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("locale-translate", flag.ContinueOnError)
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "config file (default: user config dir)")
	fs.StringVar(&o.input, "input", "", "source string file, flat JSON {\"key\":\"text\"}")
	fs.StringVar(&o.output, "output", "", "output file (default: <input dir>/<target>.json)")
	fs.StringVar(&o.source, "source", "en", "source locale")
	fs.StringVar(&o.target, "target", "", "target locale")
	fs.StringVar(&o.name, "name", "", "batch name (default: input file stem)")
	fs.StringVar(&o.contextPath, "context", "", "optional JSON file of per-key translator notes")
	fs.BoolVar(&o.noCache, "no-cache", false, "translate every string, ignoring the translation cache")
	fs.StringVar(&o.model, "model", "", "chat model for this run, overriding the config file")
	fs.StringVar(&o.setAPIKey, "set-api-key", "", "store an API key in the config file and exit")
	fs.BoolVar(&o.listFailures, "list-failures", false, "list batches recorded in the failure ledger and exit")
	fs.StringVar(&o.showFailure, "show-failure", "", "print one failed batch by id and exit")
	fs.StringVar(&o.exportFailures, "export-failures", "", "write failed batch ids to a file, one per line, and exit")
	fs.BoolVar(&o.clearFailures, "clear-failures", false, "empty the failure ledger and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.maintenance() {
		return o, nil
	}

	if o.input == "" || o.target == "" {
		return nil, fmt.Errorf("-input and -target are required")
	}
	var err error
	if o.source, err = types.CanonicalLocale(o.source); err != nil {
		return nil, fmt.Errorf("invalid -source: %w", err)
	}
	if o.target, err = types.CanonicalLocale(o.target); err != nil {
		return nil, fmt.Errorf("invalid -target: %w", err)
	}
	if o.name == "" {
		o.name = batchName(o.input)
	}
	if o.output == "" {
		o.output = filepath.Join(filepath.Dir(o.input), o.target+".json")
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(2)
	}

	var code int
	if opts.maintenance() {
		if err = maintain(opts, os.Stdout); err != nil {
			code = 1
		}
	} else {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		code, err = run(ctx, opts)
		stop()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
	}
	logger.Close()
	os.Exit(code)
}

func loadConfig(path string) (*config.ConfigManager, error) {
	cm, err := config.NewConfigManager(path)
	if err != nil {
		return nil, err
	}
	if err := cm.Load(); err != nil {
		return nil, err
	}
	return cm, nil
}

func openLedger(cm *config.ConfigManager) (*errors.ErrorManager, error) {
	return errors.NewErrorManager(filepath.Join(cm.GetWorkDirectory(), "failures"))
}

func run(ctx context.Context, opts *options) (int, error) {
	cm, err := loadConfig(opts.configPath)
	if err != nil {
		return 1, err
	}
	if opts.model != "" {
		override := *cm.GetConfig()
		override.Model = opts.model
		cm.SetConfig(&override)
	}
	if err := cm.Validate(); err != nil {
		return 1, err
	}
	cfg := cm.GetConfig()

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return 1, err
	}
	if err := logger.Init(&logger.Config{
		LogFilePath:   cfg.LogFile,
		MaxFileSize:   10 * 1024 * 1024,
		MaxBackups:    5,
		Level:         level,
		EnableConsole: true,
	}); err != nil {
		return 1, fmt.Errorf("failed to init logger: %w", err)
	}
	if cm.GetAPIKey() == "" {
		logger.Warn("no API key configured, set one with -set-api-key", logger.String("config", cm.GetConfigPath()))
	}

	entries, err := loadEntries(opts.input)
	if err != nil {
		return 1, err
	}
	notes, err := loadContext(opts.contextPath)
	if err != nil {
		return 1, err
	}

	items := buildItems(entries, notes)

	tc := cache.New(filepath.Join(cm.GetWorkDirectory(), "cache", "translations.json"))
	if err := tc.Load(); err != nil {
		logger.Warn("translation cache unavailable, starting empty", logger.Err(err))
		tc.Clear()
	}
	var cached []types.TranslationRecord
	pending := items
	if !opts.noCache {
		cached, pending = tc.Filter(opts.source, opts.target, items)
	}

	res := &translator.RunResult{}
	if len(pending) > 0 {
		chat, err := llm.NewChatModel(ctx, cfg, llm.Options{Timeout: cm.GetRequestTimeout()})
		if err != nil {
			return 1, err
		}

		orch := translator.New(chat, translator.Options{
			MaxAttempts:    cfg.MaxAttempts,
			RetryBaseDelay: cm.GetRetryBaseDelay(),
		})
		runner := translator.NewRunner(orch, translator.RunnerConfig{
			BatchMaxItems: cfg.BatchMaxItems,
			BatchMaxChars: cfg.BatchMaxChars,
			Concurrency:   cm.GetConcurrency(),
		})

		fmt.Printf("Translating %d strings %s -> %s (model %s at %s, %d cached)\n",
			len(pending), opts.source, opts.target, cm.GetModel(), cm.GetBaseURL(), len(cached))
		res, err = runner.Run(ctx, translator.RunRequest{
			Name:         opts.name,
			SourceLocale: opts.source,
			TargetLocale: opts.target,
			Items:        pending,
		}, func(done, total int) {
			fmt.Printf("  [%d/%d]\n", done, total)
		})
		if err != nil {
			return 1, err
		}
	}

	records := mergeRecords(items, cached, res.Records)
	if err := saveOutput(opts.output, records); err != nil {
		return 1, err
	}

	updateCache(tc, opts, items, res.Records)
	if err := tc.Save(); err != nil {
		logger.Warn("failed to save translation cache", logger.Err(err))
	}

	ledger, err := openLedger(cm)
	if err != nil {
		logger.Warn("failure ledger unavailable", logger.Err(err))
	} else if err := updateLedger(ledger, opts, res); err != nil {
		logger.Warn("failed to update failure ledger", logger.Err(err))
	}

	fmt.Printf("✓ %d/%d strings written to %s (%d tokens)\n",
		len(records), len(entries), opts.output, res.Usage.TotalTokens)
	if tc.Path() != "" {
		fmt.Printf("  cache: %d entries in %s\n", tc.Size(), tc.Path())
	}
	if len(res.Failed) > 0 {
		fmt.Printf("✗ %d batch(es) failed:\n", len(res.Failed))
		for _, f := range res.Failed {
			fmt.Printf("  - %s: %v\n", f.BatchID, f.Err)
		}
		return 1, nil
	}
	return 0, nil
}

// mergeRecords puts cached and freshly translated records back in input order.
func mergeRecords(items []types.BatchItem, groups ...[]types.TranslationRecord) []types.TranslationRecord {
	byKey := make(map[string]types.TranslationRecord)
	for _, g := range groups {
		for _, rec := range g {
			byKey[rec.Key] = rec
		}
	}
	out := make([]types.TranslationRecord, 0, len(byKey))
	for _, it := range items {
		if rec, ok := byKey[it.Key]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func updateCache(tc *cache.TranslationCache, opts *options, items []types.BatchItem, records []types.TranslationRecord) {
	byKey := make(map[string]types.BatchItem, len(items))
	for _, it := range items {
		byKey[it.Key] = it
	}
	for _, rec := range records {
		it, ok := byKey[rec.Key]
		if !ok {
			continue
		}
		// keep the original timestamp of unchanged entries
		if prev, hit := tc.Get(opts.source, opts.target, it); hit && prev == rec.TranslatedText {
			continue
		}
		tc.Set(opts.source, opts.target, it, rec.TranslatedText)
	}
}

// maintain runs the config and ledger modes that replace a translation.
func maintain(opts *options, w io.Writer) error {
	cm, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.setAPIKey != "" {
		if err := cm.SetAPIKey(opts.setAPIKey); err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ API key saved to %s\n", cm.GetConfigPath())
	}
	if !opts.ledgerMode() {
		return nil
	}

	ledger, err := openLedger(cm)
	if err != nil {
		return err
	}

	if opts.showFailure != "" {
		rec, ok := ledger.GetFailure(opts.showFailure)
		if !ok {
			return fmt.Errorf("no failure recorded for %s", opts.showFailure)
		}
		printFailure(w, rec)
	}
	if opts.listFailures {
		recs := ledger.ListFailures()
		fmt.Fprintf(w, "%d failed batch(es) in %s\n", len(recs), ledger.Path())
		for _, rec := range recs {
			fmt.Fprintf(w, "  - %s [%s] -> %s: %s\n",
				rec.BatchID, errors.GetStageDisplayName(rec.Stage), rec.TargetLocale, rec.ErrorMsg)
		}
	}
	if opts.exportFailures != "" {
		if err := ledger.ExportBatchIDs(opts.exportFailures); err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ failed batch ids written to %s\n", opts.exportFailures)
	}
	if opts.clearFailures {
		n := len(ledger.ListFailures())
		if err := ledger.ClearAll(); err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ cleared %d failed batch(es)\n", n)
	}
	return nil
}

func printFailure(w io.Writer, rec *errors.FailureRecord) {
	fmt.Fprintf(w, "batch:    %s\n", rec.BatchID)
	fmt.Fprintf(w, "source:   %s -> %s\n", rec.Source, rec.TargetLocale)
	fmt.Fprintf(w, "stage:    %s\n", errors.GetStageDisplayName(rec.Stage))
	fmt.Fprintf(w, "attempts: %d (failed again in %d later run(s))\n", rec.Attempts, rec.RetryCount)
	fmt.Fprintf(w, "error:    %s\n", rec.ErrorMsg)
	fmt.Fprintf(w, "keys:     %s\n", strings.Join(rec.Keys, ", "))
	if len(rec.MissingKeys) > 0 {
		fmt.Fprintf(w, "missing:  %s\n", strings.Join(rec.MissingKeys, ", "))
	}
}

// updateLedger records failed batches and clears earlier failures of batches
// that now succeeded.
func updateLedger(ledger *errors.ErrorManager, opts *options, res *translator.RunResult) error {
	failed := make(map[string]bool, len(res.Failed))
	for _, f := range res.Failed {
		failed[f.BatchID] = true
		if err := ledger.RecordFailure(failureRecord(opts, f)); err != nil {
			return err
		}
	}
	for i := 1; i <= res.Batches; i++ {
		id := fmt.Sprintf("%s.part%d", opts.name, i)
		if failed[id] {
			continue
		}
		if _, err := ledger.Resolve(id); err != nil {
			return err
		}
	}
	return nil
}

func failureRecord(opts *options, f translator.BatchFailure) errors.FailureRecord {
	rec := errors.FailureRecord{
		BatchID:      f.BatchID,
		Source:       opts.input,
		TargetLocale: opts.target,
		Stage:        errors.StageStream,
		ErrorMsg:     f.Err.Error(),
		Keys:         f.Keys,
	}

	var verr *translator.VerificationError
	var terr *translator.TransportError
	switch {
	case stderrors.As(f.Err, &verr):
		rec.Stage = errors.StageVerification
		rec.MissingKeys = verr.Outcome.MissingKeys
		rec.Attempts = verr.Attempts
	case stderrors.As(f.Err, &terr):
		rec.Attempts = terr.Attempt
	}
	return rec
}
