// Command shingles loads documents into a shingles index and prints the
// near-duplicate clusters it finds.
//
//	shingles -mode lines corpus.txt       one document per non-blank line
//	shingles -mode files a.txt b.txt ...  one document per file
//	shingles -output unique.txt corpus.txt
//
// With no file arguments in lines mode, documents are read from stdin. With
// -output, every line that is not a near-duplicate of an earlier one is
// written to the output file.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/detector"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/logger"
)

const (
	modeLines = "lines"
	modeFiles = "files"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	configPath string
	mode       string
	backend    string
	name       string
	jsonOut    bool
	trace      bool
	reset      bool
	output     string
	inputs     []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("shingles", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "path to config file (defaults apply when empty)")
	fs.StringVar(&opts.mode, "mode", modeLines, "input mode: lines or files")
	fs.StringVar(&opts.backend, "backend", "", "override index.backend")
	fs.StringVar(&opts.name, "name", "", "override index.name")
	fs.BoolVar(&opts.jsonOut, "json", false, "print one JSON result per document instead of the report")
	fs.BoolVar(&opts.trace, "trace", false, "print per-operation index timings to stderr")
	fs.BoolVar(&opts.reset, "reset", false, "delete the index contents before loading")
	fs.StringVar(&opts.output, "output", "", "lines mode: write the lines that are not near-duplicates to this file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.mode != modeLines && opts.mode != modeFiles {
		return nil, fmt.Errorf("unknown -mode %q", opts.mode)
	}
	opts.inputs = fs.Args()
	if opts.mode == modeFiles && len(opts.inputs) == 0 {
		return nil, errors.New("-mode files needs at least one file")
	}
	if opts.mode == modeFiles && opts.output != "" {
		return nil, errors.New("-output needs -mode lines")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "shingles: %v\n", err)
		return 2
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	if opts.backend != "" {
		cfg.Index.Backend = opts.backend
	}
	if opts.name != "" {
		cfg.Index.Name = opts.name
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 1
	}
	logger.SetupWriter(stderr, cfg.Logging.Level, cfg.Logging.Format)

	if err := load(ctx, cfg, opts, stdin, stdout, stderr); err != nil {
		slog.Error("shingles failed", "error", err)
		return 1
	}
	return 0
}

func load(ctx context.Context, cfg *config.Config, opts *options, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	h, err := backend.New(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, h.Close())
	}()

	det := detector.New(h.Index, shingle.NewGenerator(cfg.Shingle), cfg.Detector)
	if err := det.Open(ctx); err != nil {
		return err
	}
	if opts.reset {
		if err := det.Reset(ctx); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(stdout)
	emit := func(results ...detector.Result) error {
		if !opts.jsonOut {
			return nil
		}
		for _, res := range results {
			if err := enc.Encode(res); err != nil {
				return err
			}
		}
		return nil
	}

	switch opts.mode {
	case modeFiles:
		for _, path := range opts.inputs {
			res, err := det.AddFile(ctx, path)
			if err != nil {
				return err
			}
			slog.Debug("file added", "path", path, "doc_id", res.ID)
			if err := emit(res); err != nil {
				return err
			}
		}
	default:
		var unique *bufio.Writer
		if opts.output != "" {
			f, err := os.Create(opts.output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			unique = bufio.NewWriter(f)
		}
		var added, duplicates int
		onLine := func(line string, res detector.Result) error {
			added++
			if err := emit(res); err != nil {
				return err
			}
			if res.Similar {
				duplicates++
				return nil
			}
			if unique == nil {
				return nil
			}
			_, err := unique.WriteString(line + "\n")
			return err
		}

		if len(opts.inputs) == 0 {
			if err := det.AddLinesFunc(ctx, "stdin", stdin, onLine); err != nil {
				return err
			}
		}
		for _, path := range opts.inputs {
			if err := addLineFile(ctx, det, path, onLine); err != nil {
				return err
			}
		}
		if unique != nil {
			if err := unique.Flush(); err != nil {
				return fmt.Errorf("writing output file: %w", err)
			}
			slog.Info("unique lines written",
				"path", opts.output,
				"lines", added,
				"unique", added-duplicates,
				"duplicates", duplicates,
			)
		} else {
			slog.Info("lines checked", "lines", added, "duplicates", duplicates)
		}
	}

	if err := det.Save(ctx); err != nil {
		return err
	}
	if !opts.jsonOut {
		if err := det.WriteReport(ctx, stdout); err != nil {
			return err
		}
	}
	if opts.trace {
		fmt.Fprint(stderr, h.Index.TraceReport())
	}
	return nil
}

func addLineFile(ctx context.Context, det *detector.Detector, path string, fn func(string, detector.Result) error) error {
	f, err := os.Open(path)
	if err != nil {
		return &detector.LoadError{Source: path, Err: err}
	}
	defer f.Close()
	return det.AddLinesFunc(ctx, path, f, fn)
}
