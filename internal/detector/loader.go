package detector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/shingles/pkg/errors"
)

// maxLineSize bounds a single document in AddLines.
const maxLineSize = 4 << 20

// LoadError reports a document source that could not be read. It matches
// errors.ErrLoad and the underlying cause.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{apperrors.ErrLoad, e.Err}
}

// AddReader reads r completely and adds it as one document. A read error
// consumes no id.
func (d *Detector) AddReader(ctx context.Context, source string, r io.Reader) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, &LoadError{Source: source, Err: err}
	}
	return d.AddDocument(ctx, string(data))
}

// AddFile adds the contents of the file at path as one document.
func (d *Detector) AddFile(ctx context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, &LoadError{Source: path, Err: err}
	}
	return d.AddDocument(ctx, string(data))
}

// AddLines adds every non-blank line of r as its own document, in order.
// Results of the lines added before a failure are returned with the error.
func (d *Detector) AddLines(ctx context.Context, source string, r io.Reader) ([]Result, error) {
	var results []Result
	err := d.AddLinesFunc(ctx, source, r, func(_ string, res Result) error {
		results = append(results, res)
		return nil
	})
	return results, err
}

// AddLinesFunc is AddLines calling fn with each added line and its result.
// An error from fn stops the load and is returned as is.
func (d *Detector) AddLinesFunc(ctx context.Context, source string, r io.Reader, fn func(line string, res Result) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := d.AddDocument(ctx, text)
		if err != nil {
			return fmt.Errorf("%s line %d: %w", source, line, err)
		}
		if err := fn(text, res); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return &LoadError{Source: fmt.Sprintf("%s line %d", source, line+1), Err: err}
	}
	return nil
}
