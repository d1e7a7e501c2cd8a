package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/detector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(topic string) string {
	out := make([]string, 30)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", topic, i)
	}
	return strings.Join(out, " ")
}

func corpus() string {
	return strings.Join([]string{
		words("alpha"),
		"",
		words("bravo"),
		strings.ToUpper(words("alpha")),
	}, "\n") + "\n"
}

func TestRun_LinesFromStdin(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), nil, strings.NewReader(corpus()), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	assert.Equal(t, "---------- similar documents -----------\n"+
		"1 : [3]\n"+
		"----------------------------------------\n"+
		"# of total documents 3\n", stdout.String())
}

func TestRun_JSONFiles(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, body := range []string{words("alpha"), words("alpha") + " tail", words("charlie")} {
		p := filepath.Join(dir, fmt.Sprintf("doc%d.txt", i))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		paths = append(paths, p)
	}

	var stdout, stderr bytes.Buffer
	args := append([]string{"-mode", "files", "-json"}, paths...)
	code := run(context.Background(), args, nil, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	dec := json.NewDecoder(&stdout)
	var results []detector.Result
	for dec.More() {
		var res detector.Result
		require.NoError(t, dec.Decode(&res))
		results = append(results, res)
	}
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[1].Master)
	assert.True(t, results[1].Similar)
	assert.False(t, results[2].Similar)
}

func TestRun_SegmentPersistsAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "corpus.txt")
	require.NoError(t, os.WriteFile(input, []byte(corpus()), 0o644))
	t.Setenv("SHINGLES_INDEX_DATA_DIR", dir)

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run(context.Background(), []string{"-backend", "segment", input}, nil, &stdout, &stderr), stderr.String())

	stdout.Reset()
	require.Equal(t, 0, run(context.Background(), []string{"-backend", "segment", input}, nil, &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "# of total documents 6\n")
	assert.Contains(t, stdout.String(), "1 : [3 4 6]\n")

	stdout.Reset()
	require.Equal(t, 0, run(context.Background(), []string{"-backend", "segment", "-reset", input}, nil, &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "# of total documents 3\n")
}

func TestRun_OutputWritesUniqueLines(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "corpus.txt")
	output := filepath.Join(dir, "unique.txt")
	require.NoError(t, os.WriteFile(input, []byte(corpus()+words("alpha")+" tail\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-output", output, input}, nil, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, words("alpha")+"\n"+words("bravo")+"\n", string(data))
	assert.Contains(t, stderr.String(), "unique lines written")
	assert.Contains(t, stderr.String(), "duplicates=2")
	assert.Contains(t, stdout.String(), "1 : [3 4]\n")
}

func TestRun_Trace(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-trace", "-name", "traced"}, strings.NewReader(corpus()), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stderr.String(), "index traced (memory)\n")
	assert.Contains(t, stderr.String(), "add_document")
}

func TestRun_BadArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"unknown mode", []string{"-mode", "words"}, 2},
		{"files without inputs", []string{"-mode", "files"}, 2},
		{"output in files mode", []string{"-mode", "files", "-output", "out.txt", "a.txt"}, 2},
		{"unknown backend", []string{"-backend", "cassandra"}, 1},
		{"missing file", []string{"-mode", "files", "/does/not/exist.txt"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, tt.code, run(context.Background(), tt.args, strings.NewReader(""), &stdout, &stderr))
		})
	}
}
