package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type outputSink struct {
	writer io.Writer
	close  func() error
	path   string
}

// openSink returns stdout for "" or "-", otherwise a created file.
func openSink(path string, stdout io.Writer) (*outputSink, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == "-" {
		return &outputSink{writer: stdout, close: func() error { return nil }, path: "-"}, nil
	}

	// #nosec G301 -- output directories use 0755 like the data directory
	if err := os.MkdirAll(filepath.Dir(trimmed), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(trimmed) // #nosec G304 -- path comes from the operator's --out flag
	if err != nil {
		return nil, err
	}
	return &outputSink{writer: file, close: file.Close, path: trimmed}, nil
}
