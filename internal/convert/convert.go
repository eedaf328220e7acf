// Package convert runs the external parser that turns a registry hive into
// a SQLite database.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// ErrNotFound reports a missing parser executable.
var ErrNotFound = errors.New("convert: parser executable not found")

// ExecutableName is the parser file name for goos.
func ExecutableName(goos string) string {
	if goos == "windows" {
		return "amcache_parser.exe"
	}
	return "amcache_parser"
}

// Converter invokes the parser as "<exe> <hive> <db>".
type Converter struct {
	Exe     string
	Timeout time.Duration
}

// Locate resolves the parser. path may name the executable itself or a
// directory holding it; empty means the directory of the running binary.
func Locate(path string, timeout time.Duration) (*Converter, error) {
	if path == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("convert: locate self: %w", err)
		}
		path = filepath.Dir(self)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if fi.IsDir() {
		path = filepath.Join(path, ExecutableName(runtime.GOOS))
		if fi, err = os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}
	return &Converter{Exe: path, Timeout: timeout}, nil
}

// Run converts hive into a database at dbPath. Output of the parser is
// written to the log one line at a time.
func (c *Converter) Run(ctx context.Context, hive, dbPath string) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("convert: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Exe, hive, dbPath)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	logOutput("stdout", stdout.String())
	logOutput("stderr", stderr.String())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("convert: %s: %w", filepath.Base(hive), ctxErr)
		}
		return fmt.Errorf("convert: %s: %w", filepath.Base(hive), err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("convert: %s produced no database: %w", filepath.Base(hive), err)
	}
	log.Printf("convert: hive=%s db=%s dur=%s", hive, dbPath, time.Since(start).Truncate(time.Millisecond))
	return nil
}

func logOutput(stream, out string) {
	for _, line := range strings.Split(strings.TrimRight(out, "\r\n"), "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			log.Printf("convert: %s: %s", stream, line)
		}
	}
}
