package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Local finds hives on a mounted file system.
type Local struct {
	// Root is a directory walked recursively, or a single file.
	Root string
	// FileName is matched case-insensitively against base names.
	FileName string
}

var _ Source = Local{}

// Find returns the paths of matching files in lexical walk order.
func (l Local) Find(ctx context.Context) ([]string, error) {
	if l.FileName == "" {
		return nil, errors.New("acquire: file name must not be empty")
	}
	fi, err := os.Stat(l.Root)
	if err != nil {
		return nil, fmt.Errorf("acquire: root: %w", err)
	}
	if !fi.IsDir() {
		if strings.EqualFold(filepath.Base(l.Root), l.FileName) {
			return []string{l.Root}, nil
		}
		return nil, nil
	}

	var found []string
	err = filepath.WalkDir(l.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are common on mounted images.
			log.Printf("acquire: skip path=%s err=%v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.EqualFold(d.Name(), l.FileName) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("acquire: walk %s: %w", l.Root, err)
	}
	return found, nil
}

// Acquire copies every match into workDir. The context is checked before
// each file; a cancelled run returns the context error.
func (l Local) Acquire(ctx context.Context, workDir string) ([]Hive, error) {
	paths, err := l.Find(ctx)
	if err != nil {
		return nil, err
	}
	hives := make([]Hive, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(copyWorkers)
	for i, p := range paths {
		if err := gctx.Err(); err != nil {
			break
		}
		h := Hive{ID: int64(i + 1), Name: filepath.Base(p), Origin: p}
		h.Path = stagePath(workDir, h.ID, h.Name)
		hives[i] = h
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return copyFile(h.Origin, h.Path)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	log.Printf("acquire: root=%s found=%d", l.Root, len(hives))
	return hives, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	adviseSequential(in)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
