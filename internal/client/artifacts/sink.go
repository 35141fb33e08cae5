// Package artifacts stores the files of completed download jobs.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/dmitrijs2005/eagleeye/internal/filex"
)

var ErrInvalidName = errors.New("invalid artifact name")

// Sink receives an artifact body and reports where it ended up.
type Sink interface {
	Save(ctx context.Context, name string, body io.Reader) (location string, err error)
}

// cleanName keeps only the base name and rejects names that would escape
// the destination.
func cleanName(name string) (string, error) {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		return "", ErrInvalidName
	}
	return name, nil
}

// DirSink writes artifacts into a local directory, created on first use.
type DirSink struct {
	dir string
}

func NewDirSink(dir string) *DirSink {
	return &DirSink{dir: dir}
}

func (s *DirSink) Save(ctx context.Context, name string, body io.Reader) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}

	dir, err := filex.EnsureDir(s.dir)
	if err != nil {
		return "", err
	}

	f, err := filex.CreateUnique(dir, name)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: body}); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write %s: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close %s: %w", f.Name(), err)
	}
	return f.Name(), nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
