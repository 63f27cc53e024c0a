package profilepool

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Loader fetches profile bytes for a source string.
type Loader interface {
	Load(ctx context.Context, source string) ([]byte, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, source string) ([]byte, error)

func (f LoaderFunc) Load(ctx context.Context, source string) ([]byte, error) { return f(ctx, source) }

// DefaultMaxProfileSize bounds FileLoader reads when MaxSize is zero.
const DefaultMaxProfileSize = 16 * 1024 * 1024

// FileLoader reads plain paths and file:// URLs.
type FileLoader struct {
	MaxSize int64
}

func (l *FileLoader) Load(ctx context.Context, source string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := source
	if strings.HasPrefix(path, "file://") {
		path = strings.TrimPrefix(path, "file://")
	} else if strings.Contains(path, "://") {
		return nil, fmt.Errorf("unsupported profile source %q", source)
	}
	limit := l.MaxSize
	if limit <= 0 {
		limit = DefaultMaxProfileSize
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if fi, err := f.Stat(); err == nil && fi.Size() > limit {
		return nil, fmt.Errorf("profile %s is %d bytes, limit %d", path, fi.Size(), limit)
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("profile %s exceeds %d bytes", path, limit)
	}
	return data, nil
}
