// Package localfs exposes a directory tree of source documents as a content-addressed catalog.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/filings-corpus/internal/core/cid"
	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

var DefaultExtensions = []string{".pdf"}

type Catalog struct {
	root       string
	extensions map[string]struct{}
	workers    int
	log        *slog.Logger

	mu    sync.RWMutex
	index map[string]string
}

func New(root string, extensions []string, workers int, log *slog.Logger) (*Catalog, error) {
	if strings.TrimSpace(root) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "source catalog", errors.New("empty source directory"))
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{root: root, extensions: exts, workers: workers, log: log}, nil
}

func (c *Catalog) Root() string {
	return c.root
}

// Scan hashes every matching file under the root. Files with identical bytes collapse to
// one document whose Path is the lexicographically smallest and whose Aliases are the rest.
func (c *Catalog) Scan(ctx context.Context) (map[string]domain.SourceDocument, error) {
	paths, err := c.walk(ctx)
	if err != nil {
		return nil, err
	}

	type hashed struct {
		path string
		cid  string
		size int64
	}
	var (
		mu  sync.Mutex
		out = make([]hashed, 0, len(paths))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			id, size, err := hashFile(path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					c.log.Debug("source_vanished", "path", path)
				} else {
					c.log.Warn("source_hash_failed", "path", path, "error", err)
				}
				return nil
			}
			mu.Lock()
			out = append(out, hashed{path: path, cid: id, size: size})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("hash sources: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	docs := make(map[string]domain.SourceDocument, len(out))
	index := make(map[string]string, len(out))
	for _, h := range out {
		doc, seen := docs[h.cid]
		if seen {
			doc.Aliases = append(doc.Aliases, h.path)
			docs[h.cid] = doc
			continue
		}
		docs[h.cid] = domain.SourceDocument{CID: h.cid, Path: h.path, Size: h.size}
		index[h.cid] = h.path
	}

	c.mu.Lock()
	c.index = index
	c.mu.Unlock()

	c.log.Debug("source_scan_complete", "files", len(paths), "documents", len(docs))
	return docs, nil
}

// Open returns the bytes currently stored for id. Bytes that no longer hash to id are
// reported as not found so a stale path never feeds a record under the wrong CID.
func (c *Catalog) Open(ctx context.Context, id string) ([]byte, error) {
	c.mu.RLock()
	scanned := c.index != nil
	path, ok := c.index[id]
	c.mu.RUnlock()

	if !scanned {
		if _, err := c.Scan(ctx); err != nil {
			return nil, err
		}
		c.mu.RLock()
		path, ok = c.index[id]
		c.mu.RUnlock()
	}
	if !ok {
		return nil, domain.WrapError(domain.ErrSourceNotFound, "open source", fmt.Errorf("no document for cid %s", id))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrSourceNotFound, "open source", err)
		}
		return nil, fmt.Errorf("read source: %w", err)
	}
	if got := cid.Compute(data); got != id {
		return nil, domain.WrapError(domain.ErrSourceNotFound, "open source", fmt.Errorf("%s changed since scan: now %s", path, got))
	}
	return data, nil
}

func (c *Catalog) walk(ctx context.Context) ([]string, error) {
	info, err := os.Stat(c.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrSourceNotFound, "scan sources", err)
		}
		return nil, fmt.Errorf("stat source dir: %w", err)
	}
	if !info.IsDir() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "scan sources", fmt.Errorf("%s is not a directory", c.root))
	}

	var paths []string
	err = filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != c.root && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		hidden := path != c.root && strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if hidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden || !d.Type().IsRegular() {
			return nil
		}
		if _, ok := c.extensions[strings.ToLower(filepath.Ext(d.Name()))]; ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk source dir: %w", err)
	}
	return paths, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	id, err := cid.FromReader(f)
	if err != nil {
		return "", 0, err
	}
	return id, info.Size(), nil
}
