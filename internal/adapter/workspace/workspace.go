// Package workspace implements the reference file tool set over a sandboxed
// directory tree.
package workspace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Strob0t/ForgeBot/internal/config"
	"github.com/Strob0t/ForgeBot/internal/domain"
)

// ErrOutsideRoot is returned for paths that resolve outside the workspace.
var ErrOutsideRoot = errors.New("path escapes workspace root")

// Hit is one search match.
type Hit struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Workspace reads and writes files below a single root directory.
type Workspace struct {
	root          string
	maxFileBytes  int64
	maxSearchHits int
}

// New creates the root directory if needed and returns a Workspace over it.
func New(cfg config.Workspace) (*Workspace, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	// Resolve symlinks once so the containment check compares real paths.
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	w := &Workspace{root: root, maxFileBytes: cfg.MaxFileBytes, maxSearchHits: cfg.MaxSearchHits}
	if w.maxFileBytes <= 0 {
		w.maxFileBytes = 1 << 20
	}
	if w.maxSearchHits <= 0 {
		w.maxSearchHits = 50
	}
	return w, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// resolve maps a workspace-relative path to an absolute one inside root.
func (w *Workspace) resolve(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("empty path: %w", domain.ErrInvalidInput)
	}
	abs := filepath.Join(w.root, filepath.Clean("/"+filepath.ToSlash(p)))
	if !w.contains(abs) {
		return "", fmt.Errorf("%s: %w", p, ErrOutsideRoot)
	}
	// A symlink inside the tree may still point out of it, including one in
	// the parent chain of a file that does not exist yet.
	real, err := w.realPath(abs)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p, err)
	}
	if !w.contains(real) {
		return "", fmt.Errorf("%s: %w", p, ErrOutsideRoot)
	}
	return abs, nil
}

// realPath resolves symlinks in abs. Missing trailing elements are kept as
// written below their nearest existing ancestor.
func (w *Workspace) realPath(abs string) (string, error) {
	var missing []string
	for p := abs; ; p = filepath.Dir(p) {
		real, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(append([]string{real}, missing...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		// A dangling link would be followed on write to wherever it points.
		if _, lerr := os.Lstat(p); lerr == nil {
			return "", fmt.Errorf("dangling symlink %s: %w", w.rel(p), ErrOutsideRoot)
		}
		if p == w.root || filepath.Dir(p) == p {
			return "", err
		}
		missing = append([]string{filepath.Base(p)}, missing...)
	}
}

func (w *Workspace) contains(abs string) bool {
	return abs == w.root || strings.HasPrefix(abs, w.root+string(filepath.Separator))
}

func (w *Workspace) rel(abs string) string {
	r, err := filepath.Rel(w.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(r)
}

// Exists reports whether path exists.
func (w *Workspace) Exists(path string) (bool, error) {
	abs, err := w.resolve(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ReadFile returns the file content.
func (w *Workspace) ReadFile(_ context.Context, path string) (string, error) {
	abs, err := w.resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, domain.ErrNotFound)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory: %w", path, domain.ErrInvalidInput)
	}
	if info.Size() > w.maxFileBytes {
		return "", fmt.Errorf("%s is %d bytes, limit %d: %w", path, info.Size(), w.maxFileBytes, domain.ErrInvalidInput)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile creates or overwrites path, creating parent directories.
func (w *Workspace) WriteFile(_ context.Context, path, content string) error {
	if int64(len(content)) > w.maxFileBytes {
		return fmt.Errorf("%s: content is %d bytes, limit %d: %w", path, len(content), w.maxFileBytes, domain.ErrInvalidInput)
	}
	abs, err := w.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	tmp := abs + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, abs)
}

// EditFile replaces the single occurrence of old with replacement. An old
// string that is missing or ambiguous is an error so the model can retry
// with more context.
func (w *Workspace) EditFile(ctx context.Context, path, old, replacement string) error {
	if old == "" {
		return fmt.Errorf("old text is empty: %w", domain.ErrInvalidInput)
	}
	content, err := w.ReadFile(ctx, path)
	if err != nil {
		return err
	}
	switch n := strings.Count(content, old); n {
	case 0:
		return fmt.Errorf("%s: old text not found: %w", path, domain.ErrNotFound)
	case 1:
	default:
		return fmt.Errorf("%s: old text matches %d times, include more context: %w", path, n, domain.ErrInvalidInput)
	}
	return w.WriteFile(ctx, path, strings.Replace(content, old, replacement, 1))
}

// List returns the files below dir (workspace-relative, sorted). Hidden
// entries such as .git are skipped.
func (w *Workspace) List(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	abs, err := w.resolve(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != abs && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, w.rel(p))
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", dir, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Search returns up to maxSearchHits lines below dir containing query,
// case-insensitively.
func (w *Workspace) Search(ctx context.Context, query, dir string) ([]Hit, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, fmt.Errorf("empty query: %w", domain.ErrInvalidInput)
	}
	files, err := w.List(dir)
	if err != nil {
		return nil, err
	}
	var hits []Hit
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return hits, err
		}
		fh, err := w.searchFile(f, query, w.maxSearchHits-len(hits))
		if err != nil {
			return nil, err
		}
		hits = append(hits, fh...)
		if len(hits) >= w.maxSearchHits {
			break
		}
	}
	return hits, nil
}

func (w *Workspace) searchFile(path, query string, limit int) ([]Hit, error) {
	f, err := os.Open(filepath.Join(w.root, filepath.FromSlash(path)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var hits []Hit
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), int(w.maxFileBytes))
	for n := 1; sc.Scan() && len(hits) < limit; n++ {
		line := sc.Text()
		if strings.Contains(strings.ToLower(line), query) {
			hits = append(hits, Hit{Path: path, Line: n, Text: strings.TrimSpace(line)})
		}
	}
	// Binary or over-long files are skipped rather than failing the search.
	if errors.Is(sc.Err(), bufio.ErrTooLong) {
		return hits, nil
	}
	return hits, sc.Err()
}
