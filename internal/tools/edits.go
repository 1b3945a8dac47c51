package tools

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// FileEdit is a whole-file replacement proposed by a model
type FileEdit struct {
	Path    string
	Content string
}

var (
	fileBlockRe   = regexp.MustCompile(`(?s)--- FILE:\s*(.+?)\s*---\n(.*?)--- END FILE ---`)
	fencedBlockRe = regexp.MustCompile("(?s)```\\w*(?::|[ \\t]+)([^\\n`]+)\\n(.*?)```")
)

// ParseEdits extracts file edits from a model response. The delimited
// "--- FILE: path ---" form is preferred; fenced code blocks annotated with a
// path are only considered when no delimited block is present.
func ParseEdits(response string) []FileEdit {
	response = strings.ReplaceAll(response, "\r\n", "\n")

	var edits []FileEdit
	for _, m := range fileBlockRe.FindAllStringSubmatch(response, -1) {
		edits = append(edits, FileEdit{Path: strings.TrimSpace(m[1]), Content: m[2]})
	}
	if len(edits) > 0 {
		return edits
	}

	for _, m := range fencedBlockRe.FindAllStringSubmatch(response, -1) {
		path := strings.TrimSpace(m[1])
		if !strings.ContainsAny(path, "/.") || strings.ContainsAny(path, " \t") {
			continue
		}
		edits = append(edits, FileEdit{Path: path, Content: m[2]})
	}
	return edits
}

// ResolveInRoot joins rel onto root and reports false when the result would
// leave root.
func ResolveInRoot(root, rel string) (string, bool) {
	if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", false
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	back, err := filepath.Rel(root, full)
	if err != nil || back == "." || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

// ApplyEdits writes each edit under root. Writes go through an os.Root, so
// neither ".." nor a symlink in the checkout can place a file outside root.
// Edits that escape root or fail to write are logged and skipped. It returns
// the relative paths that were written; the error is reserved for a root
// that cannot be opened.
func ApplyEdits(root string, edits []FileEdit, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r, err := os.OpenRoot(root)
	if err != nil {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}
	defer r.Close()

	var written []string
	for _, e := range edits {
		if _, ok := ResolveInRoot(root, e.Path); !ok {
			logger.Warn("dropping edit outside workspace", "path", e.Path)
			continue
		}
		if err := writeInRoot(r, filepath.Clean(filepath.FromSlash(e.Path)), e.Content); err != nil {
			logger.Warn("skipping edit", "path", e.Path, "error", err)
			continue
		}
		written = append(written, e.Path)
	}
	return written, nil
}

func writeInRoot(r *os.Root, rel, content string) error {
	if err := mkdirAllInRoot(r, filepath.Dir(rel)); err != nil {
		return err
	}
	f, err := r.Create(rel)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// mkdirAllInRoot creates dir and its parents one segment at a time; os.Root
// resolves each step and rejects links that lead out of the root.
func mkdirAllInRoot(r *os.Root, dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	var path string
	for _, seg := range strings.Split(dir, string(filepath.Separator)) {
		path = filepath.Join(path, seg)
		err := r.Mkdir(path, 0755)
		if err == nil || errors.Is(err, fs.ErrExist) {
			continue
		}
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	return nil
}
