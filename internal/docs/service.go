// Package docs renders AsciiDoc documents to HTML for the node's /docs
// route. Documents are read from a directory when one is configured and
// otherwise from the reference compiled into the binary.
package docs

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bytesparadise/libasciidoc"
	"github.com/bytesparadise/libasciidoc/pkg/configuration"
)

// DefaultDocument is served at /docs.
const DefaultDocument = "rpc.adoc"

//go:embed *.adoc
var builtin embed.FS

type Service struct {
	docsDir string
	cache   map[string]string // filename -> html content
	mu      sync.RWMutex
}

// NewService creates a renderer. An empty docsDir serves only the
// built-in documents.
func NewService(docsDir string) *Service {
	return &Service{
		docsDir: docsDir,
		cache:   make(map[string]string),
	}
}

func (s *Service) GetDoc(ctx context.Context, filename string) (string, error) {
	if filename != filepath.Base(filename) || !strings.HasSuffix(filename, ".adoc") {
		return "", fmt.Errorf("invalid document name %q", filename)
	}

	s.mu.RLock()
	content, ok := s.cache[filename]
	s.mu.RUnlock()
	if ok {
		return content, nil
	}

	data, err := s.read(filename)
	if err != nil {
		return "", fmt.Errorf("failed to read doc file: %w", err)
	}

	html, err := Render(data)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cache[filename] = html
	s.mu.Unlock()

	return html, nil
}

func (s *Service) read(filename string) ([]byte, error) {
	if s.docsDir != "" {
		data, err := os.ReadFile(filepath.Join(s.docsDir, filename))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return builtin.ReadFile(filename)
}

// Render converts an AsciiDoc body to an HTML fragment.
func Render(source []byte) (string, error) {
	output := bytes.NewBuffer(nil)
	config := configuration.NewConfiguration(
		configuration.WithHeaderFooter(false),
		configuration.WithAttribute("toc", "left"),
	)
	if _, err := libasciidoc.Convert(bytes.NewReader(source), output, config); err != nil {
		return "", fmt.Errorf("failed to convert asciidoc: %w", err)
	}
	return output.String(), nil
}

// ListDocs returns the available document names, built-in ones included.
func (s *Service) ListDocs() ([]string, error) {
	seen := make(map[string]bool)
	if s.docsDir != "" {
		entries, err := os.ReadDir(s.docsDir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".adoc") {
				seen[entry.Name()] = true
			}
		}
	}
	builtinNames, _ := fs.Glob(builtin, "*.adoc")
	for _, name := range builtinNames {
		seen[name] = true
	}

	docs := make([]string, 0, len(seen))
	for name := range seen {
		docs = append(docs, name)
	}
	sort.Strings(docs)
	return docs, nil
}
