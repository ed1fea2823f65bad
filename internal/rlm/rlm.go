// Package rlm implements the RLM Context Store (C6): named immutable blobs
// of text, addressable by byte range, chunk, or regex, shared across a
// script execution under a single mutex.
package rlm

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"grits/internal/logging"
)

// Tag is the semantic type attached to a blob at load time. It is
// informational only: every operation treats content as text.
type Tag string

const (
	TagString       Tag = "string"
	TagStructured   Tag = "structured"
	TagDocuments    Tag = "documents"
	TagSymbolGraph  Tag = "symbol_graph"
	TagCodeFiles    Tag = "code_files"
	TagMiniCodebase Tag = "mini_codebase"
	TagFile         Tag = "file"
)

// blob is a single immutable named value. Content never changes after
// Load; re-loading a name replaces the blob entirely.
type blob struct {
	content         string
	tag             Tag
	chunkBoundaries []int // byte offsets of the most recent Chunk call
}

// Store is the mutex-guarded RLM context store. The zero value is not
// usable; use New.
type Store struct {
	mu    sync.Mutex
	blobs map[string]*blob
}

// New returns an empty store.
func New() *Store {
	return &Store{blobs: make(map[string]*blob)}
}

// Load stores content under name with the given tag, replacing any
// existing blob of the same name.
func (s *Store) Load(name, content string, tag Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[name] = &blob{content: content, tag: tag}
	logging.Get(logging.CategoryRLM).Debug("load name=%s tag=%s bytes=%d", name, tag, len(content))
}

func (s *Store) get(name string) (*blob, error) {
	b, ok := s.blobs[name]
	if !ok {
		return nil, fmt.Errorf("rlm: no such variable %q", name)
	}
	return b, nil
}

// Peek returns content[start:end], clamped to [0, len(content)]. Offsets
// are byte offsets, not code points: callers addressing string-tagged
// content that may contain multi-byte runes should prefer Chunk.
func (s *Store) Peek(name string, start, end int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(name)
	if err != nil {
		return "", err
	}
	n := len(b.content)
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start >= end {
		return "", nil
	}
	return b.content[start:end], nil
}

// Length returns the byte length of the named blob's content.
func (s *Store) Length(name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(name)
	if err != nil {
		return 0, err
	}
	return len(b.content), nil
}

// Chunk splits content into contiguous pieces of at most size code points
// each, never splitting a multi-byte rune, and records the byte offset at
// which each chunk starts (plus one trailing boundary at len(content)) as
// the blob's chunk_boundaries.
func (s *Store) Chunk(name string, size int) ([]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("rlm: chunk size must be positive, got %d", size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(name)
	if err != nil {
		return nil, err
	}

	var chunks []string
	boundaries := []int{0}
	runes := []rune(b.content)
	byteOffset := 0
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		piece := string(runes[i:end])
		chunks = append(chunks, piece)
		byteOffset += len(piece)
		boundaries = append(boundaries, byteOffset)
	}
	if chunks == nil {
		chunks = []string{}
		boundaries = []int{0}
	}
	b.chunkBoundaries = boundaries
	return chunks, nil
}

// ChunkBoundaries returns the byte offsets recorded by the most recent
// Chunk call for name, or nil if Chunk has never been called on it.
func (s *Store) ChunkBoundaries(name string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(name)
	if err != nil {
		return nil, err
	}
	return append([]int(nil), b.chunkBoundaries...), nil
}

// RegexFilter returns every line of content matching pattern, in order. A
// malformed pattern is reported as an error, not silently dropped.
func (s *Store) RegexFilter(name, pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("rlm: invalid pattern %q: %w", pattern, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(name)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(b.content, "\n") {
		if re.MatchString(line) {
			out = append(out, line)
		}
	}
	return out, nil
}

// Contains reports whether substr occurs in the named blob's content.
func (s *Store) Contains(name, substr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(name)
	if err != nil {
		return false, err
	}
	return strings.Contains(b.content, substr), nil
}

// Remove deletes name, reporting whether it existed.
func (s *Store) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[name]
	delete(s.blobs, name)
	return ok
}

// List returns every currently loaded variable name.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.blobs))
	for name := range s.blobs {
		out = append(out, name)
	}
	return out
}

// Clear removes every variable from the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = make(map[string]*blob)
}
