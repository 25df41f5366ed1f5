// Package upload stages client uploads on local disk until the daemon picks
// them up by path. Large files may arrive as numbered chunks.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/model"
	"github.com/mahaj/msgbridge/pkg/snowflake"
)

const (
	// MaxChunks bounds a single chunked upload.
	MaxChunks = 10000

	chunkDir = "chunks"
	fileDir  = "files"
)

type Stager struct {
	root string
	node *snowflake.Node
	log  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]time.Time // upload id -> started
}

func NewStager(root string, node *snowflake.Node, log zerolog.Logger) (*Stager, error) {
	if root == "" {
		return nil, errors.New("upload: staging directory is required")
	}
	// The daemon resolves staged paths on its own, so they must be absolute.
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("upload: resolve %s: %w", root, err)
	}
	for _, dir := range []string{chunkDir, fileDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o700); err != nil {
			return nil, fmt.Errorf("upload: create %s: %w", dir, err)
		}
	}
	return &Stager{
		root:     root,
		node:     node,
		log:      log.With().Str("component", "upload").Logger(),
		sessions: make(map[string]time.Time),
	}, nil
}

// Start opens a chunked upload session.
func (s *Stager) Start() (string, error) {
	id := s.node.Generate().Base36()
	if err := os.MkdirAll(s.sessionDir(id), 0o700); err != nil {
		return "", apperr.Internal("failed to open upload", err)
	}
	s.mu.Lock()
	s.sessions[id] = time.Now()
	s.mu.Unlock()
	return id, nil
}

func (s *Stager) sessionDir(id string) string {
	return filepath.Join(s.root, chunkDir, id)
}

func (s *Stager) lookup(id string) error {
	if _, err := snowflake.ParseBase36(id); err != nil {
		return apperr.NotFound("unknown upload", err)
	}
	s.mu.Lock()
	_, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return apperr.NotFound("unknown upload", nil)
	}
	return nil
}

// PutChunk stores chunk index of upload id, replacing any earlier copy.
func (s *Stager) PutChunk(id string, index int, r io.Reader) (int64, error) {
	if err := s.lookup(id); err != nil {
		return 0, err
	}
	if index < 0 || index >= MaxChunks {
		return 0, apperr.BadRequest(fmt.Sprintf("chunk index must be between 0 and %d", MaxChunks-1))
	}
	path := filepath.Join(s.sessionDir(id), strconv.Itoa(index))
	n, err := writeFile(path, r)
	if err != nil {
		return 0, apperr.Internal("failed to store chunk", err)
	}
	return n, nil
}

// Finish assembles the chunks of id in index order into a staged file.
// Indexes must be contiguous from zero.
func (s *Stager) Finish(id, name string) (model.StagedAttachment, error) {
	if err := s.lookup(id); err != nil {
		return model.StagedAttachment{}, err
	}
	entries, err := os.ReadDir(s.sessionDir(id))
	if err != nil {
		return model.StagedAttachment{}, apperr.Internal("failed to read upload", err)
	}
	indexes := make([]int, 0, len(entries))
	for _, e := range entries {
		if n, err := strconv.Atoi(e.Name()); err == nil {
			indexes = append(indexes, n)
		}
	}
	if len(indexes) == 0 {
		return model.StagedAttachment{}, apperr.BadRequest("upload has no chunks")
	}
	sort.Ints(indexes)
	for i, n := range indexes {
		if i != n {
			return model.StagedAttachment{}, apperr.BadRequest(fmt.Sprintf("missing chunk %d", i))
		}
	}

	readers := make([]io.Reader, 0, len(indexes))
	files := make([]*os.File, 0, len(indexes))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, n := range indexes {
		f, err := os.Open(filepath.Join(s.sessionDir(id), strconv.Itoa(n)))
		if err != nil {
			return model.StagedAttachment{}, apperr.Internal("failed to read chunk", err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	staged, err := s.save(id, name, io.MultiReader(readers...))
	if err != nil {
		return model.StagedAttachment{}, err
	}
	s.discard(id)
	return staged, nil
}

// Abort drops an unfinished upload.
func (s *Stager) Abort(id string) error {
	if err := s.lookup(id); err != nil {
		return err
	}
	s.discard(id)
	return nil
}

func (s *Stager) discard(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		s.log.Warn().Err(err).Str("upload", id).Msg("failed to remove chunks")
	}
}

// Save stages a single-shot upload.
func (s *Stager) Save(name string, r io.Reader) (model.StagedAttachment, error) {
	return s.save(s.node.Generate().Base36(), name, r)
}

func (s *Stager) save(id, name string, r io.Reader) (model.StagedAttachment, error) {
	name = SafeName(name)
	dir := filepath.Join(s.root, fileDir, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return model.StagedAttachment{}, apperr.Internal("failed to stage attachment", err)
	}
	path := filepath.Join(dir, name)
	size, err := writeFile(path, r)
	if err != nil {
		return model.StagedAttachment{}, apperr.Internal("failed to stage attachment", err)
	}
	if size == 0 {
		_ = os.RemoveAll(dir)
		return model.StagedAttachment{}, apperr.BadRequest("attachment is empty")
	}
	mt, err := mimetype.DetectFile(path)
	mime := "application/octet-stream"
	if err == nil {
		mime = mt.String()
	}
	s.log.Debug().Str("path", path).Int64("size", size).Str("mime", mime).Msg("attachment staged")
	return model.StagedAttachment{Path: path, Name: name, MimeType: mime, Size: size}, nil
}

// Remove deletes a staged file once the daemon has taken it.
func (s *Stager) Remove(staged model.StagedAttachment) error {
	dir, ok := s.stagedDir(staged.Path)
	if !ok {
		return fmt.Errorf("upload: %s is not a staged file", staged.Path)
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Owns reports whether path names a file staged by s.
func (s *Stager) Owns(path string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	_, ok := s.stagedDir(path)
	return ok
}

// stagedDir returns the per-upload directory holding path, which must sit
// exactly one level below the files directory.
func (s *Stager) stagedDir(path string) (string, bool) {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	rel, err := filepath.Rel(filepath.Join(s.root, fileDir), dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", false
	}
	return dir, true
}

// Sweep drops chunk sessions started before cutoff and staged files written
// before it. It returns how many entries were removed.
func (s *Stager) Sweep(cutoff time.Time) int {
	var stale []string
	s.mu.Lock()
	for id, started := range s.sessions {
		if started.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()
	for _, id := range stale {
		s.discard(id)
	}
	removed := len(stale)

	filesRoot := filepath.Join(s.root, fileDir)
	entries, err := os.ReadDir(filesRoot)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to list staged files")
		return removed
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(filesRoot, e.Name())); err != nil {
			s.log.Warn().Err(err).Str("entry", e.Name()).Msg("failed to remove staged file")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Debug().Int("removed", removed).Msg("swept staged uploads")
	}
	return removed
}

// StartSweeper removes uploads older than maxAge every interval until ctx
// is done.
func (s *Stager) StartSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 || maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Sweep(now.Add(-maxAge))
			}
		}
	}()
}

// SafeName reduces a client-supplied file name to a single path element.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "attachment"
	}
	return name
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}
