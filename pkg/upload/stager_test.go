package upload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/model"
	"github.com/mahaj/msgbridge/pkg/snowflake"
)

var pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"

func newStager(t *testing.T) *Stager {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	s, err := NewStager(t.TempDir(), node, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestSaveSniffsMimeAndSanitisesName(t *testing.T) {
	s := newStager(t)
	staged, err := s.Save("../../etc/cat.png", strings.NewReader(pngHeader))
	require.NoError(t, err)

	assert.Equal(t, "cat.png", staged.Name)
	assert.Equal(t, "image/png", staged.MimeType)
	assert.Equal(t, int64(len(pngHeader)), staged.Size)
	assert.True(t, strings.HasPrefix(staged.Path, filepath.Join(s.root, fileDir)))
	b, err := os.ReadFile(staged.Path)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, string(b))

	require.NoError(t, s.Remove(staged))
	_, err = os.Stat(staged.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestSaveRejectsEmpty(t *testing.T) {
	s := newStager(t)
	_, err := s.Save("empty.txt", strings.NewReader(""))
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestChunkedUpload(t *testing.T) {
	s := newStager(t)
	id, err := s.Start()
	require.NoError(t, err)

	// Chunks may arrive out of order and be retried.
	_, err = s.PutChunk(id, 1, strings.NewReader("world"))
	require.NoError(t, err)
	_, err = s.PutChunk(id, 0, strings.NewReader("hullo "))
	require.NoError(t, err)
	_, err = s.PutChunk(id, 0, strings.NewReader("hello "))
	require.NoError(t, err)

	staged, err := s.Finish(id, "note.txt")
	require.NoError(t, err)
	b, err := os.ReadFile(staged.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(b))
	assert.True(t, strings.HasPrefix(staged.MimeType, "text/plain"))

	_, err = s.Finish(id, "note.txt")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), "sessions end after finish")
}

func TestChunkedUploadErrors(t *testing.T) {
	s := newStager(t)

	_, err := s.PutChunk("nope", 0, strings.NewReader("x"))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = s.PutChunk("../../x", 0, strings.NewReader("x"))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	id, err := s.Start()
	require.NoError(t, err)
	_, err = s.PutChunk(id, -1, strings.NewReader("x"))
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = s.Finish(id, "a.bin")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err), "no chunks")

	_, err = s.PutChunk(id, 0, strings.NewReader("a"))
	require.NoError(t, err)
	_, err = s.PutChunk(id, 2, strings.NewReader("c"))
	require.NoError(t, err)
	_, err = s.Finish(id, "a.bin")
	require.Error(t, err)
	assert.Equal(t, "missing chunk 1", apperr.PublicMessage(err))

	require.NoError(t, s.Abort(id))
	_, err = os.Stat(s.sessionDir(id))
	assert.True(t, os.IsNotExist(err))
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "a.txt", SafeName("a.txt"))
	assert.Equal(t, "b.txt", SafeName("/tmp/../b.txt"))
	assert.Equal(t, "c.txt", SafeName(`..\..\c.txt`))
	assert.Equal(t, "attachment", SafeName(".."))
	assert.Equal(t, "attachment", SafeName("  "))
}

func TestRemoveRefusesForeignPaths(t *testing.T) {
	s := newStager(t)
	err := s.Remove(model.StagedAttachment{Path: "/etc/passwd"})
	assert.Error(t, err)
}

func TestOwns(t *testing.T) {
	s := newStager(t)
	staged, err := s.Save("cat.png", strings.NewReader(pngHeader))
	require.NoError(t, err)

	assert.True(t, s.Owns(staged.Path))
	assert.False(t, s.Owns("/etc/passwd"))
	assert.False(t, s.Owns(filepath.Join(s.root, fileDir, "..", "..", "secret")))
	assert.False(t, s.Owns(filepath.Join(s.root, chunkDir, "x", "0")))
	assert.False(t, s.Owns(filepath.Join(s.root, fileDir, "a", "b", "c")))
	assert.False(t, s.Owns("files/a/cat.png"))
}

func TestSweepRemovesStaleUploads(t *testing.T) {
	s := newStager(t)
	staged, err := s.Save("cat.png", strings.NewReader(pngHeader))
	require.NoError(t, err)
	id, err := s.Start()
	require.NoError(t, err)
	_, err = s.PutChunk(id, 0, strings.NewReader("part"))
	require.NoError(t, err)

	assert.Equal(t, 0, s.Sweep(time.Now().Add(-time.Hour)), "fresh uploads survive")
	_, err = os.Stat(staged.Path)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Sweep(time.Now().Add(time.Hour)))
	_, err = os.Stat(staged.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.sessionDir(id))
	assert.True(t, os.IsNotExist(err))
	_, err = s.PutChunk(id, 1, strings.NewReader("late"))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
