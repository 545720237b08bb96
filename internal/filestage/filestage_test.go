package filestage

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/p2pchat/p2pchat/internal/chaterr"
	"github.com/p2pchat/p2pchat/internal/message"
)

func TestPrepareAndReceiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "report.pdf")
	content := make([]byte, 1<<20)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	f, err := Prepare(srcPath, 100<<20)
	require.NoError(t, err)
	require.Equal(t, "report.pdf", f.Name)
	require.Equal(t, int64(len(content)), f.Size)

	downloadDir := filepath.Join(dir, "downloads")
	savedPath, err := Receive(f, downloadDir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(downloadDir, "report.pdf"), savedPath)

	saved, err := os.ReadFile(savedPath)
	require.NoError(t, err)
	require.Equal(t, content, saved)
}

func TestPrepareRejectsOversizeFile(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "huge.bin")
	require.NoError(t, os.WriteFile(srcPath, make([]byte, 150), 0o644))

	_, err := Prepare(srcPath, 100)
	require.Error(t, err)
	var tooLarge *chaterr.FileTooLarge
	require.ErrorAs(t, err, &tooLarge)
}

func TestPrepareAcceptsExactBoundary(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "exact.bin")
	require.NoError(t, os.WriteFile(srcPath, make([]byte, 100), 0o644))

	_, err := Prepare(srcPath, 100)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(srcPath, make([]byte, 101), 0o644))
	_, err = Prepare(srcPath, 100)
	require.Error(t, err)
}

func TestReceiveFilenameCollisionGetsSuffixed(t *testing.T) {
	dir := t.TempDir()
	downloadDir := filepath.Join(dir, "downloads")

	f := fileOf("report.pdf", []byte("first"))
	first, err := Receive(f, downloadDir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(downloadDir, "report.pdf"), first)

	f2 := fileOf("report.pdf", []byte("second"))
	second, err := Receive(f2, downloadDir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(downloadDir, "report (1).pdf"), second)

	firstData, _ := os.ReadFile(first)
	require.Equal(t, "first", string(firstData))
}

func TestReceiveRejectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	f := fileOf("bad.bin", []byte("payload"))
	f.ContentHash[0] ^= 0xFF

	_, err := Receive(f, filepath.Join(dir, "downloads"))
	require.Error(t, err)
	var integrity *chaterr.IntegrityFailed
	require.ErrorAs(t, err, &integrity)
}

func TestReceiveRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	f := fileOf("../../etc/passwd", []byte("x"))

	_, err := Receive(f, filepath.Join(dir, "downloads"))
	require.Error(t, err)
}

func TestIsMediaExtension(t *testing.T) {
	exts := map[string]bool{".png": true, ".jpg": true}
	require.True(t, IsMediaExtension("photo.PNG", exts))
	require.False(t, IsMediaExtension("doc.pdf", exts))
}

func fileOf(name string, content []byte) message.File {
	return message.File{
		Name:        name,
		Size:        int64(len(content)),
		ContentHash: sha256.Sum256(content),
		Bytes:       content,
	}
}
