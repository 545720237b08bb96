// Package filestage implements §4.5: reading a local file into a sized,
// hashed File message, and validating/storing an inbound one. Grounded on
// gossip.go's ShareFile/RequestFile/SaveDownloadedFile (sha256 hashing,
// size accounting) adapted from gossip's chunked, multi-recipient transfer
// to the spec's single-shot staged payload, and on
// original_source/src/file_transfer.rs for the filename-collision suffix
// policy.
package filestage

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/p2pchat/p2pchat/internal/chaterr"
	"github.com/p2pchat/p2pchat/internal/message"
)

// Prepare streams the file at path, computing its sha256 content hash while
// reading, and returns a File message ready to send. It fails with
// chaterr.FileTooLarge if the file exceeds maxBytes.
func Prepare(path string, maxBytes int64) (message.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return message.File{}, err
	}
	if info.Size() > maxBytes {
		return message.File{}, &chaterr.FileTooLarge{Declared: info.Size(), Max: maxBytes}
	}

	f, err := os.Open(path)
	if err != nil {
		return message.File{}, err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, info.Size())
	if _, err := io.ReadFull(io.TeeReader(f, h), buf); err != nil {
		return message.File{}, err
	}

	var hash [32]byte
	copy(hash[:], h.Sum(nil))

	return message.File{
		Name:        filepath.Base(path),
		Size:        int64(len(buf)),
		ContentHash: hash,
		Bytes:       buf,
	}, nil
}

// sanitizeName applies the filename policy of SPEC_FULL.md §4.5: strip
// directory components, reject empty or path-separator-only names, allow
// Unicode, disallow traversal.
func sanitizeName(declared string) (string, error) {
	name := filepath.Base(filepath.Clean(declared))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", &chaterr.IntegrityFailed{Name: declared}
	}
	if filepath.IsAbs(declared) || strings.Contains(declared, "..") {
		return "", &chaterr.IntegrityFailed{Name: declared}
	}
	return name, nil
}

// Receive validates and stores an inbound File message under downloadDir,
// returning the final on-disk path. Hash and size are checked before
// anything is written: on a mismatch nothing is stored and
// chaterr.IntegrityFailed is returned.
func Receive(f message.File, downloadDir string) (string, error) {
	name, err := sanitizeName(f.Name)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(f.Bytes)
	if sum != f.ContentHash || int64(len(f.Bytes)) != f.Size {
		return "", &chaterr.IntegrityFailed{Name: name}
	}

	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return "", &chaterr.DownloadWriteFailed{Name: name, Cause: err}
	}

	tmpPath := filepath.Join(downloadDir, name+".partial")
	if err := os.WriteFile(tmpPath, f.Bytes, 0o644); err != nil {
		return "", &chaterr.DownloadWriteFailed{Name: name, Cause: err}
	}

	finalPath, err := resolveCollision(downloadDir, name)
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", &chaterr.DownloadWriteFailed{Name: name, Cause: err}
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", &chaterr.DownloadWriteFailed{Name: name, Cause: err}
	}

	return finalPath, nil
}

// resolveCollision returns a path under dir for name that does not
// currently exist, appending " (1)", " (2)", ... before the extension on
// collision, matching the scenario in SPEC_FULL.md §8 ("report (1).pdf").
func resolveCollision(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
		if i > 10000 {
			return "", fmt.Errorf("too many collisions for %q", name)
		}
	}
}

// IsMediaExtension reports whether name's lowercase suffix is in exts.
func IsMediaExtension(name string, exts map[string]bool) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return exts[ext]
}
