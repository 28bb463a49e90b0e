package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// HashFile returns the lower-case hex SHA-256 of a file's content and
// its size in bytes.
func HashFile(path string) (hash string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashBytes returns the lower-case hex SHA-256 of content.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Fingerprint summarizes the workspace state as one hash: the root
// path plus the per-file hash of every input, sorted by path so the
// result is independent of discovery order. A missing file contributes
// a distinct marker, so deletions change the fingerprint too.
func Fingerprint(root string, inputPaths []string) string {
	paths := append([]string(nil), inputPaths...)
	sort.Strings(paths)

	h := sha256.New()
	h.Write([]byte(root))
	h.Write([]byte{0})
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
		fileHash, _, err := HashFile(resolveInput(root, p))
		if err != nil {
			h.Write([]byte("absent"))
		} else {
			h.Write([]byte(fileHash))
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// resolveInput interprets a receipt path relative to the workspace
// root; absolute paths pass through.
func resolveInput(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
