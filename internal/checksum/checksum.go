package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// ChunkSize is the default read size used by SumReader.
const ChunkSize = 8 << 10

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumReader streams r through SHA-256 in chunkSize reads and returns the
// lower-case hex digest and the number of bytes consumed. Each chunk is
// discarded once hashed.
func SumReader(r io.Reader, chunkSize int) (string, int64, error) {
	if chunkSize <= 0 {
		chunkSize = ChunkSize
	}
	h := sha256.New()
	n, err := io.CopyBuffer(h, r, make([]byte, chunkSize))
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
