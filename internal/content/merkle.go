package content

import (
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/sha3"
)

// ChunkSize is the fixed chunk size the Merkle digest is computed over.
const ChunkSize = 256 * 1024

var ErrEmptyContent = errors.New("content is empty")

// RootHash streams the input in fixed-size chunks, hashes each leaf with
// sha3-256 and folds the leaves pairwise into a single root. Returns the hex
// root and the total byte count.
func RootHash(r io.Reader) (string, int64, error) {
	var (
		leaves [][]byte
		total  int64
		buf    = make([]byte, ChunkSize)
	)

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			sum := sha3.Sum256(buf[:n])
			leaf := make([]byte, len(sum))
			copy(leaf, sum[:])
			leaves = append(leaves, leaf)
			total += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", 0, err
		}
	}

	if total == 0 {
		return "", 0, ErrEmptyContent
	}

	for len(leaves) > 1 {
		var next [][]byte
		for i := 0; i < len(leaves); i += 2 {
			if i+1 == len(leaves) {
				// Odd leaf is promoted unchanged.
				next = append(next, leaves[i])
				continue
			}
			sum := sha3.Sum256(append(append([]byte{}, leaves[i]...), leaves[i+1]...))
			node := make([]byte, len(sum))
			copy(node, sum[:])
			next = append(next, node)
		}
		leaves = next
	}

	return hex.EncodeToString(leaves[0]), total, nil
}
