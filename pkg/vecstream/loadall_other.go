//go:build !(unix || darwin || linux || freebsd || openbsd || netbsd)

// pkg/vecstream/loadall_other.go
package vecstream

import (
	"fmt"
	"io"
	"os"

	"vtree/pkg/bitvec"
)

// LoadAll is the non-mmap fallback: it reads the whole signature file into
// a plain buffer instead of mapping it, since golang.org/x/sys/unix is not
// available on this platform.
func LoadAll(idPath, sigPath string, length int) ([]*bitvec.BitVector, error) {
	if length <= 0 || length%64 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrSignatureLengthNotMultipleOf64, length)
	}
	ids, err := readAllIDs(idPath)
	if err != nil {
		return nil, err
	}

	sigFile, err := os.Open(sigPath)
	if err != nil {
		return nil, err
	}
	defer sigFile.Close()

	recordBytes := length / 8
	vectors := make([]*bitvec.BitVector, 0, len(ids))
	buf := make([]byte, recordBytes)
	for _, id := range ids {
		if _, err := io.ReadFull(sigFile, buf); err != nil {
			break
		}
		v, err := bitvec.NewFromBytes(buf, length)
		if err != nil {
			return nil, err
		}
		v.SetID(id)
		vectors = append(vectors, v)
	}
	return vectors, nil
}
