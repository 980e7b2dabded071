//go:build unix || darwin || linux || freebsd || openbsd || netbsd

// pkg/vecstream/loadall_unix.go
package vecstream

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"vtree/pkg/bitvec"
)

// LoadAll mmaps the whole signature file read-only and decodes every
// record into an owned BitVector paired with its identifier, for one-shot
// bulk loads of a collection small enough to fit the mapping. Unlike
// PairedFileSource.Read this is not bounded: it trades memory headroom for
// a single fast pass with no per-batch bookkeeping.
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

	stat, err := sigFile.Stat()
	if err != nil {
		return nil, err
	}
	recordBytes := length / 8
	n := len(ids)
	if int64(n)*int64(recordBytes) > stat.Size() {
		n = int(stat.Size() / int64(recordBytes))
	}
	mapLen := n * recordBytes
	if mapLen == 0 {
		return nil, nil
	}

	data, err := unix.Mmap(int(sigFile.Fd()), 0, mapLen, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	defer unix.Munmap(data)

	vectors := make([]*bitvec.BitVector, n)
	for i := 0; i < n; i++ {
		rec := data[i*recordBytes : (i+1)*recordBytes]
		v, err := bitvec.NewFromBytes(rec, length)
		if err != nil {
			return nil, err
		}
		v.SetID(ids[i])
		vectors[i] = v
	}
	return vectors, nil
}
