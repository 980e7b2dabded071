// pkg/vecstream/vecstream.go
// Package vecstream reads a collection's bit-vector signatures from a pair
// of files: an ASCII identifier file and a packed-binary signature file.
package vecstream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"vtree/pkg/bitvec"
)

// ErrSignatureLengthNotMultipleOf64 is returned when the requested
// per-vector bit length is not a multiple of 64.
var ErrSignatureLengthNotMultipleOf64 = errors.New("vecstream: signature length must be a multiple of 64")

// PairedFileSource reads a paired identifier/signature file set as bounded
// batches, implementing streamtree.BatchSource[bitvec.BitVector].
type PairedFileSource struct {
	idFile      *os.File
	sigFile     *os.File
	ids         *bufio.Scanner
	length      int
	recordBytes int
	buf         []byte
}

// Open opens idPath and sigPath for streaming reads. length is the
// per-vector signature length in bits and must be a multiple of 64.
func Open(idPath, sigPath string, length int) (*PairedFileSource, error) {
	if length <= 0 || length%64 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrSignatureLengthNotMultipleOf64, length)
	}
	idFile, err := os.Open(idPath)
	if err != nil {
		return nil, err
	}
	sigFile, err := os.Open(sigPath)
	if err != nil {
		idFile.Close()
		return nil, err
	}
	recordBytes := length / 8
	return &PairedFileSource{
		idFile:      idFile,
		sigFile:     sigFile,
		ids:         bufio.NewScanner(idFile),
		length:      length,
		recordBytes: recordBytes,
		buf:         make([]byte, recordBytes),
	}, nil
}

// Read returns up to n vectors read in lockstep from both files, each
// tagged with its identifier. A short final signature record is dropped
// silently, matching the paired-file contract. A zero-length, nil-error
// result signals end of stream.
func (s *PairedFileSource) Read(n int) ([]*bitvec.BitVector, error) {
	batch := make([]*bitvec.BitVector, 0, n)
	for len(batch) < n {
		if !s.ids.Scan() {
			if err := s.ids.Err(); err != nil {
				return nil, err
			}
			break
		}
		id := strings.TrimRight(s.ids.Text(), " \t")

		if _, err := io.ReadFull(s.sigFile, s.buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, err
		}
		v, err := bitvec.NewFromBytes(s.buf, s.length)
		if err != nil {
			return nil, err
		}
		v.SetID(id)
		batch = append(batch, v)
	}
	return batch, nil
}

// Close releases the underlying file handles.
func (s *PairedFileSource) Close() error {
	var firstErr error
	if err := s.idFile.Close(); err != nil {
		firstErr = err
	}
	if err := s.sigFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func readAllIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		ids = append(ids, strings.TrimRight(scanner.Text(), " \t"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
