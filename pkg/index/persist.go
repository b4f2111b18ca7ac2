package index

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/perbu/policyrag/pkg/policyrag"
)

const (
	blobMagic   = "PRIX"
	blobVersion = 1
)

// blob is the on-disk form of an Index.
type blob struct {
	Magic     string
	Version   int
	Metric    Metric
	Dimension int
	Count     int
	Data      []float32
	Checksum  uint32
}

// checksum covers the raw float bits, so any flipped value is detected.
func checksum(data []float32) uint32 {
	h := crc32.NewIEEE()
	var buf [4]byte
	for _, f := range data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
		_, _ = h.Write(buf[:])
	}
	return h.Sum32()
}

// Encode writes the index to w.
func (ix *Index) Encode(w io.Writer) error {
	b := blob{
		Magic:     blobMagic,
		Version:   blobVersion,
		Metric:    ix.metric,
		Dimension: ix.dim,
		Count:     ix.Size(),
		Data:      ix.data,
		Checksum:  checksum(ix.data),
	}
	if err := gob.NewEncoder(w).Encode(&b); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return nil
}

// Persist serialises the index to a byte blob.
func (ix *Index) Persist() ([]byte, error) {
	var buf bytes.Buffer
	if err := ix.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads an index written by Encode. Any structural problem with the
// blob is reported as policyrag.ErrCorruptStore.
func Decode(r io.Reader) (*Index, error) {
	var b blob
	if err := gob.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode index: %v: %w", err, policyrag.ErrCorruptStore)
	}
	switch {
	case b.Magic != blobMagic:
		return nil, fmt.Errorf("decode index: bad magic %q: %w", b.Magic, policyrag.ErrCorruptStore)
	case b.Version != blobVersion:
		return nil, fmt.Errorf("decode index: unsupported version %d: %w", b.Version, policyrag.ErrCorruptStore)
	case b.Metric != SquaredL2:
		return nil, fmt.Errorf("decode index: built with %s, want %s: %w", b.Metric, SquaredL2, policyrag.ErrCorruptStore)
	case b.Dimension <= 0 || b.Count <= 0:
		return nil, fmt.Errorf("decode index: dimension=%d count=%d: %w", b.Dimension, b.Count, policyrag.ErrCorruptStore)
	case b.Count > len(b.Data)/b.Dimension || len(b.Data) != b.Dimension*b.Count:
		return nil, fmt.Errorf("decode index: %d values for %d vectors of dimension %d: %w",
			len(b.Data), b.Count, b.Dimension, policyrag.ErrCorruptStore)
	case checksum(b.Data) != b.Checksum:
		return nil, fmt.Errorf("decode index: checksum mismatch: %w", policyrag.ErrCorruptStore)
	}
	return &Index{dim: b.Dimension, metric: b.Metric, data: b.Data}, nil
}

// Load restores an index from a blob produced by Persist.
func Load(data []byte) (*Index, error) {
	return Decode(bytes.NewReader(data))
}
