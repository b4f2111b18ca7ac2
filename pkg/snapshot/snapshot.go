package snapshot

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/perbu/policyrag/pkg/index"
	"github.com/perbu/policyrag/pkg/policyrag"
)

// File names of the two halves of a snapshot directory.
const (
	IndexFile = "index.bin"
	MetaFile  = "meta.gob"
)

const formatVersion = 1

// Header describes a snapshot. It is written at the start of the metadata
// file and cross-checked against the index on load.
type Header struct {
	Version    int
	SnapshotID string
	Count      int
	Dimension  int
	ModelInfo  string // Embedding model the vectors came from
	Source     string // Source document path
	CreatedAt  time.Time
}

// Snapshot is an immutable index plus its metadata store.
type Snapshot struct {
	Header Header
	Index  *index.Index
	Store  *Store
}

// New pairs an index with its segments and stamps a fresh header.
func New(ix *index.Index, segments []policyrag.Segment, modelInfo, source string) (*Snapshot, error) {
	if ix.Size() != len(segments) {
		return nil, fmt.Errorf("index has %d vectors, store has %d segments: %w",
			ix.Size(), len(segments), policyrag.ErrCorruptStore)
	}
	store, err := NewStore(segments)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Header: Header{
			Version:    formatVersion,
			SnapshotID: uuid.NewString(),
			Count:      len(segments),
			Dimension:  ix.Dimension(),
			ModelInfo:  modelInfo,
			Source:     source,
			CreatedAt:  time.Now().UTC(),
		},
		Index: ix,
		Store: store,
	}, nil
}

// Write publishes snap as the directory dir. Both files are written and
// synced in a temporary sibling directory which then replaces dir by rename,
// so a reader finds either the previous snapshot or the new one in full.
func Write(dir string, snap *Snapshot) error {
	dir = filepath.Clean(dir)
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", parent, err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+".tmp-")
	if err != nil {
		return fmt.Errorf("creating temporary snapshot dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := writeSynced(filepath.Join(tmp, IndexFile), snap.Index.Encode); err != nil {
		return err
	}
	if err := writeSynced(filepath.Join(tmp, MetaFile), snap.encodeMeta); err != nil {
		return err
	}

	// Move the old snapshot aside, publish the new one, then drop the old.
	old := ""
	if _, err := os.Stat(dir); err == nil {
		old = tmp + ".old"
		if err := os.Rename(dir, old); err != nil {
			return fmt.Errorf("moving previous snapshot aside: %w", err)
		}
	}
	if err := os.Rename(tmp, dir); err != nil {
		if old != "" {
			_ = os.Rename(old, dir)
		}
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	if old != "" {
		_ = os.RemoveAll(old)
	}
	syncDir(parent)
	return nil
}

func (s *Snapshot) encodeMeta(w io.Writer) error {
	enc := gob.NewEncoder(w)
	if err := enc.Encode(&s.Header); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if err := enc.Encode(s.Store.segments); err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	return nil
}

func writeSynced(path string, encode func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	return f.Close()
}

func syncDir(path string) {
	d, err := os.Open(path)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Load reads the snapshot in dir and checks that both halves agree.
// A missing directory is reported as fs.ErrNotExist; anything wrong inside it
// as policyrag.ErrCorruptStore.
func Load(dir string) (*Snapshot, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", dir, err)
	}

	ix, err := loadIndex(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, err
	}
	hdr, segments, err := loadMeta(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, err
	}

	switch {
	case hdr.Version != formatVersion:
		return nil, fmt.Errorf("snapshot version %d, want %d: %w", hdr.Version, formatVersion, policyrag.ErrCorruptStore)
	case hdr.Count != ix.Size():
		return nil, fmt.Errorf("header count %d, index size %d: %w", hdr.Count, ix.Size(), policyrag.ErrCorruptStore)
	case hdr.Count != len(segments):
		return nil, fmt.Errorf("header count %d, %d segment records: %w", hdr.Count, len(segments), policyrag.ErrCorruptStore)
	case hdr.Dimension != ix.Dimension():
		return nil, fmt.Errorf("header dimension %d, index dimension %d: %w", hdr.Dimension, ix.Dimension(), policyrag.ErrCorruptStore)
	}

	store, err := NewStore(segments)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Header: hdr, Index: ix, Store: store}, nil
}

func loadIndex(path string) (*index.Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, corrupt(path, err)
	}
	defer f.Close()
	return index.Decode(f)
}

func loadMeta(path string) (Header, []policyrag.Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, corrupt(path, err)
	}
	defer f.Close()

	dec := gob.NewDecoder(f)
	var hdr Header
	if err := dec.Decode(&hdr); err != nil {
		return Header{}, nil, corrupt(path, err)
	}
	var segments []policyrag.Segment
	if err := dec.Decode(&segments); err != nil {
		return Header{}, nil, corrupt(path, err)
	}
	return hdr, segments, nil
}

func corrupt(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s missing: %w", filepath.Base(path), policyrag.ErrCorruptStore)
	}
	return fmt.Errorf("reading %s: %v: %w", filepath.Base(path), err, policyrag.ErrCorruptStore)
}
