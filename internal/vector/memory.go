package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// MemoryCollection is an in-memory collection using brute-force cosine search.
// When a persist path is set, the contents are loaded on open and written back on Close.
type MemoryCollection struct {
	name        string
	dimensions  int
	entries     map[string]Entry
	persistPath string
	mu          sync.RWMutex
}

// NewMemoryCollection creates an empty collection. dimensions may be 0, in
// which case the first upsert fixes it.
func NewMemoryCollection(name string, dimensions int) *MemoryCollection {
	return &MemoryCollection{
		name:       name,
		dimensions: dimensions,
		entries:    make(map[string]Entry),
	}
}

// OpenMemoryCollection creates a collection backed by the file at path,
// loading it if it exists.
func OpenMemoryCollection(name string, dimensions int, path string) (*MemoryCollection, error) {
	m := NewMemoryCollection(name, dimensions)
	m.persistPath = path
	if err := m.Load(path); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MemoryCollection) Name() string { return m.name }

// Get returns copies of the entries for the ids present in the collection.
func (m *MemoryCollection) Get(ctx context.Context, ids []string) (map[string]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Entry, len(ids))
	for _, id := range ids {
		if e, ok := m.entries[id]; ok {
			e.Embedding = append([]float32(nil), e.Embedding...)
			out[id] = e
		}
	}
	return out, nil
}

// Upsert inserts or replaces entries. Nothing is written if any embedding is invalid.
func (m *MemoryCollection) Upsert(ctx context.Context, ids []string, embeddings [][]float32, metadatas []Metadata) error {
	if err := validateUpsert(ids, embeddings, metadatas); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dims, err := checkDimensions(m.dimensions, embeddings)
	if err != nil {
		return err
	}
	m.dimensions = dims
	for i, id := range ids {
		vec := make([]float32, len(embeddings[i]))
		copy(vec, embeddings[i])
		m.entries[id] = Entry{Embedding: vec, Metadata: metadataAt(metadatas, i)}
	}
	return nil
}

// Delete removes ids; missing ids are ignored.
func (m *MemoryCollection) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

// Query returns the k nearest entries by cosine distance.
func (m *MemoryCollection) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return []Match{}, nil
	}
	if len(embedding) != m.dimensions {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", ErrDimensionMismatch, len(embedding), m.dimensions)
	}
	matches := make([]Match, 0, len(m.entries))
	for id, e := range m.entries {
		matches = append(matches, Match{ID: id, Distance: CosineDistance(embedding, e.Embedding)})
	}
	return topK(matches, k), nil
}

// IDs returns every id in sorted order.
func (m *MemoryCollection) IDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryCollection) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Close writes the collection to its persist path, if any.
func (m *MemoryCollection) Close() error {
	return m.Save(m.persistPath)
}

// Save persists the collection to path. Directory is created if needed. Format:
// dimension (4), n (4), then per entry: idLen (4), id bytes, flags (1),
// fingerprint (8), vector (dimension*4 bytes).
func (m *MemoryCollection) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create collection dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create collection file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.writeTo(w); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("flush collection: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close collection file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *MemoryCollection) writeTo(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.entries))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := m.entries[id]
		if err := binary.Write(w, binary.LittleEndian, uint32(len(id))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := io.WriteString(w, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		var flags uint8
		if e.Metadata.HasFingerprint {
			flags = 1
		}
		if err := binary.Write(w, binary.LittleEndian, flags); err != nil {
			return fmt.Errorf("write flags: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, e.Metadata.Fingerprint); err != nil {
			return fmt.Errorf("write fingerprint: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(e.Embedding)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the collection from path and replaces the in-memory contents.
// If the file does not exist, no error is returned and the collection is unchanged.
func (m *MemoryCollection) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open collection file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	if n > 0 && m.dimensions != 0 && int(dim) != m.dimensions {
		return fmt.Errorf("%w: file has %d, collection expects %d", ErrDimensionMismatch, dim, m.dimensions)
	}

	entries := make(map[string]Entry, n)
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("read id len: %w", err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		var flags uint8
		var fp int64
		if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
			return fmt.Errorf("read flags: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &fp); err != nil {
			return fmt.Errorf("read fingerprint: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		entries[string(idBytes)] = Entry{
			Embedding: bytesToFloat32Slice(buf),
			Metadata:  Metadata{Fingerprint: fp, HasFingerprint: flags&1 == 1},
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = entries
	if n > 0 {
		m.dimensions = int(dim)
	}
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
