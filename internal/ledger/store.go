package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// MemoryStore keeps entries in memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries []domain.LedgerEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Append(_ context.Context, e domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryStore) ReadAll(context.Context) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.LedgerEntry(nil), m.entries...), nil
}

// FileStore appends one JSON object per line to a local file and syncs after
// every write.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on first
// append.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Append(_ context.Context, e domain.LedgerEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ledger file: encode entry %d: %w", e.Seq, err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("ledger file: open %s: %w", f.path, err)
	}
	defer file.Close()

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("ledger file: write %s: %w", f.path, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("ledger file: sync %s: %w", f.path, err)
	}
	return nil
}

func (f *FileStore) ReadAll(context.Context) ([]domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger file: open %s: %w", f.path, err)
	}
	defer file.Close()
	return decodeLines(file)
}

func decodeLines(r io.Reader) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e domain.LedgerEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("ledger file: line %d: %w", n, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ledger file: read: %w", err)
	}
	return out, nil
}

// EncodeLines renders entries as JSON lines.
func EncodeLines(entries []domain.LedgerEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("ledger: encode entry %d: %w", e.Seq, err)
		}
	}
	return buf.Bytes(), nil
}
