// Package checkpoint defines the checkpoint document (§6): per-book order
// and trade counters, active orders per (agent, book), the L3 record,
// subscription registries, fee-policy rolling windows, process state, and
// the patched original configuration. Persistence itself (actually writing
// to and reading from durable storage) is out of scope (spec.md §1);
// Store is the narrow interface that stands in for it, with one in-memory
// and one local-file implementation provided for tests and a single-process
// driver.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"

	"fenrirsim/internal/config"
	"fenrirsim/internal/record"
	"fenrirsim/internal/types"
)

// BookCounters captures one book's order/trade id cursors, restored before
// any order is re-placed.
type BookCounters struct {
	NextOrderId types.OrderId `json:"nextOrderId"`
	NextTradeId types.TradeId `json:"nextTradeId"`
}

// ActiveOrder is one resting order snapshot, re-placed in init-mode
// (matching disabled) on resume per §6.
type ActiveOrder struct {
	BookId        types.BookId      `json:"bookId"`
	OrderId       types.OrderId     `json:"orderId"`
	AgentId       types.AgentId     `json:"agentId"`
	Direction     types.Side        `json:"direction"`
	Price         string            `json:"price"` // decimal string, engine-format
	Volume        string            `json:"volume"`
	Leverage      string            `json:"leverage"`
	STPFlag       types.STPFlag     `json:"stpFlag"`
	TIF           types.TimeInForce `json:"tif"`
	ClientOrderId string            `json:"clientOrderId,omitempty"`
}

// Subscription is one (bookId, event) -> agent names snapshot.
type Subscription struct {
	BookId types.BookId `json:"bookId"`
	Event  string       `json:"event"`
	Agents []string     `json:"agents"`
}

// FeeWindow snapshots one agent's rolling-volume window for a book, so
// tier lookups resume exactly where they left off.
type FeeWindow struct {
	BookId types.BookId  `json:"bookId"`
	Agent  types.AgentId `json:"agent"`
	Volume string        `json:"volume"`
}

// ProcessState is an opaque, process-defined state blob — trader-agent
// decision logic is out of scope (spec.md §1), so the checkpoint only
// carries whatever bytes the process itself chose to serialize.
type ProcessState struct {
	Name  string          `json:"name"`
	State json.RawMessage `json:"state"`
}

// LogTruncation records the byte size each associated log file must be
// truncated to on resume, so a crash mid-write never leaves a checkpoint
// referencing a longer log than was actually flushed.
type LogTruncation struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Document is the full checkpoint (§6). Config carries the original
// configuration with ID/Current patched to the checkpointed values.
type Document struct {
	Config Config `json:"config"`

	Counters      map[types.BookId]BookCounters `json:"counters"`
	ActiveOrders  []ActiveOrder                 `json:"activeOrders"`
	Entries       map[types.BookId][]record.Entry `json:"entries"`
	NextEventId   map[types.BookId]uint64       `json:"nextEventId"`
	Subscriptions []Subscription                `json:"subscriptions"`
	FeeWindows    []FeeWindow                   `json:"feeWindows"`
	Processes     []ProcessState                `json:"processes"`
	LogTruncation []LogTruncation               `json:"logTruncation"`
}

// Config aliases config.Config so this package's JSON shape is
// self-contained without forcing every caller to import config directly.
type Config = config.Config

// Store is the narrow persistence surface a checkpoint writer/reader needs.
// Concrete transport (disk, object storage, a remote service) is out of
// scope (spec.md §1) beyond this interface.
type Store interface {
	Save(name string, doc Document) error
	Load(name string) (Document, error)
}

// MemoryStore is an in-process Store, useful for tests and for checkpoint
// round-trips within a single run.
type MemoryStore struct {
	docs map[string]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

func (s *MemoryStore) Save(name string, doc Document) error {
	s.docs[name] = doc
	return nil
}

func (s *MemoryStore) Load(name string) (Document, error) {
	doc, ok := s.docs[name]
	if !ok {
		return Document{}, fmt.Errorf("checkpoint: no document named %q", name)
	}
	return doc, nil
}

// FileStore persists checkpoints as single JSON files under a directory,
// writing to a temp file and renaming into place to avoid partial writes
// (§7's I/O error handling).
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(name string) string {
	return s.dir + "/" + name + ".json"
}

func (s *FileStore) Save(name string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: encode %s: %w", name, err)
	}
	path := s.path(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("checkpoint: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

func (s *FileStore) Load(name string) (Document, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return Document{}, fmt.Errorf("checkpoint: read %s: %w", name, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("checkpoint: decode %s: %w", name, err)
	}
	return doc, nil
}
