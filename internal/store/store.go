// Package store persists the ticket collection as a whole-file JSON
// snapshot. Every mutation runs on a single writer goroutine, so concurrent
// read-modify-write cycles cannot lose updates, and saves replace the file
// atomically so readers never observe a partial collection.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parleyhq/parley/internal/models"
)

// ErrStorage marks persistence I/O failures. Callers must surface these,
// never swallow them: a lost write here corrupts conversation history.
var ErrStorage = errors.New("storage failure")

// ErrClosed is returned by Update after the store has been closed.
var ErrClosed = errors.New("store is closed")

// Store owns the ticket collection file. Reads serve point-in-time deep
// copies; all writes are serialized through one goroutine that also owns
// the monotonic ticket id counter.
type Store struct {
	path string

	mu      sync.RWMutex
	tickets []models.Ticket

	ops  chan op
	quit chan struct{}
	once sync.Once
}

type op struct {
	fn    func(tx *Tx) error
	reply chan error
}

// Open loads the collection at path, creating an empty one if the file does
// not exist, and starts the writer goroutine.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", ErrStorage)
	}

	tickets, err := load(path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:    path,
		tickets: tickets,
		ops:     make(chan op),
		quit:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// load reads and decodes the collection file. A missing file yields an
// empty collection.
func load(path string) ([]models.Ticket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read %s: %v: %w", path, err, ErrStorage)
	}
	var tickets []models.Ticket
	if err := json.Unmarshal(data, &tickets); err != nil {
		return nil, fmt.Errorf("store: decode %s: %v: %w", path, err, ErrStorage)
	}
	return tickets, nil
}

// save writes the collection to a temp file in the same directory and
// renames it over the canonical path. Rename is atomic on POSIX, so a
// concurrent load sees either the old or the new snapshot, never a mix.
func save(path string, tickets []models.Ticket) error {
	data, err := json.MarshalIndent(tickets, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode: %v: %w", err, ErrStorage)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp: %v: %w", err, ErrStorage)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: write temp: %v: %w", err, ErrStorage)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: close temp: %v: %w", err, ErrStorage)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: replace %s: %v: %w", path, err, ErrStorage)
	}
	return nil
}

// run is the writer loop. Mutations are applied in the order they are
// accepted here; each one works on a cloned collection, persists it, and
// only then publishes it to readers, so a failed save leaves both memory
// and disk untouched.
func (s *Store) run() {
	for {
		select {
		case <-s.quit:
			return
		case o := <-s.ops:
			o.reply <- s.apply(o.fn)
		}
	}
}

func (s *Store) apply(fn func(tx *Tx) error) error {
	s.mu.RLock()
	working := cloneAll(s.tickets)
	s.mu.RUnlock()

	tx := &Tx{tickets: working}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	if err := save(s.path, tx.tickets); err != nil {
		return err
	}

	s.mu.Lock()
	s.tickets = tx.tickets
	s.mu.Unlock()
	return nil
}

// Update runs fn on the writer goroutine. If fn marks the transaction dirty
// and returns nil, the mutated collection is persisted and published.
func (s *Store) Update(fn func(tx *Tx) error) error {
	select {
	case <-s.quit:
		return ErrClosed
	default:
	}
	o := op{fn: fn, reply: make(chan error, 1)}
	select {
	case s.ops <- o:
		return <-o.reply
	case <-s.quit:
		return ErrClosed
	}
}

// Snapshot returns a deep copy of the current collection.
func (s *Store) Snapshot() []models.Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.tickets)
}

// Find returns a deep copy of the ticket with the given id.
func (s *Store) Find(id int64) (models.Ticket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.tickets {
		if s.tickets[i].ID == id {
			return s.tickets[i].Clone(), true
		}
	}
	return models.Ticket{}, false
}

// Close stops the writer goroutine. In-flight Update calls complete;
// later ones fail with ErrClosed.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.quit) })
	return nil
}

func cloneAll(tickets []models.Ticket) []models.Ticket {
	out := make([]models.Ticket, len(tickets))
	for i := range tickets {
		out[i] = tickets[i].Clone()
	}
	return out
}

// Tx is the mutable view passed to Update callbacks. It is only valid for
// the duration of the callback and must not be retained.
type Tx struct {
	tickets []models.Ticket
	dirty   bool
}

// Tickets returns the working collection. Mutations through the returned
// pointers must be followed by MarkDirty.
func (tx *Tx) Tickets() []*models.Ticket {
	out := make([]*models.Ticket, len(tx.tickets))
	for i := range tx.tickets {
		out[i] = &tx.tickets[i]
	}
	return out
}

// Find returns the working ticket with the given id, or nil.
func (tx *Tx) Find(id int64) *models.Ticket {
	for i := range tx.tickets {
		if tx.tickets[i].ID == id {
			return &tx.tickets[i]
		}
	}
	return nil
}

// Insert appends a new ticket, assigning the next ticket id, and returns a
// pointer to the stored copy.
func (tx *Tx) Insert(t models.Ticket) *models.Ticket {
	t.ID = tx.nextTicketID()
	tx.tickets = append(tx.tickets, t)
	tx.dirty = true
	return &tx.tickets[len(tx.tickets)-1]
}

// nextTicketID returns max(existing)+1. Running behind the single writer
// makes this safe under concurrent creators, unlike the timestamp+random
// scheme it replaces.
func (tx *Tx) nextTicketID() int64 {
	var max int64
	for i := range tx.tickets {
		if tx.tickets[i].ID > max {
			max = tx.tickets[i].ID
		}
	}
	return max + 1
}

// NextMessageID returns the next strictly-increasing message id for t.
func (tx *Tx) NextMessageID(t *models.Ticket) int64 {
	return t.LastMessageID() + 1
}

// MarkDirty flags the transaction for persistence.
func (tx *Tx) MarkDirty() {
	tx.dirty = true
}
