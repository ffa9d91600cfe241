// Package nexusinfo implements the persistent nexus-info contract: an
// authoritative record of each child's healthy/faulted status and
// clean-shutdown flag, consulted on restart to refuse unsafe recovery
// of stale data. Records are stored durably in a local badger
// key-value store; writes are driven by a retrying, coalescing queue so the
// nexus operation path never blocks on store latency.
package nexusinfo

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/nexusfleet/nexuscore/internal/logger"
)

// ChildRecord is one child's entry in a persisted NexusInfo record.
type ChildRecord struct {
	UUID    string `json:"uuid"`
	Healthy bool   `json:"healthy"`
}

// Record is the durable value keyed by nexus UUID (or an explicit
// admin-supplied key). Its JSON encoding is human-readable, self-delimiting
// and tolerates unknown fields on read.
type Record struct {
	CleanShutdown bool          `json:"clean_shutdown"`
	Children      []ChildRecord `json:"children"`
}

func (r Record) clone() Record {
	children := make([]ChildRecord, len(r.Children))
	copy(children, r.Children)
	return Record{CleanShutdown: r.CleanShutdown, Children: children}
}

func (r *Record) setChildHealth(uuid string, healthy bool) {
	for i := range r.Children {
		if r.Children[i].UUID == uuid {
			r.Children[i].Healthy = healthy
			return
		}
	}
	r.Children = append(r.Children, ChildRecord{UUID: uuid, Healthy: healthy})
}

// OpKind tags the PersistOp union.
type OpKind int

const (
	OpCreate OpKind = iota
	OpAddChild
	OpUpdate
	OpUpdateCond
	OpShutdown
)

// Predicate evaluates a Record under the per-key lock, for OpUpdateCond.
type Predicate func(Record) bool

// Op is one durable mutation request.
type Op struct {
	Kind      OpKind
	Key       string
	ChildUUID string
	Healthy   bool
	Predicate Predicate // OpUpdateCond only
	Initial   Record    // OpCreate only
}

// Store persists NexusInfo records to badger and drives the PersistOp
// queue: an exclusive lock per key guards reads, mutation and write;
// failures retry indefinitely with linear backoff capped at 1s, logging
// only the first failure per incident.
type Store struct {
	db *badger.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	opsMu sync.Mutex
	queue map[string][]Op // coalesced by key: only the latest state per child survives
	cond  *sync.Cond

	closed bool
	wg     sync.WaitGroup
}

// Open opens (creating if absent) a badger store rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:    db,
		locks: make(map[string]*sync.Mutex),
		queue: make(map[string][]Op),
	}
	s.cond = sync.NewCond(&s.opsMu)
	s.wg.Add(1)
	go s.worker()
	return s, nil
}

// Close stops the persister worker and the underlying store.
func (s *Store) Close() error {
	s.opsMu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.opsMu.Unlock()
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) keyLock(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	return m
}

// Get reads the record for key, returning (Record{}, false) if absent.
func (s *Store) Get(key string) (Record, bool, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	return s.getLocked(key)
}

func (s *Store) getLocked(key string) (Record, bool, error) {
	var rec Record
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, found, err
}

func (s *Store) putLocked(key string, rec Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), buf)
	})
}

// Submit enqueues op for the persister worker, coalescing with any pending
// op for the same key: consecutive updates to the same nexus UUID keep
// only the latest state per child.
func (s *Store) Submit(op Op) {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()
	if s.closed {
		return
	}
	s.queue[op.Key] = coalesce(s.queue[op.Key], op)
	s.cond.Broadcast()
}

// coalesce folds op into pending, keeping the semantics of only the
// latest per-child health update survives, Create/Shutdown are preserved as
// distinct entries since they are structurally significant.
func coalesce(pending []Op, op Op) []Op {
	if op.Kind == OpUpdate || op.Kind == OpAddChild {
		for i, p := range pending {
			if (p.Kind == OpUpdate || p.Kind == OpAddChild) && p.ChildUUID == op.ChildUUID {
				pending[i] = op
				return pending
			}
		}
	}
	return append(pending, op)
}

func (s *Store) worker() {
	defer s.wg.Done()
	for {
		s.opsMu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed && len(s.queue) == 0 {
			s.opsMu.Unlock()
			return
		}
		var key string
		var ops []Op
		for k, v := range s.queue {
			key, ops = k, v
			delete(s.queue, k)
			break
		}
		s.opsMu.Unlock()

		s.applyWithRetry(key, ops)
	}
}

func (s *Store) applyWithRetry(key string, ops []Op) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	backoff := 10 * time.Millisecond
	loggedFirst := false
	for {
		if err := s.applyLocked(key, ops); err != nil {
			if !loggedFirst {
				logger.Error("nexusinfo persist failed, retrying", "key", key, "err", err)
				loggedFirst = true
			}
			time.Sleep(backoff)
			backoff += 100 * time.Millisecond
			if backoff > time.Second {
				backoff = time.Second
			}
			continue
		}
		return
	}
}

func (s *Store) applyLocked(key string, ops []Op) error {
	rec, found, err := s.getLocked(key)
	if err != nil {
		return err
	}
	for _, op := range ops {
		switch op.Kind {
		case OpCreate:
			if !found {
				rec = op.Initial.clone()
			}
		case OpAddChild, OpUpdate:
			rec.setChildHealth(op.ChildUUID, op.Healthy)
		case OpUpdateCond:
			if op.Predicate == nil || op.Predicate(rec.clone()) {
				rec.setChildHealth(op.ChildUUID, op.Healthy)
			}
		case OpShutdown:
			rec.CleanShutdown = true
		}
	}
	return s.putLocked(key, rec)
}

// Flush blocks until the queue for key has drained, used by callers (e.g.
// destroy) that must observe a synchronous write before returning.
func (s *Store) Flush(ctx context.Context, key string) error {
	for {
		s.opsMu.Lock()
		_, pending := s.queue[key]
		s.opsMu.Unlock()
		if !pending {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}
