// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// maxConflictRetries bounds optimistic-transaction retries.
const maxConflictRetries = 3

// BadgerStore implements Store on top of BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use. Read-modify-write operations run inside a single
// Badger transaction and are retried on conflict.
type BadgerStore struct {
	db  *DB
	now func() time.Time
}

// NewBadgerStore wraps an open DB. The store takes ownership of db.
func NewBadgerStore(db *DB) *BadgerStore {
	return &BadgerStore{db: db, now: time.Now}
}

// OpenInMemory opens an in-memory store, used in Degraded mode and tests.
func OpenInMemory() (*BadgerStore, error) {
	db, err := OpenDB(InMemoryDBConfig())
	if err != nil {
		return nil, err
	}
	return NewBadgerStore(db), nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Keys and encoding
// =============================================================================

func pad(n int64) string {
	return fmt.Sprintf("%020d", n)
}

func projectKey(id string) []byte       { return []byte("p/" + id) }
func snapshotPrefix(pid string) []byte  { return []byte("s/" + pid + "/") }
func snapshotIndexKey(id string) []byte { return []byte("si/" + id) }
func messagePrefix(pid string) []byte   { return []byte("m/" + pid + "/") }
func messageSeqKey(pid string) []byte   { return []byte("mseq/" + pid) }
func conversationKey(pid string) []byte { return []byte("c/" + pid) }
func routineKey(id string) []byte       { return []byte("r/" + id) }
func routineProjectPrefix(pid string) []byte {
	return []byte("rp/" + pid + "/")
}
func routineOwnerPrefix(owner string) []byte {
	return []byte("ro/" + owner + "/")
}
func deploymentPrefix(pid string) []byte { return []byte("d/" + pid + "/") }

func snapshotKey(pid string, ts int64, id string) []byte {
	return []byte("s/" + pid + "/" + pad(ts) + "/" + id)
}

// tsFromKey extracts the zero-padded timestamp segment that follows prefix.
func tsFromKey(key, prefix []byte) (int64, error) {
	rest := strings.TrimPrefix(string(key), string(prefix))
	seg, _, _ := strings.Cut(rest, "/")
	return strconv.ParseInt(seg, 10, 64)
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// update runs fn in a read-write transaction, retrying on conflict.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = s.db.WithTxn(ctx, fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrConflict, err)
}

// newestKeys iterates prefix newest-first and returns up to limit keys.
// A limit <= 0 returns every key.
func newestKeys(txn *badger.Txn, prefix []byte, limit int) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	seek := append(append([]byte{}, prefix...), 0xFF)
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	return keys
}

func countPrefix(txn *badger.Txn, prefix []byte) int {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	n := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n
}

// =============================================================================
// Projects
// =============================================================================

// CreateProject stores a new project. The ID must be unique.
func (s *BadgerStore) CreateProject(ctx context.Context, p *datatypes.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(projectKey(p.ID)); err == nil {
			return fmt.Errorf("project %s already exists", p.ID)
		}
		return setJSON(txn, projectKey(p.ID), p)
	})
}

// GetProject loads a project by ID.
func (s *BadgerStore) GetProject(ctx context.Context, id string) (*datatypes.Project, error) {
	var p datatypes.Project
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, projectKey(id), &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProject applies fn and writes the whole project back.
func (s *BadgerStore) UpdateProject(ctx context.Context, id string, fn func(p *datatypes.Project) error) (*datatypes.Project, error) {
	var out datatypes.Project
	err := s.update(ctx, func(txn *badger.Txn) error {
		var p datatypes.Project
		if err := getJSON(txn, projectKey(id), &p); err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		p.ID = id
		p.UpdatedAt = s.now().UTC()
		out = p
		return setJSON(txn, projectKey(id), &p)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProjects returns the owner's projects, most recently updated first.
func (s *BadgerStore) ListProjects(ctx context.Context, ownerID string) ([]datatypes.Project, error) {
	var out []datatypes.Project
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := []byte("p/")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p datatypes.Project
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &p) }); err != nil {
				return err
			}
			if ownerID == "" || p.OwnerID == ownerID {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, err
}

// =============================================================================
// Snapshots
// =============================================================================

// CreateSnapshot appends an immutable snapshot to the project history.
func (s *BadgerStore) CreateSnapshot(ctx context.Context, projectID string, files []datatypes.FileRecord, meta *datatypes.PlanMeta, strategy datatypes.PreviewStrategy, summary string) (*datatypes.Snapshot, error) {
	snap := &datatypes.Snapshot{
		ProjectID:       projectID,
		Files:           datatypes.NormalizeFiles(files),
		Meta:            meta,
		PreviewStrategy: strategy,
		Summary:         summary,
	}
	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(projectKey(projectID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}

		ts := s.now().UTC().UnixNano()
		prefix := snapshotPrefix(projectID)
		if last := newestKeys(txn, prefix, 1); len(last) == 1 {
			prev, err := tsFromKey(last[0], prefix)
			if err != nil {
				return fmt.Errorf("parse snapshot key: %w", err)
			}
			if ts <= prev {
				ts = prev + 1
			}
		}

		snap.ID = uuid.NewString()
		snap.CreatedAt = time.Unix(0, ts).UTC()
		key := snapshotKey(projectID, ts, snap.ID)
		if err := setJSON(txn, key, snap); err != nil {
			return err
		}
		return txn.Set(snapshotIndexKey(snap.ID), key)
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// GetSnapshot loads a snapshot and checks that it belongs to projectID.
func (s *BadgerStore) GetSnapshot(ctx context.Context, projectID, snapshotID string) (*datatypes.Snapshot, error) {
	var snap datatypes.Snapshot
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotIndexKey(snapshotID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, key, &snap)
	})
	if err != nil {
		return nil, err
	}
	if projectID != "" && snap.ProjectID != projectID {
		return nil, ErrNotFound
	}
	return &snap, nil
}

// LatestSnapshot returns the most recently created snapshot.
func (s *BadgerStore) LatestSnapshot(ctx context.Context, projectID string) (*datatypes.Snapshot, error) {
	var snap *datatypes.Snapshot
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		keys := newestKeys(txn, snapshotPrefix(projectID), 1)
		if len(keys) == 0 {
			return nil
		}
		snap = &datatypes.Snapshot{}
		return getJSON(txn, keys[0], snap)
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// PreviousSnapshot returns the newest snapshot strictly older than before.
func (s *BadgerStore) PreviousSnapshot(ctx context.Context, projectID string, before time.Time) (*datatypes.Snapshot, error) {
	var snap *datatypes.Snapshot
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := snapshotPrefix(projectID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seeking in reverse to "<prefix><before>" lands on the last key
		// whose timestamp is <= before; equal timestamps are skipped below.
		cutoff := before.UTC().UnixNano()
		seek := []byte(string(prefix) + pad(cutoff))
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			ts, err := tsFromKey(it.Item().Key(), prefix)
			if err != nil {
				return err
			}
			if ts >= cutoff {
				continue
			}
			snap = &datatypes.Snapshot{}
			return it.Item().Value(func(val []byte) error { return json.Unmarshal(val, snap) })
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ListSnapshots returns snapshot summaries newest-first.
func (s *BadgerStore) ListSnapshots(ctx context.Context, projectID string, limit int) ([]datatypes.SnapshotInfo, error) {
	var out []datatypes.SnapshotInfo
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		for _, key := range newestKeys(txn, snapshotPrefix(projectID), limit) {
			var snap datatypes.Snapshot
			if err := getJSON(txn, key, &snap); err != nil {
				return err
			}
			out = append(out, snap.Info())
		}
		return nil
	})
	return out, err
}

// CountSnapshots returns the number of stored snapshots of the project.
func (s *BadgerStore) CountSnapshots(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		n = countPrefix(txn, snapshotPrefix(projectID))
		return nil
	})
	return n, err
}

// PruneSnapshots keeps the newest keep snapshots and deletes the rest.
func (s *BadgerStore) PruneSnapshots(ctx context.Context, projectID string, keep int) ([]string, error) {
	if keep < 1 {
		keep = 1
	}
	var removed []string
	err := s.update(ctx, func(txn *badger.Txn) error {
		removed = removed[:0]
		keys := newestKeys(txn, snapshotPrefix(projectID), 0)
		if len(keys) <= keep {
			return nil
		}
		for _, key := range keys[keep:] {
			id := string(key[strings.LastIndexByte(string(key), '/')+1:])
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Delete(snapshotIndexKey(id)); err != nil {
				return err
			}
			removed = append(removed, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// =============================================================================
// Messages and conversation state
// =============================================================================

// AppendMessage stores a chat turn with the next sequence number.
func (s *BadgerStore) AppendMessage(ctx context.Context, projectID, role, content string) (*datatypes.Message, error) {
	var msg datatypes.Message
	err := s.update(ctx, func(txn *badger.Txn) error {
		var seq int64
		item, err := txn.Get(messageSeqKey(projectID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if seq, err = strconv.ParseInt(string(raw), 10, 64); err != nil {
				return fmt.Errorf("parse message seq: %w", err)
			}
		}
		seq++
		msg = datatypes.Message{
			ProjectID: projectID,
			Seq:       seq,
			Role:      role,
			Content:   content,
			CreatedAt: s.now().UTC(),
		}
		if err := txn.Set(messageSeqKey(projectID), []byte(strconv.FormatInt(seq, 10))); err != nil {
			return err
		}
		return setJSON(txn, append(messagePrefix(projectID), pad(seq)...), &msg)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns every message of the project in sequence order.
func (s *BadgerStore) ListMessages(ctx context.Context, projectID string) ([]datatypes.Message, error) {
	var out []datatypes.Message
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := messagePrefix(projectID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m datatypes.Message
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// CountMessages returns the number of stored messages of the project.
func (s *BadgerStore) CountMessages(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		n = countPrefix(txn, messagePrefix(projectID))
		return nil
	})
	return n, err
}

// GetConversation returns the running summary state, or nil.
func (s *BadgerStore) GetConversation(ctx context.Context, projectID string) (*datatypes.ConversationState, error) {
	var state datatypes.ConversationState
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, conversationKey(projectID), &state)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// PutConversation replaces the running summary state.
func (s *BadgerStore) PutConversation(ctx context.Context, state *datatypes.ConversationState) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, conversationKey(state.ProjectID), state)
	})
}

// =============================================================================
// Routines
// =============================================================================

// SaveRoutine inserts or replaces a routine and maintains its indexes.
func (s *BadgerStore) SaveRoutine(ctx context.Context, r *datatypes.Routine) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	ts := pad(r.StartedAt.UTC().UnixNano())
	return s.update(ctx, func(txn *badger.Txn) error {
		if err := setJSON(txn, routineKey(r.ID), r); err != nil {
			return err
		}
		if err := txn.Set([]byte(string(routineProjectPrefix(r.ProjectID))+ts+"/"+r.ID), nil); err != nil {
			return err
		}
		return txn.Set([]byte(string(routineOwnerPrefix(r.OwnerID))+ts+"/"+r.ID), nil)
	})
}

// GetRoutine loads a routine by ID.
func (s *BadgerStore) GetRoutine(ctx context.Context, id string) (*datatypes.Routine, error) {
	var r datatypes.Routine
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, routineKey(id), &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func routineIDFromIndex(key []byte) string {
	k := string(key)
	return k[strings.LastIndexByte(k, '/')+1:]
}

// ListRoutines returns routines newest-first. A project filter takes
// precedence over the owner index; both are applied when set.
func (s *BadgerStore) ListRoutines(ctx context.Context, filter RoutineFilter, limit int) ([]datatypes.Routine, error) {
	var out []datatypes.Routine
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := routineOwnerPrefix(filter.OwnerID)
		if filter.ProjectID != "" {
			prefix = routineProjectPrefix(filter.ProjectID)
		}
		for _, key := range newestKeys(txn, prefix, 0) {
			var r datatypes.Routine
			if err := getJSON(txn, routineKey(routineIDFromIndex(key)), &r); err != nil {
				return err
			}
			if filter.OwnerID != "" && r.OwnerID != filter.OwnerID {
				continue
			}
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// LatestFileRoutine returns the newest routine that recorded file changes.
func (s *BadgerStore) LatestFileRoutine(ctx context.Context, projectID string) (*datatypes.Routine, error) {
	var found *datatypes.Routine
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		for _, key := range newestKeys(txn, routineProjectPrefix(projectID), 0) {
			var r datatypes.Routine
			if err := getJSON(txn, routineKey(routineIDFromIndex(key)), &r); err != nil {
				return err
			}
			if r.HasFileChanges() {
				found = &r
				return nil
			}
		}
		return nil
	})
	return found, err
}

// =============================================================================
// Deployments
// =============================================================================

// CreateDeployment stores one deployment attempt.
func (s *BadgerStore) CreateDeployment(ctx context.Context, d *datatypes.Deployment) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now().UTC()
	}
	key := []byte(string(deploymentPrefix(d.ProjectID)) + pad(d.CreatedAt.UnixNano()) + "/" + d.ID)
	return s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, key, d)
	})
}

// LatestDeployment returns the newest deployment attempt, or nil.
func (s *BadgerStore) LatestDeployment(ctx context.Context, projectID string) (*datatypes.Deployment, error) {
	list, err := s.ListDeployments(ctx, projectID, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ListDeployments returns deployment attempts newest-first.
func (s *BadgerStore) ListDeployments(ctx context.Context, projectID string, limit int) ([]datatypes.Deployment, error) {
	var out []datatypes.Deployment
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		for _, key := range newestKeys(txn, deploymentPrefix(projectID), limit) {
			var d datatypes.Deployment
			if err := getJSON(txn, key, &d); err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

var _ Store = (*BadgerStore)(nil)
