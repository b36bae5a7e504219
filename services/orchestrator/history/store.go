// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists conversations, query records and audit events
// in an embedded BadgerDB.
//
// # Description
//
// The Store is written after a request reaches final or error and is read
// when the next request of the same session is classified. Keys are laid
// out so that one prefix scan returns a session's records in time order:
//
//	msg/{session}/{unix_nanos}/{id}   conversation messages
//	qry/{session}/{unix_nanos}/{id}   query records
//	aud/{unix_nanos}/{id}             audit events
//
// Session ids are path-escaped before they become part of a key.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianQuery/pkg/extensions"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/workflow"
)

const (
	defaultQueryLimit = 50
	defaultAuditLimit = 100
)

// QueryRecord is the persisted summary of one finished request.
type QueryRecord struct {
	QueryID     string               `json:"query_id"`
	SessionID   string               `json:"session_id"`
	Text        string               `json:"text"`
	SourceID    string               `json:"source_id"`
	SourceKind  string               `json:"source_kind"`
	Stage       string               `json:"stage"`
	Approach    string               `json:"approach,omitempty"`
	Answer      string               `json:"answer,omitempty"`
	Confidence  float64              `json:"confidence"`
	Sources     []datatypes.PathName `json:"sources,omitempty"`
	Error       string               `json:"error,omitempty"`
	DurationMS  int64                `json:"duration_ms"`
	SubmittedAt time.Time            `json:"submitted_at"`
}

// Store is the badger-backed history.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db        *db
	retention time.Duration
}

var (
	_ workflow.CompletionRecorder = (*Store)(nil)
	_ workflow.HistoryReader      = (*Store)(nil)
	_ extensions.AuditLogger      = (*Store)(nil)
)

// Open opens the store described by cfg.
func Open(cfg Config) (*Store, error) {
	d, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("History store opened", "path", cfg.Path, "in_memory", cfg.InMemory, "retention", cfg.Retention)
	return &Store{db: d, retention: cfg.Retention}, nil
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	return s.db.close()
}

// =============================================================================
// Keys
// =============================================================================

func sessionPart(sessionID string) string {
	return url.PathEscape(sessionID)
}

func msgPrefix(sessionID string) []byte {
	return []byte("msg/" + sessionPart(sessionID) + "/")
}

func queryPrefix(sessionID string) []byte {
	return []byte("qry/" + sessionPart(sessionID) + "/")
}

var auditPrefix = []byte("aud/")

// timedKey appends a fixed-width timestamp and id to prefix so keys sort
// chronologically.
func timedKey(prefix []byte, at time.Time, id string) []byte {
	return append(append([]byte(nil), prefix...), fmt.Sprintf("%020d/%s", at.UnixNano(), id)...)
}

// =============================================================================
// Messages
// =============================================================================

// AppendMessages stores msgs. Missing ids and timestamps are filled in.
func (s *Store) AppendMessages(ctx context.Context, msgs ...datatypes.Message) error {
	err := s.db.update(ctx, func(txn *badger.Txn) error {
		for _, m := range msgs {
			if err := s.putMessage(txn, m); err != nil {
				return err
			}
		}
		return nil
	})
	observability.RecordHistoryWrite("message", err)
	return err
}

func (s *Store) putMessage(txn *badger.Txn, m datatypes.Message) error {
	if m.SessionID == "" {
		return errors.New("message has no session id")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return s.put(txn, timedKey(msgPrefix(m.SessionID), m.Timestamp, m.ID), m, s.retention)
}

// Recent returns the last n messages of a session, oldest first.
func (s *Store) Recent(ctx context.Context, sessionID string, n int) ([]datatypes.Message, error) {
	var out []datatypes.Message
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, msgPrefix(sessionID), true, n, func(val []byte) (bool, error) {
			var m datatypes.Message
			if err := json.Unmarshal(val, &m); err != nil {
				return false, err
			}
			out = append(out, m)
			return true, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read recent messages: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Messages returns every stored message of a session, oldest first.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]datatypes.Message, error) {
	out := []datatypes.Message{}
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, msgPrefix(sessionID), false, 0, func(val []byte) (bool, error) {
			var m datatypes.Message
			if err := json.Unmarshal(val, &m); err != nil {
				return false, err
			}
			out = append(out, m)
			return true, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return out, nil
}

// =============================================================================
// Query Records
// =============================================================================

// RecordCompletion stores the user question, the assistant answer (or the
// failure message) and a QueryRecord for a terminal snapshot in one
// transaction.
func (s *Store) RecordCompletion(ctx context.Context, snap workflow.Snapshot) error {
	q := snap.Query
	rec := QueryRecord{
		QueryID:     q.ID,
		SessionID:   q.SessionID,
		Text:        q.Text,
		SourceID:    q.Source.ID,
		SourceKind:  string(q.Source.Kind),
		Stage:       string(snap.Stage),
		Error:       snap.Error,
		DurationMS:  snap.Duration.Milliseconds(),
		SubmittedAt: q.SubmittedAt,
	}
	if snap.Plan != nil {
		rec.Approach = string(snap.Plan.Approach)
	}
	answer := snap.Error
	if snap.Synthesis != nil {
		rec.Answer = snap.Synthesis.AnswerText
		rec.Confidence = snap.Synthesis.Confidence
		rec.Sources = snap.Synthesis.Sources
		answer = snap.Synthesis.AnswerText
	}

	finishedAt := q.SubmittedAt.Add(snap.Duration)
	if n := len(snap.Transitions); n > 0 {
		finishedAt = snap.Transitions[n-1].At
	}
	if !finishedAt.After(q.SubmittedAt) {
		finishedAt = q.SubmittedAt.Add(time.Nanosecond)
	}

	err := s.db.update(ctx, func(txn *badger.Txn) error {
		if err := s.putMessage(txn, datatypes.Message{
			SessionID: q.SessionID, Role: datatypes.RoleUser, Content: q.Text,
			RequestID: q.ID, Timestamp: q.SubmittedAt,
		}); err != nil {
			return err
		}
		if err := s.putMessage(txn, datatypes.Message{
			SessionID: q.SessionID, Role: datatypes.RoleAssistant, Content: answer,
			RequestID: q.ID, Timestamp: finishedAt,
		}); err != nil {
			return err
		}
		return s.put(txn, timedKey(queryPrefix(q.SessionID), q.SubmittedAt, q.ID), rec, s.retention)
	})
	observability.RecordHistoryWrite("query", err)
	if err != nil {
		return fmt.Errorf("record completion of %s: %w", q.ID, err)
	}
	return nil
}

// Queries returns up to limit query records of a session, newest first.
// A limit of zero uses the default of 50.
func (s *Store) Queries(ctx context.Context, sessionID string, limit int) ([]QueryRecord, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	out := []QueryRecord{}
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, queryPrefix(sessionID), true, limit, func(val []byte) (bool, error) {
			var r QueryRecord
			if err := json.Unmarshal(val, &r); err != nil {
				return false, err
			}
			out = append(out, r)
			return true, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read query history: %w", err)
	}
	return out, nil
}

// Clear deletes every message and query record of a session and returns
// how many entries were removed.
func (s *Store) Clear(ctx context.Context, sessionID string) (int, error) {
	var keys [][]byte
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		for _, prefix := range [][]byte{msgPrefix(sessionID), queryPrefix(sessionID)} {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("list session keys: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			observability.RecordHistoryWrite("clear", err)
			return 0, fmt.Errorf("delete %s: %w", k, err)
		}
	}
	err = wb.Flush()
	observability.RecordHistoryWrite("clear", err)
	if err != nil {
		return 0, fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	slog.Info("Session history cleared", "session_id", sessionID, "entries", len(keys))
	return len(keys), nil
}

// =============================================================================
// Audit
// =============================================================================

// Log stores an audit event.
func (s *Store) Log(ctx context.Context, ev extensions.AuditEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	err := s.db.update(ctx, func(txn *badger.Txn) error {
		return s.put(txn, timedKey(auditPrefix, ev.Timestamp, uuid.NewString()), ev, 0)
	})
	observability.RecordHistoryWrite("audit", err)
	return err
}

// Query returns matching audit events, newest first. A zero limit uses
// the default of 100.
func (s *Store) Query(ctx context.Context, f extensions.AuditFilter) ([]extensions.AuditEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	out := []extensions.AuditEvent{}
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, auditPrefix, true, limit, func(val []byte) (bool, error) {
			var ev extensions.AuditEvent
			if err := json.Unmarshal(val, &ev); err != nil {
				return false, err
			}
			if !f.Matches(ev) {
				return false, nil
			}
			out = append(out, ev)
			return true, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	return out, nil
}

// Flush syncs the database to disk.
func (s *Store) Flush(context.Context) error {
	return s.db.sync()
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Store) put(txn *badger.Txn, key []byte, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	e := badger.NewEntry(key, data)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return txn.SetEntry(e)
}

// scan visits values under prefix in key order, or reverse order when
// reverse is set. fn reports whether the value counted toward limit; a
// limit of zero visits everything.
func scan(txn *badger.Txn, prefix []byte, reverse bool, limit int, fn func(val []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	start := prefix
	if reverse {
		start = append(append([]byte(nil), prefix...), 0xFF)
	}
	counted := 0
	for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
		if limit > 0 && counted >= limit {
			break
		}
		var keep bool
		err := it.Item().Value(func(val []byte) error {
			var ferr error
			keep, ferr = fn(val)
			return ferr
		})
		if err != nil {
			return err
		}
		if keep {
			counted++
		}
	}
	return nil
}
