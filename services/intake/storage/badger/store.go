// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/intake/services/intake/collection"
	"github.com/AleutianAI/intake/services/intake/conditions"
	"github.com/AleutianAI/intake/services/intake/storage"
)

// Key layout. Identifiers are UUIDs (no separator collisions):
//
//	req/<request>                      collection request
//	inst/<request>/<instrument>        instrument
//	measure/<request>/<measure>        measure -> instrument id index
//	sugg/<instrument>                  bound suggested responses, ordered
//	cond/<request>/<instrument>/<id>   condition with its group tree
//	input/<request>/<instrument>/<id>  collected input
const (
	prefixRequest    = "req/"
	prefixInstrument = "inst/"
	prefixMeasure    = "measure/"
	prefixSuggested  = "sugg/"
	prefixCondition  = "cond/"
	prefixInput      = "input/"
)

// Store implements storage.Store on an embedded BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use; writes go through serializable
// transactions.
type Store struct {
	db     *badger.DB
	log    *slog.Logger
	gcStop chan struct{}
	gcDone chan struct{}
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) a store with the given configuration and,
// for persistent databases, starts the value log GC loop.
func Open(cfg Config) (*Store, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, log: logger, now: time.Now}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go gcLoop(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger, s.gcStop, s.gcDone)
	}
	return s, nil
}

// OpenInMemory opens a throwaway store for tests.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database. Safe to call once.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
	}
	return s.db.Close()
}

func (s *Store) SaveCollectionRequest(ctx context.Context, req *collection.CollectionRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if req.DateCreated.IsZero() {
		req.DateCreated = now
	}
	req.DateModified = now
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		return setRecord(txn, prefixRequest+req.ID, req)
	})
}

func (s *Store) CollectionRequest(ctx context.Context, id string) (*collection.CollectionRequest, error) {
	var req collection.CollectionRequest
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		return getRecord(txn, prefixRequest+id, &req, "collection request", id)
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Store) SaveInstrument(ctx context.Context, inst *collection.Instrument) error {
	if inst.CollectionRequestID == "" {
		return errors.New("storage: instrument requires a collection request id")
	}
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		if err := setRecord(txn, instrumentKey(inst.CollectionRequestID, inst.ID), inst); err != nil {
			return err
		}
		if inst.MeasureID != "" {
			key := prefixMeasure + inst.CollectionRequestID + "/" + inst.MeasureID
			return txn.Set([]byte(key), []byte(inst.ID))
		}
		return nil
	})
}

func (s *Store) Instrument(ctx context.Context, requestID, id string) (*collection.Instrument, error) {
	var inst collection.Instrument
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		return getRecord(txn, instrumentKey(requestID, id), &inst, "instrument", id)
	})
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *Store) InstrumentByMeasure(ctx context.Context, requestID, measureID string) (*collection.Instrument, error) {
	var inst collection.Instrument
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixMeasure + requestID + "/" + measureID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &storage.NotFoundError{Kind: "instrument for measure", Key: measureID}
		}
		if err != nil {
			return fmt.Errorf("storage: measure index: %w", err)
		}
		var id string
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}
		return getRecord(txn, instrumentKey(requestID, id), &inst, "instrument", id)
	})
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *Store) Instruments(ctx context.Context, requestID string) ([]*collection.Instrument, error) {
	var out []*collection.Instrument
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixInstrument+requestID+"/", func(_ string, val []byte) error {
			var inst collection.Instrument
			if err := storage.Unmarshal(val, &inst); err != nil {
				return err
			}
			out = append(out, &inst)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortInstruments(out)
	return out, nil
}

// sortInstruments orders by segment, explicit order, then id, which is
// the presentation order the specification document promises.
func sortInstruments(instruments []*collection.Instrument) {
	sort.SliceStable(instruments, func(i, j int) bool {
		a, b := instruments[i], instruments[j]
		if a.SegmentID != b.SegmentID {
			return a.SegmentID < b.SegmentID
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.ID < b.ID
	})
}

func (s *Store) SaveSuggestedResponse(ctx context.Context, requestID string, bound *collection.BoundSuggestedResponse) error {
	if requestID == "" || bound.InstrumentID == "" {
		return errors.New("storage: suggested response requires request and instrument ids")
	}
	if bound.ID == "" {
		bound.ID = uuid.NewString()
	}
	key := prefixSuggested + requestID + "/" + bound.InstrumentID
	// The full list lives under one key so insertion order survives.
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		var existing []*collection.BoundSuggestedResponse
		err := getRecord(txn, key, &existing, "", "")
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		for i, prev := range existing {
			if prev.ID == bound.ID {
				existing[i] = bound
				return setRecord(txn, key, existing)
			}
		}
		existing = append(existing, bound)
		return setRecord(txn, key, existing)
	})
}

func (s *Store) SuggestedResponses(ctx context.Context, requestID, instrumentID string) ([]*collection.BoundSuggestedResponse, error) {
	var out []*collection.BoundSuggestedResponse
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		err := getRecord(txn, prefixSuggested+requestID+"/"+instrumentID, &out, "", "")
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, bound := range out {
		bound.Data = storage.NormalizeValue(bound.Data)
	}
	return out, nil
}

func (s *Store) SuggestedResponsesForRequest(ctx context.Context, requestID string) (map[string][]*collection.BoundSuggestedResponse, error) {
	out := make(map[string][]*collection.BoundSuggestedResponse)
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixSuggested+requestID+"/", func(instrumentID string, val []byte) error {
			var bound []*collection.BoundSuggestedResponse
			if err := storage.Unmarshal(val, &bound); err != nil {
				return err
			}
			for _, b := range bound {
				b.Data = storage.NormalizeValue(b.Data)
			}
			out[instrumentID] = bound
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SaveCondition(ctx context.Context, requestID string, cond *conditions.Condition) error {
	if requestID == "" || cond.InstrumentID == "" {
		return errors.New("storage: condition requires request and instrument ids")
	}
	if cond.Group == nil {
		return conditions.ErrNilGroup
	}
	if err := cond.Group.Validate(); err != nil {
		return err
	}
	if cond.ID == "" {
		cond.ID = uuid.NewString()
	}
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		return setRecord(txn, conditionKey(requestID, cond.InstrumentID, cond.ID), cond)
	})
}

func (s *Store) Conditions(ctx context.Context, requestID, instrumentID string) ([]*conditions.Condition, error) {
	var out []*conditions.Condition
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixCondition+requestID+"/"+instrumentID+"/", func(_ string, val []byte) error {
			var cond conditions.Condition
			if err := storage.Unmarshal(val, &cond); err != nil {
				return err
			}
			out = append(out, &cond)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ConditionsForRequest(ctx context.Context, requestID string) (map[string][]*conditions.Condition, error) {
	out := make(map[string][]*conditions.Condition)
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixCondition+requestID+"/", func(_ string, val []byte) error {
			var cond conditions.Condition
			if err := storage.Unmarshal(val, &cond); err != nil {
				return err
			}
			out[cond.InstrumentID] = append(out[cond.InstrumentID], &cond)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpsertInput(ctx context.Context, input *collection.CollectedInput) error {
	if input.CollectionRequestID == "" || input.InstrumentID == "" {
		return errors.New("storage: input requires request and instrument ids")
	}
	if input.ID == "" {
		input.ID = uuid.NewString()
	}
	key := inputKey(input.CollectionRequestID, input.InstrumentID, input.ID)
	now := s.now().UTC()
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		var previous collection.CollectedInput
		err := getRecord(txn, key, &previous, "", "")
		switch {
		case err == nil:
			input.DateCreated = previous.DateCreated
		case errors.Is(err, storage.ErrNotFound):
			input.DateCreated = now
		default:
			return err
		}
		input.DateModified = now
		return setRecord(txn, key, input)
	})
}

func (s *Store) Inputs(ctx context.Context, requestID, instrumentID string, cctx collection.Context) ([]*collection.CollectedInput, error) {
	var out []*collection.CollectedInput
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixInput+requestID+"/"+instrumentID+"/", func(_ string, val []byte) error {
			input, err := decodeInput(val)
			if err != nil {
				return err
			}
			out = append(out, input)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return narrowInputs(out, cctx), nil
}

func (s *Store) InputsForRequest(ctx context.Context, requestID string, cctx collection.Context) (map[string][]*collection.CollectedInput, error) {
	byInstrument := make(map[string][]*collection.CollectedInput)
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixInput+requestID+"/", func(_ string, val []byte) error {
			input, err := decodeInput(val)
			if err != nil {
				return err
			}
			byInstrument[input.InstrumentID] = append(byInstrument[input.InstrumentID], input)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for id, inputs := range byInstrument {
		byInstrument[id] = narrowInputs(inputs, cctx)
	}
	return byInstrument, nil
}

func (s *Store) CollectedValues(ctx context.Context, requestID, instrumentID string, cctx collection.Context) ([]any, error) {
	inputs, err := s.Inputs(ctx, requestID, instrumentID, cctx)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(inputs))
	for i, input := range inputs {
		values[i] = input.Data
	}
	return values, nil
}

func (s *Store) CountInputs(ctx context.Context, requestID, instrumentID string, cctx collection.Context) (int, error) {
	inputs, err := s.Inputs(ctx, requestID, instrumentID, cctx)
	if err != nil {
		return 0, err
	}
	return len(inputs), nil
}

func decodeInput(val []byte) (*collection.CollectedInput, error) {
	var input collection.CollectedInput
	if err := storage.Unmarshal(val, &input); err != nil {
		return nil, err
	}
	input.Data = storage.NormalizeValue(input.Data)
	return &input, nil
}

// narrowInputs applies the collection context: an optional user filter
// and, under LatestOnly, one input per user, the most recently
// modified.
func narrowInputs(inputs []*collection.CollectedInput, cctx collection.Context) []*collection.CollectedInput {
	filtered := inputs[:0:0]
	for _, input := range inputs {
		if cctx.UserID != "" && input.UserID != cctx.UserID {
			continue
		}
		filtered = append(filtered, input)
	}
	if !cctx.LatestOnly {
		return filtered
	}

	latest := make(map[string]*collection.CollectedInput)
	var order []string
	for _, input := range filtered {
		prev, ok := latest[input.UserID]
		if !ok {
			order = append(order, input.UserID)
			latest[input.UserID] = input
			continue
		}
		if input.DateModified.After(prev.DateModified) {
			latest[input.UserID] = input
		}
	}
	out := make([]*collection.CollectedInput, 0, len(order))
	for _, user := range order {
		out = append(out, latest[user])
	}
	return out
}

func instrumentKey(requestID, id string) string {
	return prefixInstrument + requestID + "/" + id
}

func conditionKey(requestID, instrumentID, id string) string {
	return prefixCondition + requestID + "/" + instrumentID + "/" + id
}

func inputKey(requestID, instrumentID, id string) string {
	return prefixInput + requestID + "/" + instrumentID + "/" + id
}

func setRecord(txn *badger.Txn, key string, v any) error {
	data, err := storage.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

// getRecord decodes one key into v. Kind/id annotate the not-found
// error; when kind is empty the caller only cares about the sentinel.
func getRecord(txn *badger.Txn, key string, v any, kind, id string) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		if kind == "" {
			return &storage.NotFoundError{Kind: "record", Key: key}
		}
		return &storage.NotFoundError{Kind: kind, Key: id}
	}
	if err != nil {
		return fmt.Errorf("storage: get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return storage.Unmarshal(val, v)
	})
}

func scanPrefix(txn *badger.Txn, prefix string, fn func(key string, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		item := it.Item()
		key := string(item.Key())
		if err := item.Value(func(val []byte) error {
			return fn(strings.TrimPrefix(key, prefix), val)
		}); err != nil {
			return err
		}
	}
	return nil
}
