// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package collector implements the submission runtime for one
// collection request: gating instruments on their conditions,
// enforcing capacity ceilings, cleaning payloads against response
// policies and suggested responses, and storing the results.
//
// The lifecycle per submission batch is clear -> stage -> clean ->
// save. Stage cleans by default; repeated cleans over a growing staged
// list resume from a cursor so only new payloads pay the cost.
package collector

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"github.com/AleutianAI/intake/services/intake/collection"
	"github.com/AleutianAI/intake/services/intake/conditions"
	"github.com/AleutianAI/intake/services/intake/matchers"
	"github.com/AleutianAI/intake/services/intake/storage"
)

// Version is the collector implementation version recorded as
// provenance on every stored input.
const Version = "1.0.0"

// QualifiedName is the name this collector registers under; its
// sha256 is the wire identifier consumers see in specification
// documents.
const QualifiedName = "intake.collector.Collector"

// Payload is one raw submission: a target instrument (by id or by
// measure key) and the submitted data.
type Payload struct {
	InstrumentID string `json:"instrument,omitempty"`
	MeasureID    string `json:"measure,omitempty"`
	Data         any    `json:"data"`
}

// CleanedPayload is a payload after instrument resolution, gating,
// capacity checks, and data cleaning.
type CleanedPayload struct {
	Instrument *collection.Instrument
	Data       any
}

// ConditionResult is one condition's individual verdict, for
// diagnostic tooling that needs more than the combined gate decision.
type ConditionResult struct {
	ConditionID string `json:"condition"`
	DataGetter  string `json:"data_getter"`
	Passed      bool   `json:"passed"`
}

// Collector orchestrates cleaning, gating, capacity checks, and
// storage for one collection request and caller context.
//
// # Thread Safety
//
// Read-side operations (gating, capacity, cleaning single payloads)
// are safe to run concurrently. The stage/clean/save pipeline mutates
// collector state and is intended for a single goroutine.
type Collector struct {
	request   *collection.CollectionRequest
	store     storage.Store
	resolvers *conditions.Registry
	cctx      collection.Context
	group     string
	groups    []string
	segment   string
	log       *slog.Logger

	measureMethods map[string]*InputMethod
	typeMethods    map[string]*InputMethod
	methodMu       sync.Mutex
	methodCache    map[string]*InputMethod

	staged     []Payload
	cleaned    []*CleanedPayload
	cleanIndex int
}

// Option configures a Collector at construction.
type Option func(*Collector)

// WithContext sets the caller context (user identity, latest-only
// narrowing) applied to every storage read.
func WithContext(cctx collection.Context) Option {
	return func(c *Collector) { c.cctx = cctx }
}

// WithGroup overrides the collector group label.
func WithGroup(group string) Option {
	return func(c *Collector) { c.group = group }
}

// WithSegment sets the segment label surfaced in specification
// documents.
func WithSegment(segment string) Option {
	return func(c *Collector) { c.segment = segment }
}

// WithGroups sets the full set of group labels this collector serves.
// When unset the set is just the primary group label.
func WithGroups(groups ...string) Option {
	return func(c *Collector) { c.groups = groups }
}

// WithMeasureMethods installs per-measure input cleaners. Measure
// overrides win over type overrides.
func WithMeasureMethods(methods map[string]*InputMethod) Option {
	return func(c *Collector) { c.measureMethods = methods }
}

// WithTypeMethods installs per-instrument-type input cleaners.
func WithTypeMethods(methods map[string]*InputMethod) Option {
	return func(c *Collector) { c.typeMethods = methods }
}

// WithLogger sets the collector's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) { c.log = logger }
}

// WithResolver registers an additional data getter resolver beyond
// the built-in instrument and debug schemes.
func WithResolver(res conditions.Resolver) Option {
	return func(c *Collector) {
		if err := c.resolvers.Register(res); err != nil {
			c.log.Error("resolver registration failed",
				"resolver", res.Name(), "error", err)
		}
	}
}

// New builds a collector for a collection request. The instrument and
// debug data getter schemes are registered out of the box.
func New(req *collection.CollectionRequest, store storage.Store, opts ...Option) (*Collector, error) {
	c := &Collector{
		request:     req,
		store:       store,
		group:       "default",
		log:         slog.Default(),
		methodCache: map[string]*InputMethod{},
	}
	c.resolvers = conditions.NewRegistry(c.log)
	if err := c.resolvers.Register(NewInstrumentResolver(store)); err != nil {
		return nil, err
	}
	if err := c.resolvers.Register(conditions.DebugResolver{}); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Request returns the collection request this collector serves.
func (c *Collector) Request() *collection.CollectionRequest { return c.request }

// Group returns the collector group label.
func (c *Collector) Group() string { return c.group }

// Segment returns the collector segment label.
func (c *Collector) Segment() string { return c.segment }

// Groups returns the group labels this collector serves. The primary
// group label is the whole set unless WithGroups widened it.
func (c *Collector) Groups() []string {
	if len(c.groups) == 0 {
		return []string{c.group}
	}
	return c.groups
}

// Storage returns the storage collaborator, for the specification
// assembler and diagnostic tooling.
func (c *Collector) Storage() storage.Store { return c.store }

// Context returns the caller context.
func (c *Collector) Context() collection.Context { return c.cctx }

// Resolvers exposes the data getter registry, for diagnostics and
// consumers registering extra schemes after construction.
func (c *Collector) Resolvers() *conditions.Registry { return c.resolvers }

// IdentifierHex returns this collector's registry identifier.
func (c *Collector) IdentifierHex() string { return Identifier(QualifiedName) }

// ---- Instrument gate ----

// ConditionBreakdown evaluates each of the instrument's conditions
// individually. Evaluation errors propagate untouched: a broken rule
// tree is a configuration fault, never a silent "false".
func (c *Collector) ConditionBreakdown(ctx context.Context, inst *collection.Instrument) ([]ConditionResult, error) {
	conds, err := c.store.Conditions(ctx, c.request.ID, inst.ID)
	if err != nil {
		return nil, err
	}
	lookup := conditions.Lookup{Instrument: inst, Context: c.cctx}
	results := make([]ConditionResult, 0, len(conds))
	for _, cond := range conds {
		passed, err := cond.Test(ctx, c.resolvers, lookup)
		if err != nil {
			return nil, err
		}
		results = append(results, ConditionResult{
			ConditionID: cond.ID,
			DataGetter:  cond.DataGetter,
			Passed:      passed,
		})
	}
	return results, nil
}

// IsInstrumentAllowed combines the instrument's condition verdicts
// under its own requirement type. Zero conditions means always
// allowed.
func (c *Collector) IsInstrumentAllowed(ctx context.Context, inst *collection.Instrument) (bool, error) {
	results, err := c.ConditionBreakdown(ctx, inst)
	if err != nil {
		return false, err
	}
	requirement := inst.TestRequirementType
	if requirement == "" {
		requirement = collection.RequirementAllPass
	}
	return combineVerdicts(inst.ID, requirement, results)
}

func combineVerdicts(instrumentID, requirement string, results []ConditionResult) (bool, error) {
	hasPassed := false
	for _, r := range results {
		if r.Passed {
			hasPassed = true
		}
		switch requirement {
		case collection.RequirementAllPass:
			if !r.Passed {
				return false, nil
			}
		case collection.RequirementOnePass:
			if r.Passed {
				return true, nil
			}
		case collection.RequirementAllFail:
			if r.Passed {
				return false, nil
			}
		default:
			return false, &conditions.InvalidRequirementError{
				GroupID:         instrumentID,
				RequirementType: requirement,
			}
		}
	}
	if requirement == collection.RequirementOnePass {
		return hasPassed, nil
	}
	return true, nil
}

// ---- Capacity policy ----

// IsInputAllowed applies the request's capacity ceilings: the per-user
// limit (identified users only) and the all-users total. Both count
// existing inputs before this submission, so the ceiling value itself
// blocks: with a limit of 2, existing counts 0 and 1 pass, 2 blocks.
//
// Counting and writing are not serialized against concurrent
// submitters; enforcement is count-then-act and therefore soft.
func (c *Collector) IsInputAllowed(ctx context.Context, inst *collection.Instrument) (bool, error) {
	allowed, _, _, err := c.inputAllowed(ctx, inst)
	return allowed, err
}

func (c *Collector) inputAllowed(ctx context.Context, inst *collection.Instrument) (bool, Limit, int, error) {
	if userMax := c.request.MaxInstrumentInputsPerUser; userMax != nil && !c.cctx.Anonymous() {
		count, err := c.store.CountInputs(ctx, c.request.ID, inst.ID, c.cctx)
		if err != nil {
			return false, "", 0, err
		}
		if count >= *userMax {
			return false, LimitPerUser, *userMax, nil
		}
	}
	if totalMax := c.request.MaxInstrumentInputs; totalMax != nil {
		count, err := c.store.CountInputs(ctx, c.request.ID, inst.ID, c.cctx.WithoutUser())
		if err != nil {
			return false, "", 0, err
		}
		if count >= *totalMax {
			return false, LimitTotal, *totalMax, nil
		}
	}
	return true, "", 0, nil
}

// ---- Cleaning ----

// CleanPayload resolves a payload's target instrument, checks the
// conditions gate and capacity ceilings, and cleans the data.
func (c *Collector) CleanPayload(ctx context.Context, p Payload) (*CleanedPayload, error) {
	inst, err := c.resolveInstrument(ctx, p)
	if err != nil {
		return nil, err
	}

	allowed, err := c.IsInstrumentAllowed(ctx, inst)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, &AvailabilityError{InstrumentID: inst.ID, UserID: c.cctx.UserID}
	}

	ok, limit, max, err := c.inputAllowed(ctx, inst)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &AvailabilityError{
			InstrumentID: inst.ID,
			UserID:       c.cctx.UserID,
			Limit:        limit,
			Max:          max,
		}
	}

	data, err := c.CleanData(ctx, inst, p.Data)
	if err != nil {
		return nil, err
	}
	return &CleanedPayload{Instrument: inst, Data: data}, nil
}

func (c *Collector) resolveInstrument(ctx context.Context, p Payload) (*collection.Instrument, error) {
	switch {
	case p.InstrumentID != "":
		inst, err := c.store.Instrument(ctx, c.request.ID, p.InstrumentID)
		if err != nil {
			return nil, &ValidationError{
				InstrumentID: p.InstrumentID,
				Value:        p.Data,
				Msg:          "unknown instrument reference",
				Err:          err,
			}
		}
		return inst, nil
	case p.MeasureID != "":
		inst, err := c.store.InstrumentByMeasure(ctx, c.request.ID, p.MeasureID)
		if err != nil {
			return nil, &ValidationError{
				Value: p.Data,
				Msg:   "unknown measure reference " + p.MeasureID,
				Err:   err,
			}
		}
		return inst, nil
	}
	return nil, &ValidationError{Value: p.Data, Msg: "payload names no instrument or measure"}
}

// CleanData enforces the response policy's shape invariant, cleans
// each element, and applies restrict-to-suggested.
func (c *Collector) CleanData(ctx context.Context, inst *collection.Instrument, data any) (any, error) {
	policy := inst.ResponsePolicy
	multiple, restrict := false, false
	if policy != nil {
		multiple, restrict = policy.Multiple, policy.Restrict
	}

	plural := isList(data)
	if multiple && !plural {
		data = []any{data}
		plural = true
	}
	if !multiple && plural {
		return nil, &ValidationError{
			InstrumentID: inst.ID,
			Value:        data,
			Msg:          "multiple inputs are not allowed",
		}
	}

	if plural {
		items := matchers.Wrap(data)
		cleaned := make([]any, len(items))
		for i, item := range items {
			value, err := c.CleanInput(ctx, inst, item)
			if err != nil {
				return nil, err
			}
			cleaned[i] = value
		}
		data = cleaned
	} else {
		value, err := c.CleanInput(ctx, inst, data)
		if err != nil {
			return nil, err
		}
		data = value
	}

	if restrict {
		suggested, err := c.suggestedValues(ctx, inst)
		if err != nil {
			return nil, err
		}
		ok, err := matchers.TestCase(data, "all_suggested", nil, suggested)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &ValidationError{
				InstrumentID: inst.ID,
				Value:        data,
				Msg:          "inputs must be chosen from the suggested responses",
			}
		}
	}
	return data, nil
}

// CleanInput cleans one value: suggested-response references are
// expanded to their underlying data, then the instrument's input
// method coerces the result.
func (c *Collector) CleanInput(ctx context.Context, inst *collection.Instrument, value any) (any, error) {
	value, err := c.expandSuggestedReference(ctx, inst, value)
	if err != nil {
		return nil, err
	}

	method, err := c.MethodFor(ctx, inst)
	if err != nil {
		return nil, err
	}
	cleaned, err := method.Clean(value)
	if err != nil {
		msg := method.ErrorMessage
		if msg == "" {
			msg = "invalid value"
		}
		return nil, &ValidationError{InstrumentID: inst.ID, Value: value, Msg: msg, Err: err}
	}
	return cleaned, nil
}

// expandSuggestedReference swaps {"_suggested_response": <id>} for the
// underlying suggested value. Anything else passes through untouched.
func (c *Collector) expandSuggestedReference(ctx context.Context, inst *collection.Instrument, value any) (any, error) {
	ref, ok := value.(map[string]any)
	if !ok {
		return value, nil
	}
	rawID, ok := ref["_suggested_response"]
	if !ok {
		return value, nil
	}

	id, _ := rawID.(string)
	bound, err := c.store.SuggestedResponses(ctx, c.request.ID, inst.ID)
	if err != nil {
		return nil, err
	}
	for _, b := range bound {
		if b.SuggestedResponseID == id || b.ID == id {
			return b.Data, nil
		}
	}
	return nil, &ValidationError{
		InstrumentID: inst.ID,
		Value:        rawID,
		Msg:          "invalid suggested response reference",
	}
}

func (c *Collector) suggestedValues(ctx context.Context, inst *collection.Instrument) ([]any, error) {
	bound, err := c.store.SuggestedResponses(ctx, c.request.ID, inst.ID)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(bound))
	for i, b := range bound {
		values[i] = b.Data
	}
	return values, nil
}

// MethodFor resolves the input cleaner for an instrument. Measure
// overrides win over type overrides, which win over the default. The
// outcome is cached per instrument.
func (c *Collector) MethodFor(_ context.Context, inst *collection.Instrument) (*InputMethod, error) {
	c.methodMu.Lock()
	defer c.methodMu.Unlock()
	if method, ok := c.methodCache[inst.ID]; ok {
		return method, nil
	}
	method := DefaultMethod()
	if m, ok := c.typeMethods[inst.TypeID]; ok {
		method = m
	}
	if m, ok := c.measureMethods[inst.MeasureID]; ok {
		method = m
	}
	c.methodCache[inst.ID] = method
	return method, nil
}

// ---- Stage / clean / save pipeline ----

// Clear discards all staged and cleaned state.
func (c *Collector) Clear() {
	c.staged = nil
	c.cleaned = nil
	c.cleanIndex = 0
}

// Stage appends payloads to the staged list and cleans the new
// entries.
func (c *Collector) Stage(ctx context.Context, payloads ...Payload) error {
	c.staged = append(c.staged, payloads...)
	return c.Clean(ctx)
}

// StageWithoutClean appends payloads and resets cleaned state; a later
// Clean processes the whole staged list.
func (c *Collector) StageWithoutClean(payloads ...Payload) {
	c.staged = append(c.staged, payloads...)
	c.cleaned = nil
	c.cleanIndex = 0
}

// Clean processes staged payloads beyond the clean cursor. On error
// the cursor stays on the failing payload, so a retry resumes there;
// earlier cleaned results are untouched.
func (c *Collector) Clean(ctx context.Context) error {
	for c.cleanIndex < len(c.staged) {
		cleaned, err := c.CleanPayload(ctx, c.staged[c.cleanIndex])
		if err != nil {
			return err
		}
		c.cleaned = append(c.cleaned, cleaned)
		c.cleanIndex++
	}
	return nil
}

// CleanPartial processes staged payloads beyond the cursor, skipping
// payloads that fail and collecting their errors instead of aborting.
// The cursor always ends past every staged payload.
func (c *Collector) CleanPartial(ctx context.Context) []error {
	var errs []error
	for c.cleanIndex < len(c.staged) {
		cleaned, err := c.CleanPayload(ctx, c.staged[c.cleanIndex])
		if err != nil {
			errs = append(errs, err)
		} else {
			c.cleaned = append(c.cleaned, cleaned)
		}
		c.cleanIndex++
	}
	return errs
}

// StagedData returns the raw staged payloads.
func (c *Collector) StagedData() []Payload { return c.staged }

// CleanedData returns the payloads cleaned so far.
func (c *Collector) CleanedData() []*CleanedPayload { return c.cleaned }

/// CleanIndex returns the resumable clean cursor: the number of staged
// payloads cleaned (or skipped by CleanPartial) so far.
func (c *Collector) CleanIndex() int { return c.cleanIndex }

// Save cleans anything still pending, stores every cleaned payload,
// and clears the pipeline. Returns the stored inputs.
func (c *Collector) Save(ctx context.Context) ([]*collection.CollectedInput, error) {
	if err := c.Clean(ctx); err != nil {
		return nil, err
	}
	stored := make([]*collection.CollectedInput, 0, len(c.cleaned))
	for _, cleaned := range c.cleaned {
		input, err := c.Store(ctx, cleaned.Instrument, cleaned.Data, "")
		if err != nil {
			return stored, err
		}
		stored = append(stored, input)
	}
	c.Clear()
	return stored, nil
}

// Store writes one cleaned value as a collected input. A non-empty
// existingID replaces that input in place (update); empty creates.
// The write is a single atomic upsert against storage.
func (c *Collector) Store(ctx context.Context, inst *collection.Instrument, data any, existingID string) (*collection.CollectedInput, error) {
	input := &collection.CollectedInput{
		ID:                  existingID,
		CollectionRequestID: c.request.ID,
		InstrumentID:        inst.ID,
		UserID:              c.cctx.UserID,
		Data:                data,
		Version:             Version,
		CollectorClass:      c.IdentifierHex(),
	}
	if err := c.store.UpsertInput(ctx, input); err != nil {
		return nil, err
	}
	return input, nil
}

// isList reports whether v is a slice or array. Strings and maps are
// scalars here, matching the matcher library's wrap rule.
func isList(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return true
	}
	return false
}
