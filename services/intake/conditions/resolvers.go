// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conditions

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/AleutianAI/intake/services/intake/collection"
	"github.com/AleutianAI/intake/services/intake/matchers"
)

// ResolvedData is the answer material a resolver yields for a data
// getter: the observed values to be matched and, lazily relevant,
// the suggested-response values some match types compare against.
type ResolvedData struct {
	Values          []any
	SuggestedValues []any
}

// Lookup carries the evaluation surroundings a resolver may need: the
// dependent instrument whose condition is being tested, and the
// per-user narrowing applied to collected answers.
type Lookup struct {
	Instrument *collection.Instrument
	Context    collection.Context
}

// Resolver translates a data getter locator into ResolvedData.
//
// A locator has the canonical shape "<name>:<payload>"; the payload is
// matched against Pattern (named capture groups become the params map).
// Implementations live wherever their data does; the storage-backed
// instrument resolver is registered by the collector runtime.
type Resolver interface {
	// Name is the locator scheme, e.g. "instrument".
	Name() string

	// Pattern is the unanchored payload pattern. Named groups are
	// passed to Resolve as params.
	Pattern() string

	// Resolve produces the data for a matched locator. Errors here are
	// traversal failures, reported but survivable when a fallback is
	// configured.
	Resolve(ctx context.Context, lookup Lookup, params map[string]string) (*ResolvedData, error)
}

// Resolution is the outcome of dispatching one data getter.
type Resolution struct {
	// ResolverName is the scheme that claimed the locator, empty when
	// lenient dispatch found none.
	ResolverName string

	// Data is never nil; on traversal failure it holds the fallback.
	Data *ResolvedData

	// Err is the traversal error, if any. The condition test still
	// runs against Data so that fallbacks keep misconfigured getters
	// quiet.
	Err error
}

// ResolveOption adjusts one Registry.Resolve dispatch.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	fallback []any
	lenient  bool
}

// WithFallback supplies the values substituted when a matched resolver
// fails during traversal.
func WithFallback(values []any) ResolveOption {
	return func(o *resolveOptions) { o.fallback = values }
}

// Lenient turns an unmatched locator into an empty Resolution instead
// of a ResolutionError.
func Lenient() ResolveOption {
	return func(o *resolveOptions) { o.lenient = true }
}

// Registry dispatches data getter locators to resolvers in
// registration order, first pattern match wins.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries []registryEntry
	log     *slog.Logger
}

type registryEntry struct {
	resolver Resolver
	pattern  *regexp.Regexp
}

// NewRegistry returns an empty Registry logging through logger, or
// slog.Default when nil.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{log: logger}
}

// Register compiles and appends a resolver. The full pattern anchors
// the scheme name against the whole locator.
func (r *Registry) Register(res Resolver) error {
	full := fmt.Sprintf("^%s:%s$", regexp.QuoteMeta(res.Name()), res.Pattern())
	pattern, err := regexp.Compile(full)
	if err != nil {
		return fmt.Errorf("conditions: resolver %q pattern: %w", res.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, registryEntry{resolver: res, pattern: pattern})
	return nil
}

// Patterns lists the full patterns of every registered resolver, in
// dispatch order.
func (r *Registry) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.pattern.String()
	}
	return out
}

// Resolve dispatches locator to the first resolver whose pattern
// matches. A traversal failure inside the matched resolver does not
// fail the dispatch: the Resolution carries the error alongside the
// fallback data. Only an unmatched locator is an error, and Lenient
// downgrades even that.
func (r *Registry) Resolve(ctx context.Context, lookup Lookup, locator string, opts ...ResolveOption) (*Resolution, error) {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.RLock()
	entries := r.entries
	r.mu.RUnlock()

	for _, e := range entries {
		m := e.pattern.FindStringSubmatch(locator)
		if m == nil {
			continue
		}
		params := make(map[string]string)
		for i, name := range e.pattern.SubexpNames() {
			if name != "" && m[i] != "" {
				params[name] = m[i]
			}
		}

		data, err := e.resolver.Resolve(ctx, lookup, params)
		if err != nil {
			r.log.Debug("resolver traversal failed",
				"resolver", e.resolver.Name(),
				"locator", locator,
				"error", err)
			data = &ResolvedData{Values: o.fallback}
		}
		if data == nil {
			data = &ResolvedData{}
		}
		return &Resolution{ResolverName: e.resolver.Name(), Data: data, Err: err}, nil
	}

	if o.lenient {
		return &Resolution{Data: &ResolvedData{Values: o.fallback}}, nil
	}
	return nil, &ResolutionError{Locator: locator, Known: r.Patterns()}
}

// DebugResolver accepts a literal payload evaluated in place, e.g.
// "debug:['a', 'b']". Useful for exercising rule trees without any
// stored answers behind them.
type DebugResolver struct{}

func (DebugResolver) Name() string    { return "debug" }
func (DebugResolver) Pattern() string { return `(?P<expression>.*)` }

func (DebugResolver) Resolve(_ context.Context, _ Lookup, params map[string]string) (*ResolvedData, error) {
	return &ResolvedData{Values: matchers.Wrap(matchers.ParseLiteral(params["expression"]))}, nil
}
