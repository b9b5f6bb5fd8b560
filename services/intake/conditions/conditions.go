// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conditions implements the rule trees that gate conditional
// instruments: leaf Cases delegating to the matcher library, recursive
// ConditionGroups combining them under all-pass / one-pass / all-fail
// requirements, and Conditions binding a tree to the instrument whose
// answers feed it.
package conditions

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/intake/services/intake/collection"
	"github.com/AleutianAI/intake/services/intake/matchers"
)

// Case is a leaf rule: a match type plus optional match data, tested
// against a set of answer values.
type Case struct {
	ID        string  `json:"id" yaml:"id"`
	Nickname  string  `json:"nickname,omitempty" yaml:"nickname,omitempty"`
	MatchType string  `json:"match_type" yaml:"match_type"`
	MatchData *string `json:"match_data,omitempty" yaml:"match_data,omitempty"`
}

// Test evaluates the case against the observed values. suggested
// carries the instrument's suggested-response values for the match
// types that need them.
func (c *Case) Test(values any, suggested []any) (bool, error) {
	return matchers.TestCase(values, c.MatchType, c.MatchData, suggested)
}

// Flags exposes the case's match settings for specification documents.
func (c *Case) Flags() map[string]any {
	return map[string]any{
		"match_type": c.MatchType,
		"match_data": c.MatchData,
	}
}

// Clone returns a copy under a fresh id, for specializing a case that
// is shared across groups.
func (c *Case) Clone() *Case {
	out := *c
	out.ID = uuid.NewString()
	out.Nickname = ""
	if c.MatchData != nil {
		data := *c.MatchData
		out.MatchData = &data
	}
	return &out
}

// Describe renders the case as a compact predicate, e.g. "=5" or
// "*foo*".
func (c *Case) Describe() string {
	if c.Nickname != "" {
		return c.Nickname
	}
	data := ""
	if c.MatchData != nil {
		data = *c.MatchData
	}
	switch matchers.Canonical(c.MatchType) {
	case "any":
		return "any"
	case "none":
		return "none"
	case "all_suggested":
		return "all suggested"
	case "one_suggested":
		return "one suggested"
	case "all_custom":
		return "all custom"
	case "one_custom":
		return "one custom"
	case "match":
		return "=" + data
	case "mismatch":
		return "!=" + data
	case "greater_than":
		return ">" + data
	case "less_than":
		return "<" + data
	case "contains":
		return "*" + data + "*"
	case "not_contains":
		return "!*" + data + "*"
	case "one":
		return "in " + data
	case "zero":
		return "!in " + data
	}
	return c.MatchType
}

// Group is a recursive combinator over Cases and nested Groups. The
// same subgroup may hang off several parents; only a walk that
// re-enters a group it is still inside is a cycle.
type Group struct {
	ID              string   `json:"id" yaml:"id"`
	Nickname        string   `json:"nickname,omitempty" yaml:"nickname,omitempty"`
	RequirementType string   `json:"requirement_type" yaml:"requirement_type"`
	Cases           []*Case  `json:"cases,omitempty" yaml:"cases,omitempty"`
	Groups          []*Group `json:"child_groups,omitempty" yaml:"child_groups,omitempty"`
}

// Flags exposes the group's combinator for specification documents.
func (g *Group) Flags() map[string]any {
	return map[string]any{
		"requirement_type": g.RequirementType,
	}
}

// Validate walks the tree once, rejecting unknown requirement types
// and cycles before any evaluation happens.
func (g *Group) Validate() error {
	return g.validate(map[string]struct{}{})
}

func (g *Group) validate(visited map[string]struct{}) error {
	if _, ok := visited[g.ID]; ok {
		return &GroupCycleError{GroupID: g.ID, Nickname: g.Nickname}
	}
	switch g.RequirementType {
	case collection.RequirementAllPass, collection.RequirementOnePass, collection.RequirementAllFail:
	default:
		return &InvalidRequirementError{GroupID: g.ID, RequirementType: g.RequirementType}
	}

	visited[g.ID] = struct{}{}
	defer delete(visited, g.ID)
	for _, child := range g.Groups {
		if err := child.validate(visited); err != nil {
			return err
		}
	}
	return nil
}

// Test evaluates the group against the observed values, short
// circuiting on the first decisive child: all-pass fails on the first
// failing child, one-pass passes on the first passing child, all-fail
// fails on the first passing child. An empty all-pass or all-fail
// group is vacuously true; an empty one-pass group is false. Leaf
// cases are evaluated before subgroups are recursed into, which cannot
// change the outcome, only how soon it is known.
func (g *Group) Test(values any, suggested []any) (bool, error) {
	return g.test(map[string]struct{}{}, values, suggested)
}

func (g *Group) test(visited map[string]struct{}, values any, suggested []any) (bool, error) {
	if _, ok := visited[g.ID]; ok {
		return false, &GroupCycleError{GroupID: g.ID, Nickname: g.Nickname}
	}
	visited[g.ID] = struct{}{}
	defer delete(visited, g.ID)

	var hasPassed bool
	step := func(pass bool) (bool, bool) {
		if pass {
			hasPassed = true
		}
		switch g.RequirementType {
		case collection.RequirementAllPass:
			if !pass {
				return true, false
			}
		case collection.RequirementOnePass:
			if pass {
				return true, true
			}
		case collection.RequirementAllFail:
			if pass {
				return true, false
			}
		}
		return false, false
	}

	switch g.RequirementType {
	case collection.RequirementAllPass, collection.RequirementOnePass, collection.RequirementAllFail:
	default:
		return false, &InvalidRequirementError{GroupID: g.ID, RequirementType: g.RequirementType}
	}

	for _, c := range g.Cases {
		pass, err := c.Test(values, suggested)
		if err != nil {
			return false, err
		}
		if done, result := step(pass); done {
			return result, nil
		}
	}
	for _, child := range g.Groups {
		pass, err := child.test(visited, values, suggested)
		if err != nil {
			return false, err
		}
		if done, result := step(pass); done {
			return result, nil
		}
	}

	if g.RequirementType == collection.RequirementOnePass {
		return hasPassed, nil
	}
	return true, nil
}

// Describe renders the tree as a boolean expression for diagnostics.
func (g *Group) Describe() string {
	if g.Nickname != "" {
		return g.Nickname
	}
	parts := make([]string, 0, len(g.Cases)+len(g.Groups))
	for _, c := range g.Cases {
		parts = append(parts, c.Describe())
	}
	for _, child := range g.Groups {
		parts = append(parts, child.Describe())
	}
	if len(parts) == 0 {
		return "(empty)"
	}
	var sep string
	switch g.RequirementType {
	case collection.RequirementOnePass:
		sep = " or "
	case collection.RequirementAllFail:
		sep = " nor "
	default:
		sep = " and "
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Clone deep-copies the tree under fresh ids so a shared group can be
// specialized for one instrument without disturbing its other parents.
func (g *Group) Clone() *Group {
	out := &Group{
		ID:              uuid.NewString(),
		RequirementType: g.RequirementType,
	}
	for _, c := range g.Cases {
		out.Cases = append(out.Cases, c.Clone())
	}
	for _, child := range g.Groups {
		out.Groups = append(out.Groups, child.Clone())
	}
	return out
}

// Condition binds a rule tree to a dependent instrument and names,
// via DataGetter, the source answers that feed the evaluation. An
// instrument may carry several conditions; each is evaluated
// independently and combined under the instrument's own requirement
// type.
type Condition struct {
	ID           string `json:"id" yaml:"id"`
	InstrumentID string `json:"instrument" yaml:"instrument"`
	DataGetter   string `json:"data_getter" yaml:"data_getter"`
	Group        *Group `json:"condition_group" yaml:"condition_group"`
}

// Resolve dispatches the condition's data getter through the registry.
func (c *Condition) Resolve(ctx context.Context, reg *Registry, lookup Lookup, opts ...ResolveOption) (*Resolution, error) {
	return reg.Resolve(ctx, lookup, c.DataGetter, opts...)
}

// Test resolves the data getter and evaluates the rule tree against
// whatever came back. A traversal failure inside a matched resolver
// does not abort the test; the configured fallback (or nothing) is
// what the tree sees. An unmatched getter is a configuration error
// unless dispatch was made Lenient.
func (c *Condition) Test(ctx context.Context, reg *Registry, lookup Lookup, opts ...ResolveOption) (bool, error) {
	if c.Group == nil {
		return false, ErrNilGroup
	}
	res, err := c.Resolve(ctx, reg, lookup, opts...)
	if err != nil {
		return false, err
	}
	return c.Group.Test(res.Data.Values, res.Data.SuggestedValues)
}

func (c *Condition) String() string {
	scheme, _, _ := strings.Cut(c.DataGetter, ":")
	group := "(none)"
	if c.Group != nil {
		group = c.Group.Describe()
	}
	return fmt.Sprintf("[instrument %s depends on resolver %q via %s]",
		c.InstrumentID, scheme, group)
}
