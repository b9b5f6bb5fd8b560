// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/intake/services/intake/collection"
	"github.com/AleutianAI/intake/services/intake/conditions"
	"github.com/AleutianAI/intake/services/intake/storage"
)

// SeedSchema is the yaml shape the seed command loads: one collection
// request with its instruments, suggested responses and conditions,
// plus optional catalogs of the identities instruments reference.
// When a catalog is present, instrument references into it are
// validated; an empty catalog leaves references unchecked.
type SeedSchema struct {
	CollectionRequest *collection.CollectionRequest `yaml:"collection_request" validate:"required"`

	Measures           []collection.Measure           `yaml:"measures"`
	Groups             []collection.CollectionGroup   `yaml:"groups"`
	Types              []collection.InstrumentType    `yaml:"types"`
	ResponsePolicies   []*collection.ResponsePolicy   `yaml:"response_policies"`
	SuggestedResponses []collection.SuggestedResponse `yaml:"suggested_responses"`

	Instruments []SeedInstrument `yaml:"instruments" validate:"min=1,dive"`
}

// SeedInstrument is one instrument row plus its attachments. Instead of
// an inline response_policy it may name a shared one from the
// response_policies catalog, optionally specializing flags for this
// instrument alone.
type SeedInstrument struct {
	collection.Instrument `yaml:",inline"`

	// SharedPolicyID references the response_policies catalog.
	SharedPolicyID string `yaml:"shared_policy"`

	// PolicyFlags overrides individual policy flags for this
	// instrument. A shared policy is isolated first so the override
	// never leaks to the other instruments using it.
	PolicyFlags map[string]bool `yaml:"policy_flags"`

	SuggestedResponses []SeedSuggestedResponse `yaml:"suggested_responses"`
	Conditions         []*conditions.Condition `yaml:"conditions"`
}

// SeedSuggestedResponse is a suggested answer bound to the instrument
// it appears under. One with no data of its own takes the data of the
// catalog entry its id names.
type SeedSuggestedResponse struct {
	ID    string         `yaml:"id" validate:"required"`
	Data  any            `yaml:"data"`
	Flags map[string]any `yaml:"flags"`
}

// LoadSeedSchema parses and validates a schema file.
func LoadSeedSchema(path string) (*SeedSchema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var schema SeedSchema
	if err := yaml.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := validator.New().Struct(&schema); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	for i := range schema.Instruments {
		inst := &schema.Instruments[i]
		if inst.ID == "" && inst.MeasureID == "" {
			return nil, fmt.Errorf("validating %s: instrument %d has neither id nor measure", path, i)
		}
	}
	if err := validateReferences(&schema); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return &schema, nil
}

// validateReferences checks instrument references against the schema's
// catalogs. Empty catalogs impose nothing; a shared_policy reference
// must always resolve.
func validateReferences(schema *SeedSchema) error {
	measures := make(map[string]bool, len(schema.Measures))
	for _, m := range schema.Measures {
		measures[m.ID] = true
	}
	groups := make(map[string]bool, len(schema.Groups))
	for _, g := range schema.Groups {
		groups[g.ID] = true
	}
	types := make(map[string]bool, len(schema.Types))
	for _, tp := range schema.Types {
		types[tp.ID] = true
	}
	policies := make(map[string]bool, len(schema.ResponsePolicies))
	for _, p := range schema.ResponsePolicies {
		policies[p.ID] = true
	}
	suggested := make(map[string]bool, len(schema.SuggestedResponses))
	for _, sr := range schema.SuggestedResponses {
		suggested[sr.ID] = true
	}
	knownFlags := (&collection.ResponsePolicy{}).Flags()

	for i := range schema.Instruments {
		inst := &schema.Instruments[i]
		if len(measures) > 0 && inst.MeasureID != "" && !measures[inst.MeasureID] {
			return fmt.Errorf("instrument %s: measure %q not in catalog", inst.ID, inst.MeasureID)
		}
		// The groups catalog covers both grouping axes.
		if len(groups) > 0 && inst.GroupID != "" && !groups[inst.GroupID] {
			return fmt.Errorf("instrument %s: group %q not in catalog", inst.ID, inst.GroupID)
		}
		if len(groups) > 0 && inst.SegmentID != "" && !groups[inst.SegmentID] {
			return fmt.Errorf("instrument %s: segment %q not in catalog", inst.ID, inst.SegmentID)
		}
		if len(types) > 0 && inst.TypeID != "" && !types[inst.TypeID] {
			return fmt.Errorf("instrument %s: type %q not in catalog", inst.ID, inst.TypeID)
		}
		if inst.SharedPolicyID != "" && !policies[inst.SharedPolicyID] {
			return fmt.Errorf("instrument %s: shared policy %q not declared", inst.ID, inst.SharedPolicyID)
		}
		for flag := range inst.PolicyFlags {
			if _, ok := knownFlags[flag]; !ok {
				return fmt.Errorf("instrument %s: unknown policy flag %q", inst.ID, flag)
			}
		}
		for _, sugg := range inst.SuggestedResponses {
			if sugg.Data == nil && !suggested[sugg.ID] {
				return fmt.Errorf("instrument %s: suggested response %q has no data and no catalog entry", inst.ID, sugg.ID)
			}
		}
	}
	return nil
}

// ApplySeedSchema writes a schema into storage. Instruments are keyed
// to the schema's collection request regardless of what the rows say.
func ApplySeedSchema(ctx context.Context, store storage.Store, schema *SeedSchema) error {
	if err := store.SaveCollectionRequest(ctx, schema.CollectionRequest); err != nil {
		return fmt.Errorf("saving collection request: %w", err)
	}
	requestID := schema.CollectionRequest.ID

	policies := make(map[string]*collection.ResponsePolicy, len(schema.ResponsePolicies))
	for _, p := range schema.ResponsePolicies {
		policies[p.ID] = p
	}
	catalog := make(map[string]collection.SuggestedResponse, len(schema.SuggestedResponses))
	for _, sr := range schema.SuggestedResponses {
		catalog[sr.ID] = sr
	}

	for i := range schema.Instruments {
		seed := &schema.Instruments[i]
		inst := seed.Instrument
		inst.CollectionRequestID = requestID

		if seed.SharedPolicyID != "" {
			shared, ok := policies[seed.SharedPolicyID]
			if !ok {
				return fmt.Errorf("instrument %s: shared policy %q not declared", inst.ID, seed.SharedPolicyID)
			}
			inst.ResponsePolicy = shared
		}
		if len(seed.PolicyFlags) > 0 {
			// Isolate before specializing so the shared row keeps its
			// flags for the other instruments referencing it.
			policy := inst.IsolatePolicy()
			for flag, value := range seed.PolicyFlags {
				switch flag {
				case "restrict":
					policy.Restrict = value
				case "multiple":
					policy.Multiple = value
				case "required":
					policy.Required = value
				default:
					return fmt.Errorf("instrument %s: unknown policy flag %q", inst.ID, flag)
				}
			}
		}

		if err := store.SaveInstrument(ctx, &inst); err != nil {
			return fmt.Errorf("saving instrument %s: %w", inst.ID, err)
		}

		for _, sugg := range seed.SuggestedResponses {
			data := sugg.Data
			if data == nil {
				entry, ok := catalog[sugg.ID]
				if !ok {
					return fmt.Errorf("instrument %s: suggested response %q has no data and no catalog entry", inst.ID, sugg.ID)
				}
				data = entry.Data
			}
			bound := &collection.BoundSuggestedResponse{
				InstrumentID:        inst.ID,
				SuggestedResponseID: sugg.ID,
				Data:                data,
				Flags:               sugg.Flags,
			}
			if err := store.SaveSuggestedResponse(ctx, requestID, bound); err != nil {
				return fmt.Errorf("saving suggested response %s: %w", sugg.ID, err)
			}
		}

		for _, cond := range seed.Conditions {
			if cond.InstrumentID == "" {
				cond.InstrumentID = inst.ID
			}
			if err := store.SaveCondition(ctx, requestID, cond); err != nil {
				return fmt.Errorf("saving condition for instrument %s: %w", inst.ID, err)
			}
		}
	}
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	path := seedFile
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return errors.New("seed: no schema file given")
	}

	log := newLogger()
	defer log.Close()

	schema, err := LoadSeedSchema(path)
	if err != nil {
		return err
	}

	store, err := openStore(log)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := ApplySeedSchema(cmd.Context(), store, schema); err != nil {
		return err
	}
	log.Info("schema applied",
		"request_id", schema.CollectionRequest.ID,
		"instruments", len(schema.Instruments),
		"capacity_flags", schema.CollectionRequest.Flags())
	return nil
}
