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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/intake/services/intake/collection"
	"github.com/AleutianAI/intake/services/intake/collector"
	"github.com/AleutianAI/intake/services/intake/specification"
)

func runSpec(cmd *cobra.Command, args []string) error {
	log := newLogger()
	defer log.Close()

	store, err := openStore(log)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	req, err := store.CollectionRequest(ctx, specRequestID)
	if err != nil {
		return err
	}

	collector.Register(collector.QualifiedName, collector.New)
	col, err := collector.New(req, store,
		collector.WithContext(collection.Context{UserID: specUser, LatestOnly: specLatest}),
		collector.WithLogger(log.Slog()),
	)
	if err != nil {
		return err
	}

	doc, err := specification.Assemble(ctx, col)
	if err != nil {
		return err
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(raw))
	return nil
}
