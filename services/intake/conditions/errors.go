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
	"errors"
	"fmt"
	"strings"
)

// ErrNilGroup indicates a Condition was evaluated without a rule tree
// attached.
var ErrNilGroup = errors.New("conditions: condition has no group")

// GroupCycleError reports a group that transitively contains itself.
// Shared subgroups are legal; a back-edge during evaluation is a
// configuration fault, not a reason to recurse forever.
type GroupCycleError struct {
	// GroupID is the group at which the walk re-entered itself.
	GroupID string

	// Nickname is the group's display name, if any.
	Nickname string
}

func (e *GroupCycleError) Error() string {
	if e.Nickname != "" {
		return fmt.Sprintf("conditions: group %q (%s) contains itself", e.Nickname, e.GroupID)
	}
	return fmt.Sprintf("conditions: group %s contains itself", e.GroupID)
}

// InvalidRequirementError reports a requirement type outside the
// all-pass / one-pass / all-fail vocabulary.
type InvalidRequirementError struct {
	// GroupID identifies the misconfigured group.
	GroupID string

	// RequirementType is the unrecognized value.
	RequirementType string
}

func (e *InvalidRequirementError) Error() string {
	return fmt.Sprintf("conditions: group %s has unknown requirement type %q",
		e.GroupID, e.RequirementType)
}

// ResolutionError reports a data getter that matched no registered
// resolver pattern. Known patterns are included so diagnostic tooling
// can render the mismatch without a second lookup.
type ResolutionError struct {
	// Locator is the data getter string that failed to match.
	Locator string

	// Known lists the full patterns of every registered resolver.
	Known []string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("conditions: data getter %q matches no registered resolver (known: %s)",
		e.Locator, strings.Join(e.Known, ", "))
}
