// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collector

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/AleutianAI/intake/services/intake/collection"
	"github.com/AleutianAI/intake/services/intake/storage"
)

// Factory builds a collector for one request/context pair.
type Factory func(req *collection.CollectionRequest, store storage.Store, opts ...Option) (*Collector, error)

// Identifier derives the stable registry key for a fully-qualified
// collector name. The name is the identity: renaming a collector
// changes its identifier.
func Identifier(qualifiedName string) string {
	sum := sha256.Sum256([]byte(qualifiedName))
	return hex.EncodeToString(sum[:])
}

type registration struct {
	name    string
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

// Register installs a collector factory under the identifier derived
// from qualifiedName and returns that identifier. Registration is an
// explicit call made at startup; repeating it for the same name is
// idempotent and keeps the first factory.
func Register(qualifiedName string, factory Factory) string {
	id := Identifier(qualifiedName)
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[id]; !exists {
		registry[id] = registration{name: qualifiedName, factory: factory}
	}
	return id
}

// Resolve returns the factory registered under an identifier.
func Resolve(identifier string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[identifier]
	if !ok {
		return nil, &UnknownCollectorError{Identifier: identifier}
	}
	return reg.factory, nil
}

// RegisteredNames lists the qualified names currently registered,
// sorted for stable output.
func RegisteredNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for _, reg := range registry {
		names = append(names, reg.name)
	}
	sort.Strings(names)
	return names
}
