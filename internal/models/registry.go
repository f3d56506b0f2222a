// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

// Registry is the application namespace: the set of registered models.
//
// It is safe for concurrent use.
type Registry struct {
	l *zap.Logger

	rw     sync.RWMutex
	models map[string]*Model // keyed by lowercased name
}

// NewRegistry creates an empty registry.
func NewRegistry(l *zap.Logger) *Registry {
	return &Registry{
		l:      l,
		models: make(map[string]*Model),
	}
}

// Register adds the model to the registry.
//
// Registering a model with the same name again replaces the previous one.
func (r *Registry) Register(m *Model) error {
	if m.Abstract {
		return ormerrors.Newf(ormerrors.ErrorCodeModel, "Abstract model %s cannot be registered", m.Name)
	}

	if err := m.Check(); err != nil {
		return err
	}

	key := strings.ToLower(m.Name)

	r.rw.Lock()
	defer r.rw.Unlock()

	if _, ok := r.models[key]; ok {
		r.l.Debug("Model re-registered.", zap.String("model", m.Name), zap.String("table", m.Table))
	} else {
		r.l.Debug("Model registered.", zap.String("model", m.Name), zap.String("table", m.Table))
	}

	r.models[key] = m

	return nil
}

// Get returns the model with the given (case-insensitive) name.
func (r *Registry) Get(name string) (*Model, bool) {
	r.rw.RLock()
	defer r.rw.RUnlock()

	m, ok := r.models[strings.ToLower(name)]

	return m, ok
}

// Models returns registered models sorted by name.
func (r *Registry) Models() []*Model {
	r.rw.RLock()
	defer r.rw.RUnlock()

	res := maps.Values(r.models)
	slices.SortFunc(res, func(a, b *Model) int {
		return strings.Compare(a.Name, b.Name)
	})

	return res
}

// Unregister removes the model with the given name.
// It returns false if the model was not registered.
func (r *Registry) Unregister(name string) bool {
	r.rw.Lock()
	defer r.rw.Unlock()

	key := strings.ToLower(name)

	if _, ok := r.models[key]; !ok {
		return false
	}

	delete(r.models, key)

	return true
}

// Clear removes all models.
func (r *Registry) Clear() {
	r.rw.Lock()
	defer r.rw.Unlock()

	r.models = make(map[string]*Model)
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	r.rw.RLock()
	defer r.rw.RUnlock()

	return len(r.models)
}
