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

package migrations

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

// StateFile is the name of the snapshot file in the migrations directory.
const StateFile = "sqlorm_state.json"

// State is a snapshot of models as of the last generated migration.
type State struct {
	// Version is the version of the last generated migration.
	Version int64                    `json:"version"`
	Models  []models.ModelDefinition `json:"models"`
}

// loadState reads the snapshot from the directory.
// A missing file is an empty state.
func loadState(dir string) (*State, error) {
	b, err := os.ReadFile(filepath.Join(dir, StateFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &State{Models: []models.ModelDefinition{}}, nil
		}

		return nil, ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to read "+StateFile, err)
	}

	var s State
	if err = json.Unmarshal(b, &s); err != nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to parse "+StateFile, err).
			WithHint("Restore the file from version control or remove it to start from scratch")
	}

	if s.Models == nil {
		s.Models = []models.ModelDefinition{}
	}

	return &s, nil
}

// byName returns snapshot models keyed by name.
func (s *State) byName() (map[string]*models.Model, error) {
	res := make(map[string]*models.Model, len(s.Models))

	for _, md := range s.Models {
		m, err := md.Model()
		if err != nil {
			return nil, ormerrors.New(ormerrors.ErrorCodeMigration, "Invalid model in "+StateFile, err)
		}

		res[m.Name] = m
	}

	return res, nil
}

// marshal returns the snapshot file content.
func (s *State) marshal() ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to render "+StateFile, err)
	}

	return append(b, '\n'), nil
}

// save atomically writes the snapshot to the directory.
func (s *State) save(dir string) error {
	b, err := s.marshal()
	if err != nil {
		return err
	}

	path := filepath.Join(dir, StateFile)
	tmp := path + ".tmp"

	if err = os.WriteFile(tmp, b, 0o666); err != nil {
		return ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to write "+StateFile, err)
	}

	if err = os.Rename(tmp, path); err != nil {
		return ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to write "+StateFile, err)
	}

	return nil
}
