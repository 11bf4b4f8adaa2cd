// Copyright 2024 ReelRank Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package svd

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/reelrank/reelrank/base/encoding"
	"github.com/reelrank/reelrank/base/log"
)

const artifactHeader = "reelrank.svd.v1"

// ErrNotLoaded is returned by Store.Predict while no model artifact has
// been loaded.
var ErrNotLoaded = errors.NotProvisionedf("scoring model")

// Store owns the process-wide scoring model. The artifact is read at most
// once, on first use. An absent artifact file is a valid state: the store
// stays unloaded and every Predict returns ErrNotLoaded. There is no
// reload; replacing the artifact requires a restart.
type Store struct {
	path  string
	once  sync.Once
	model *SVD
	err   error
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) load() {
	if s.path == "" {
		log.Logger().Info("no model artifact configured")
		return
	}
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		log.Logger().Info("model artifact not found, serving without scoring model",
			zap.String("path", s.path))
		return
	} else if err != nil {
		s.err = errors.Trace(err)
		return
	}
	defer f.Close()
	header, err := encoding.ReadString(f)
	if err != nil {
		s.err = errors.Trace(err)
		return
	}
	if header != artifactHeader {
		s.err = errors.Errorf("unexpected model artifact header: %s", header)
		return
	}
	model := new(SVD)
	if err = model.Unmarshal(f); err != nil {
		s.err = errors.Trace(err)
		return
	}
	s.model = model
	log.Logger().Info("loaded model artifact",
		zap.String("path", s.path),
		zap.Int32("users", model.Users()),
		zap.Int32("movies", model.Movies()))
}

// Loaded reports whether a model is available, loading it on first call.
func (s *Store) Loaded() bool {
	s.once.Do(s.load)
	return s.model != nil
}

// Predict scores a (user, movie) pair with the loaded model.
func (s *Store) Predict(userId, movieKey string) (float32, error) {
	s.once.Do(s.load)
	if s.err != nil {
		return 0, errors.Trace(s.err)
	}
	if s.model == nil {
		return 0, ErrNotLoaded
	}
	return s.model.Predict(userId, movieKey)
}

// Save writes a model artifact. The file is written to a temporary
// sibling then renamed so readers never observe a partial artifact.
func Save(path string, model *SVD) error {
	f, err := os.CreateTemp(filepath.Dir(path), "reelrank-svd-*")
	if err != nil {
		return errors.Trace(err)
	}
	defer os.Remove(f.Name())
	if err = encoding.WriteString(f, artifactHeader); err != nil {
		f.Close()
		return errors.Trace(err)
	}
	if err = model.Marshal(f); err != nil {
		f.Close()
		return errors.Trace(err)
	}
	if err = f.Close(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.Rename(f.Name(), path))
}
