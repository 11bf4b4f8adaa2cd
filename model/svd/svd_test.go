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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelrank/reelrank/base/encoding"
)

func newTestModel() *SVD {
	return NewSVD(3.5,
		[]string{"u1", "u2"},
		[]string{"101", "102", "103"},
		[][]float32{{0.1, 0.2}, {-0.3, 0.4}},
		[][]float32{{0.5, 0.1}, {-0.2, 0.6}, {1.0, -1.0}},
		[]float32{0.2, -0.1},
		[]float32{0.3, -0.4, 2.5})
}

func TestPredict(t *testing.T) {
	m := newTestModel()
	// global mean + biases + dot product
	score, err := m.Predict("u1", "101")
	require.NoError(t, err)
	assert.InDelta(t, 3.5+0.2+0.3+0.1*0.5+0.2*0.1, score, 1e-6)
	// unknown keys
	_, err = m.Predict("nobody", "101")
	assert.ErrorIs(t, errors.Cause(err), ErrUnknownUser)
	_, err = m.Predict("u1", "999")
	assert.ErrorIs(t, errors.Cause(err), ErrUnknownMovie)
}

func TestPredictClamped(t *testing.T) {
	m := NewSVD(3.5,
		[]string{"u1"}, []string{"101", "102"},
		[][]float32{{10}},
		[][]float32{{10}, {-10}},
		[]float32{0},
		[]float32{0, 0})
	score, err := m.Predict("u1", "101")
	require.NoError(t, err)
	assert.Equal(t, MaxScore, score)
	score, err = m.Predict("u1", "102")
	require.NoError(t, err)
	assert.Equal(t, MinScore, score)
}

func TestMarshal(t *testing.T) {
	m := newTestModel()
	buf := bytes.NewBuffer(nil)
	require.NoError(t, m.Marshal(buf))
	decoded := new(SVD)
	require.NoError(t, decoded.Unmarshal(buf))
	assert.Equal(t, m.Users(), decoded.Users())
	assert.Equal(t, m.Movies(), decoded.Movies())
	for _, userId := range []string{"u1", "u2"} {
		for _, movieKey := range []string{"101", "102", "103"} {
			expected, err := m.Predict(userId, movieKey)
			require.NoError(t, err)
			actual, err := decoded.Predict(userId, movieKey)
			require.NoError(t, err)
			assert.InDelta(t, expected, actual, 1e-6)
		}
	}
}

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, Save(path, newTestModel()))
	store := NewStore(path)
	assert.True(t, store.Loaded())
	score, err := store.Predict("u2", "103")
	require.NoError(t, err)
	expected, err := newTestModel().Predict("u2", "103")
	require.NoError(t, err)
	assert.InDelta(t, expected, score, 1e-6)
}

func TestStoreAbsentArtifact(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.bin"))
	assert.False(t, store.Loaded())
	_, err := store.Predict("u1", "101")
	assert.ErrorIs(t, err, ErrNotLoaded)
	// stays unloaded even if the file appears later
	require.NoError(t, Save(store.path, newTestModel()))
	assert.False(t, store.Loaded())
}

func TestStoreCorruptArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, Save(path, newTestModel()))
	// overwrite with an artifact of a different format
	buf := bytes.NewBuffer(nil)
	require.NoError(t, encoding.WriteString(buf, "bogus"))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	store := NewStore(path)
	assert.False(t, store.Loaded())
	_, err := store.Predict("u1", "101")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotLoaded)
}
