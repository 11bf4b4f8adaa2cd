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
	"encoding/binary"
	"io"

	"github.com/chewxy/math32"
	"github.com/juju/errors"

	"github.com/reelrank/reelrank/base/encoding"
)

// Scores produced by Predict stay within the rating scale.
const (
	MinScore float32 = 0
	MaxScore float32 = 5
)

var (
	ErrUnknownUser  = errors.NotFoundf("user vocabulary entry")
	ErrUnknownMovie = errors.NotFoundf("movie vocabulary entry")
)

// SVD is a biased matrix factorization scorer. A score is the global mean
// plus user and item biases plus the dot product of the latent factors.
// The model is immutable once built.
type SVD struct {
	userIndex  *Dict
	itemIndex  *Dict
	userFactor [][]float32
	itemFactor [][]float32
	userBias   []float32
	itemBias   []float32
	globalMean float32
	nFactors   int32
}

// NewSVD assembles a scorer from pre-trained parameters. userFactor and
// itemFactor are indexed in the order of userIds and itemIds respectively.
func NewSVD(globalMean float32, userIds, itemIds []string,
	userFactor, itemFactor [][]float32, userBias, itemBias []float32) *SVD {
	m := &SVD{
		userIndex:  NewDict(),
		itemIndex:  NewDict(),
		userFactor: userFactor,
		itemFactor: itemFactor,
		userBias:   userBias,
		itemBias:   itemBias,
		globalMean: globalMean,
	}
	if len(userFactor) > 0 {
		m.nFactors = int32(len(userFactor[0]))
	}
	for _, userId := range userIds {
		m.userIndex.Add(userId)
	}
	for _, itemId := range itemIds {
		m.itemIndex.Add(itemId)
	}
	return m
}

// Predict scores a (user, movie) pair. Unknown keys return ErrUnknownUser
// or ErrUnknownMovie.
func (m *SVD) Predict(userId, movieKey string) (float32, error) {
	userIndex := m.userIndex.Id(userId)
	if userIndex == NotId {
		return 0, errors.Annotate(ErrUnknownUser, userId)
	}
	itemIndex := m.itemIndex.Id(movieKey)
	if itemIndex == NotId {
		return 0, errors.Annotate(ErrUnknownMovie, movieKey)
	}
	return m.internalPredict(userIndex, itemIndex), nil
}

func (m *SVD) internalPredict(userIndex, itemIndex int32) float32 {
	score := m.globalMean + m.userBias[userIndex] + m.itemBias[itemIndex]
	userFactor := m.userFactor[userIndex]
	itemFactor := m.itemFactor[itemIndex]
	for i := range userFactor {
		score += userFactor[i] * itemFactor[i]
	}
	return math32.Min(MaxScore, math32.Max(MinScore, score))
}

// Users returns the size of the user vocabulary.
func (m *SVD) Users() int32 {
	return m.userIndex.Count()
}

// Movies returns the size of the movie vocabulary.
func (m *SVD) Movies() int32 {
	return m.itemIndex.Count()
}

// Marshal model into byte stream.
func (m *SVD) Marshal(w io.Writer) error {
	// write parameters
	if err := binary.Write(w, binary.LittleEndian, m.globalMean); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, m.nFactors); err != nil {
		return errors.Trace(err)
	}
	// write vocabularies
	if err := m.userIndex.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if err := m.itemIndex.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	// write biases
	if err := binary.Write(w, binary.LittleEndian, m.userBias); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, m.itemBias); err != nil {
		return errors.Trace(err)
	}
	// write factors
	if err := encoding.WriteMatrix(w, m.userFactor); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(encoding.WriteMatrix(w, m.itemFactor))
}

// Unmarshal model from byte stream.
func (m *SVD) Unmarshal(r io.Reader) error {
	// read parameters
	if err := binary.Read(r, binary.LittleEndian, &m.globalMean); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.nFactors); err != nil {
		return errors.Trace(err)
	}
	// read vocabularies
	m.userIndex = NewDict()
	if err := m.userIndex.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	m.itemIndex = NewDict()
	if err := m.itemIndex.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	// read biases
	m.userBias = make([]float32, m.userIndex.Count())
	if err := binary.Read(r, binary.LittleEndian, m.userBias); err != nil {
		return errors.Trace(err)
	}
	m.itemBias = make([]float32, m.itemIndex.Count())
	if err := binary.Read(r, binary.LittleEndian, m.itemBias); err != nil {
		return errors.Trace(err)
	}
	// read factors
	m.userFactor = newMatrix(int(m.userIndex.Count()), int(m.nFactors))
	if err := encoding.ReadMatrix(r, m.userFactor); err != nil {
		return errors.Trace(err)
	}
	m.itemFactor = newMatrix(int(m.itemIndex.Count()), int(m.nFactors))
	return errors.Trace(encoding.ReadMatrix(r, m.itemFactor))
}

func newMatrix(rows, cols int) [][]float32 {
	m := make([][]float32, rows)
	for i := range m {
		m[i] = make([]float32, cols)
	}
	return m
}
