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

package encoding

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGob(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	err := WriteGob(buf, "hello")
	assert.NoError(t, err)
	err = WriteGob(buf, []float32{1, 2, 3})
	assert.NoError(t, err)
	var s string
	err = ReadGob(buf, &s)
	assert.NoError(t, err)
	assert.Equal(t, "hello", s)
	var f []float32
	err = ReadGob(buf, &f)
	assert.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, f)
}

func TestString(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	err := WriteString(buf, "movielens")
	assert.NoError(t, err)
	s, err := ReadString(buf)
	assert.NoError(t, err)
	assert.Equal(t, "movielens", s)
}

func TestMatrix(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	a := [][]float32{{1, 2}, {3, 4}}
	err := WriteMatrix(buf, a)
	assert.NoError(t, err)
	b := [][]float32{make([]float32, 2), make([]float32, 2)}
	err = ReadMatrix(buf, b)
	assert.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFormatFloat32(t *testing.T) {
	assert.Equal(t, "3.75", FormatFloat32(3.75))
}
