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
	"io"

	"github.com/juju/errors"

	"github.com/reelrank/reelrank/base/encoding"
)

// NotId is returned by Dict.Id for unknown names.
const NotId = int32(-1)

// Dict maps string names to dense int32 ids.
type Dict struct {
	ids   map[string]int32
	names []string
}

func NewDict() *Dict {
	return &Dict{ids: make(map[string]int32)}
}

// Add returns the id of name, assigning the next id if absent.
func (d *Dict) Add(name string) int32 {
	if id, exist := d.ids[name]; exist {
		return id
	}
	id := int32(len(d.names))
	d.ids[name] = id
	d.names = append(d.names, name)
	return id
}

// Id returns the id of name, or NotId if unknown.
func (d *Dict) Id(name string) int32 {
	if id, exist := d.ids[name]; exist {
		return id
	}
	return NotId
}

// Name returns the name for id.
func (d *Dict) Name(id int32) string {
	return d.names[id]
}

// Count returns the number of names.
func (d *Dict) Count() int32 {
	return int32(len(d.names))
}

func (d *Dict) Marshal(w io.Writer) error {
	return errors.Trace(encoding.WriteGob(w, d.names))
}

func (d *Dict) Unmarshal(r io.Reader) error {
	if err := encoding.ReadGob(r, &d.names); err != nil {
		return errors.Trace(err)
	}
	d.ids = make(map[string]int32, len(d.names))
	for id, name := range d.names {
		d.ids[name] = int32(id)
	}
	return nil
}
