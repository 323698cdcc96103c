//  Copyright (c) 2023 Uber Technologies, Inc.
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

// Package stubs implements overlays of annotations for library declarations whose sources are not
// checked. An overlay is keyed by fully qualified signature and replaces the annotations of the
// matching declarations before analysis. Overlays are written as JSON and can be compiled into a
// compact s2-compressed binary form.
package stubs

import (
	"bytes"
	_ "embed"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/s2"
	"go.uber.org/qualcheck/qualifier"
	"go.uber.org/qualcheck/symtab"
	"go.uber.org/qualcheck/util/orderedmap"
)

// Stub holds the replacement annotations of one method or field. A nil slice keeps the
// declaration's own annotations; an empty one removes them.
type Stub struct {
	Annotations []symtab.Annotation   `json:"annotations,omitempty"`
	Params      [][]symtab.Annotation `json:"params,omitempty"`
	Receiver    []symtab.Annotation   `json:"receiver,omitempty"`
}

// Overlay maps method signatures (e.g. `Map.get(Object)`) and field signatures (e.g.
// `System.out`) to their stubs.
type Overlay struct {
	Methods *orderedmap.OrderedMap[string, *Stub]
	Fields  *orderedmap.OrderedMap[string, *Stub]
}

// New returns an empty overlay.
func New() *Overlay {
	return &Overlay{
		Methods: orderedmap.New[string, *Stub](),
		Fields:  orderedmap.New[string, *Stub](),
	}
}

//go:embed default.json
var _defaultJSON []byte

// Default returns the overlay of the library declarations the checker knows about, e.g. the
// key-for postconditions of Map.containsKey and Map.put.
func Default() *Overlay {
	o, err := ParseJSON(_defaultJSON)
	if err != nil {
		panic(fmt.Sprintf("default stub overlay: %v", err))
	}
	return o
}

type jsonOverlay struct {
	Methods map[string]*Stub `json:"methods"`
	Fields  map[string]*Stub `json:"fields"`
}

// ParseJSON reads an overlay from its JSON form. Entries are ordered by signature.
func ParseJSON(data []byte) (*Overlay, error) {
	var raw jsonOverlay
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode stub overlay: %w", err)
	}
	o := New()
	fill := func(dst *orderedmap.OrderedMap[string, *Stub], src map[string]*Stub) error {
		sigs := make([]string, 0, len(src))
		for sig := range src {
			sigs = append(sigs, sig)
		}
		slices.Sort(sigs)
		for _, sig := range sigs {
			if src[sig] == nil {
				return fmt.Errorf("stub %q is null", sig)
			}
			dst.Store(normalize(sig), src[sig])
		}
		return nil
	}
	if err := fill(o.Methods, raw.Methods); err != nil {
		return nil, err
	}
	if err := fill(o.Fields, raw.Fields); err != nil {
		return nil, err
	}
	return o, nil
}

// MarshalJSON writes the overlay in its JSON form.
func (o *Overlay) MarshalJSON() ([]byte, error) {
	raw := jsonOverlay{Methods: make(map[string]*Stub), Fields: make(map[string]*Stub)}
	o.Methods.OrderedRange(func(sig string, s *Stub) bool {
		raw.Methods[sig] = s
		return true
	})
	o.Fields.OrderedRange(func(sig string, s *Stub) bool {
		raw.Fields[sig] = s
		return true
	})
	return json.Marshal(raw)
}

// normalize removes the blanks of a signature so that `Map.put(Object, Object)` and
// `Map.put(Object,Object)` name the same method.
func normalize(sig string) string {
	return strings.ReplaceAll(sig, " ", "")
}

// Encode writes the overlay in the binary form: a gob stream compressed with s2.
func (o *Overlay) Encode(w io.Writer) error {
	sw := s2.NewWriter(w)
	if err := gob.NewEncoder(sw).Encode(o); err != nil {
		_ = sw.Close()
		return fmt.Errorf("encode stub overlay: %w", err)
	}
	if err := sw.Close(); err != nil {
		return fmt.Errorf("flush stub overlay: %w", err)
	}
	return nil
}

// Decode reads an overlay in the binary form written by Encode.
func Decode(r io.Reader) (*Overlay, error) {
	o := &Overlay{}
	if err := gob.NewDecoder(s2.NewReader(r)).Decode(o); err != nil {
		return nil, fmt.Errorf("decode stub overlay: %w", err)
	}
	if o.Methods == nil {
		o.Methods = orderedmap.New[string, *Stub]()
	}
	if o.Fields == nil {
		o.Fields = orderedmap.New[string, *Stub]()
	}
	return o, nil
}

// Load reads an overlay file; files ending in `.json` are read as JSON and all others in the
// binary form.
func Load(path string) (*Overlay, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return ParseJSON(data)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Merge returns a new overlay with the entries of o overridden by those of other.
func (o *Overlay) Merge(other *Overlay) *Overlay {
	merged := &Overlay{Methods: o.Methods.Clone(), Fields: o.Fields.Clone()}
	if other == nil {
		return merged
	}
	other.Methods.OrderedRange(func(sig string, s *Stub) bool {
		merged.Methods.Store(sig, s)
		return true
	})
	other.Fields.OrderedRange(func(sig string, s *Stub) bool {
		merged.Fields.Store(sig, s)
		return true
	})
	return merged
}

// Apply replaces the annotations of the library declarations of table that have a stub. The
// outermost type-use qualifiers of a stubbed declaration are dropped so that the stub alone
// decides them. It returns the number of declarations changed.
func (o *Overlay) Apply(table *symtab.Table) int {
	n := 0
	for _, c := range table.Classes() {
		for _, m := range c.Methods {
			if !m.Library && !c.Library {
				continue
			}
			s, ok := o.Methods.Load(normalize(m.Signature()))
			if !ok {
				continue
			}
			n++
			if s.Annotations != nil {
				m.Annotations = slices.Clone(s.Annotations)
				if m.Return != nil {
					m.Return = m.Return.WithQuals(qualifier.Set{})
				}
			}
			if s.Receiver != nil {
				m.ReceiverAnnotations = slices.Clone(s.Receiver)
			}
			for i, annos := range s.Params {
				if i >= len(m.Params) || annos == nil {
					continue
				}
				p := *m.Params[i]
				p.Annotations = slices.Clone(annos)
				p.Type = p.Type.WithQuals(qualifier.Set{})
				m.Params[i] = &p
			}
		}
		if !c.Library {
			continue
		}
		for _, fd := range c.Fields {
			s, ok := o.Fields.Load(fd.Signature())
			if !ok || s.Annotations == nil {
				continue
			}
			n++
			fd.Annotations = slices.Clone(s.Annotations)
			fd.Type = fd.Type.WithQuals(qualifier.Set{})
		}
	}
	return n
}
