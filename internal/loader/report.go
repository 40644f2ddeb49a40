package loader

import (
	"fmt"
	"io"
	"slices"
	"sync"
)

type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeExisting Outcome = "existing"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

type Counts struct {
	Created  int64 `json:"created"`
	Existing int64 `json:"existing"`
	Skipped  int64 `json:"skipped"`
	Failed   int64 `json:"failed"`
}

func (c *Counts) add(o Outcome) {
	switch o {
	case OutcomeCreated:
		c.Created++
	case OutcomeExisting:
		c.Existing++
	case OutcomeSkipped:
		c.Skipped++
	case OutcomeFailed:
		c.Failed++
	}
}

func (c Counts) Total() int64 { return c.Created + c.Existing + c.Skipped + c.Failed }

// Report tallies outcomes per entity kind and per relation kind. Safe for concurrent use.
type Report struct {
	mu        sync.Mutex
	entities  map[string]*Counts
	relations map[string]*Counts
}

func NewReport() *Report {
	return &Report{entities: map[string]*Counts{}, relations: map[string]*Counts{}}
}

func (r *Report) AddEntity(kind string, o Outcome) { r.add(r.entities, kind, o) }

func (r *Report) AddRelation(kind string, o Outcome) { r.add(r.relations, kind, o) }

func (r *Report) add(m map[string]*Counts, kind string, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := m[kind]
	if !ok {
		c = &Counts{}
		m[kind] = c
	}
	c.add(o)
}

// Summary is an immutable copy of a Report.
type Summary struct {
	Entities  map[string]Counts `json:"entities"`
	Relations map[string]Counts `json:"relations"`
}

func (r *Report) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Summary{Entities: map[string]Counts{}, Relations: map[string]Counts{}}
	for k, v := range r.entities {
		out.Entities[k] = *v
	}
	for k, v := range r.relations {
		out.Relations[k] = *v
	}
	return out
}

func (s Summary) Entity(kind string) Counts   { return s.Entities[kind] }
func (s Summary) Relation(kind string) Counts { return s.Relations[kind] }

func (s Summary) Failed() int64 {
	var n int64
	for _, c := range s.Entities {
		n += c.Failed
	}
	for _, c := range s.Relations {
		n += c.Failed
	}
	return n
}

func (s Summary) Created() int64 {
	var n int64
	for _, c := range s.Entities {
		n += c.Created
	}
	for _, c := range s.Relations {
		n += c.Created
	}
	return n
}

// WriteTable prints one aligned line per kind.
func (s Summary) WriteTable(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%-10s %-20s %8s %8s %8s %8s\n", "", "kind", "created", "existing", "skipped", "failed"); err != nil {
		return err
	}
	for _, sec := range []struct {
		name string
		m    map[string]Counts
	}{{"entity", s.Entities}, {"relation", s.Relations}} {
		kinds := make([]string, 0, len(sec.m))
		for k := range sec.m {
			kinds = append(kinds, k)
		}
		slices.Sort(kinds)
		for _, k := range kinds {
			c := sec.m[k]
			if _, err := fmt.Fprintf(w, "%-10s %-20s %8d %8d %8d %8d\n", sec.name, k, c.Created, c.Existing, c.Skipped, c.Failed); err != nil {
				return err
			}
		}
	}
	return nil
}
