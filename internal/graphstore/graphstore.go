// Package graphstore defines the typed graph store the migration writes into.
//
// A Store hands out Sessions scoped to a keyspace (one account). Within a session every write goes
// through an explicit Tx that is either committed or rolled back. Types are first-class: a Tx can
// read and put type definitions, and instance operations are checked against them.
package graphstore

import (
	"context"
	"slices"
)

// ConceptID identifies an entity or relation instance inside one keyspace.
type ConceptID string

type Kind string

const (
	KindEntity    Kind = "entity"
	KindAttribute Kind = "attribute"
	KindRelation  Kind = "relation"
	KindRole      Kind = "role"
	KindRule      Kind = "rule"
)

type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeLong    DataType = "long"
	DataTypeDouble  DataType = "double"
	DataTypeBoolean DataType = "boolean"
)

// TypeDef is one node of the type system.
type TypeDef struct {
	Label    string   `yaml:"label" json:"label"`
	Kind     Kind     `yaml:"kind" json:"kind"`
	DataType DataType `yaml:"datatype,omitempty" json:"datatype,omitempty"`
	Sup      string   `yaml:"sup,omitempty" json:"sup,omitempty"`
	Abstract bool     `yaml:"abstract,omitempty" json:"abstract,omitempty"`
	Key      string   `yaml:"key,omitempty" json:"key,omitempty"`
	Owns     []string `yaml:"owns,omitempty" json:"owns,omitempty"`
	Plays    []string `yaml:"plays,omitempty" json:"plays,omitempty"`
	Relates  []string `yaml:"relates,omitempty" json:"relates,omitempty"`
	When     string   `yaml:"when,omitempty" json:"when,omitempty"`
	Then     string   `yaml:"then,omitempty" json:"then,omitempty"`
}

func (d TypeDef) Clone() TypeDef {
	d.Owns = slices.Clone(d.Owns)
	d.Plays = slices.Clone(d.Plays)
	d.Relates = slices.Clone(d.Relates)
	return d
}

// Attribute is an attribute instance: a typed value that can be attached to owners.
type Attribute struct {
	Type  string
	Value any
}

// RolePlayer names one player of a relation in a given role.
type RolePlayer struct {
	Role   string
	Player ConceptID
}

// Query matches instances of Type (or any subtype) carrying all Attrs and, for relations,
// all Players. A role may appear more than once. Limit <= 0 means unbounded.
type Query struct {
	Type    string
	Attrs   map[string]any
	Players []RolePlayer
	Limit   int
}

type AccessMode int

const (
	AccessRead AccessMode = iota
	AccessWrite
)

type Store interface {
	Session(ctx context.Context, keyspace string) (Session, error)
	Close(ctx context.Context) error
}

type Session interface {
	Keyspace() string
	Begin(ctx context.Context, mode AccessMode) (Tx, error)
	Close(ctx context.Context) error
}

// Tx is a read or write transaction. Writes become visible to other transactions only after Commit.
type Tx interface {
	GetType(ctx context.Context, label string) (TypeDef, bool, error)
	PutType(ctx context.Context, def TypeDef) error
	ListTypes(ctx context.Context) ([]TypeDef, error)

	CreateEntity(ctx context.Context, typ string) (ConceptID, error)
	CreateAttribute(ctx context.Context, typ string, value any) (Attribute, error)
	AttachAttribute(ctx context.Context, owner ConceptID, attr Attribute) error
	CreateRelation(ctx context.Context, typ string) (ConceptID, error)
	AssignRole(ctx context.Context, rel ConceptID, role string, player ConceptID) error
	Match(ctx context.Context, q Query) ([]ConceptID, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// InTx runs fn inside a write transaction, committing on success and rolling back otherwise.
// Commit and rollback run detached from ctx cancellation so an in-flight transaction always finishes.
func InTx(ctx context.Context, s Session, fn func(tx Tx) error) error {
	tx, err := s.Begin(ctx, AccessWrite)
	if err != nil {
		return err
	}
	done := context.WithoutCancel(ctx)
	if err := fn(tx); err != nil {
		_ = tx.Rollback(done)
		return err
	}
	return tx.Commit(done)
}

// InReadTx runs fn inside a read transaction that is always closed afterwards.
func InReadTx(ctx context.Context, s Session, fn func(tx Tx) error) error {
	tx, err := s.Begin(ctx, AccessRead)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.WithoutCancel(ctx))
	return fn(tx)
}
