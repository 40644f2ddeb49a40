// Package neo4jstore maps the typed graph model onto Neo4j.
//
// Layout inside the configured database:
//   - every instance is a (:Thing) node tagged with keyspace, _id and _type, plus one label per
//     type in its lineage so supertype matches are label scans;
//   - attributes are node properties named after the attribute type;
//   - relations are reified as nodes with (rel)-[:ROLE {role}]->(player) edges;
//   - type definitions live in (:SchemaType {keyspace, label}) nodes.
package neo4jstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/adgraph/internal/graphstore"
	"github.com/yungbote/adgraph/internal/platform/logger"
	"github.com/yungbote/adgraph/internal/platform/neo4jdb"
)

type Store struct {
	client *neo4jdb.Client
	log    *logger.Logger

	initOnce sync.Once
}

func New(client *neo4jdb.Client, log *logger.Logger) (*Store, error) {
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("neo4jstore: client required")
	}
	if log == nil {
		log = client.Log()
	}
	return &Store{client: client, log: log.With("component", "Neo4jStore")}, nil
}

// Best-effort schema init.
func (s *Store) ensureConstraints(ctx context.Context) {
	s.initOnce.Do(func() {
		session := s.client.WriteSession(ctx)
		defer session.Close(ctx)
		stmts := []string{
			`CREATE CONSTRAINT thing_keyspace_id_unique IF NOT EXISTS FOR (n:Thing) REQUIRE (n.keyspace, n._id) IS UNIQUE`,
			`CREATE CONSTRAINT schema_type_keyspace_label_unique IF NOT EXISTS FOR (t:SchemaType) REQUIRE (t.keyspace, t.label) IS UNIQUE`,
			`CREATE INDEX thing_keyspace_type IF NOT EXISTS FOR (n:Thing) ON (n.keyspace, n._type)`,
		}
		for _, q := range stmts {
			if res, err := session.Run(ctx, q, nil); err != nil {
				s.log.Warn("neo4j schema init failed (continuing)", "error", err)
			} else {
				_, _ = res.Consume(ctx)
			}
		}
	})
}

func (s *Store) Session(ctx context.Context, keyspace string) (graphstore.Session, error) {
	keyspace = strings.TrimSpace(keyspace)
	if keyspace == "" {
		return nil, fmt.Errorf("neo4jstore: keyspace required")
	}
	s.ensureConstraints(ctx)
	return &session{store: s, keyspace: keyspace}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// session is safe for concurrent use: every Begin opens its own driver session.
type session struct {
	store    *Store
	keyspace string
}

func (s *session) Keyspace() string { return s.keyspace }

func (s *session) Begin(ctx context.Context, mode graphstore.AccessMode) (graphstore.Tx, error) {
	var ds neo4j.SessionWithContext
	if mode == graphstore.AccessWrite {
		ds = s.store.client.WriteSession(ctx)
	} else {
		ds = s.store.client.ReadSession(ctx)
	}
	etx, err := ds.BeginTransaction(ctx)
	if err != nil {
		_ = ds.Close(ctx)
		return nil, graphstore.MapError("neo4jstore.begin", err)
	}
	return &tx{
		keyspace: s.keyspace,
		write:    mode == graphstore.AccessWrite,
		session:  ds,
		etx:      etx,
		types:    map[string]graphstore.TypeDef{},
	}, nil
}

func (s *session) Close(ctx context.Context) error { return nil }
