package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/yungbote/adgraph/internal/app"
	"github.com/yungbote/adgraph/internal/config"
	"github.com/yungbote/adgraph/internal/data/repos/testutil"
	"github.com/yungbote/adgraph/internal/data/source"
	"github.com/yungbote/adgraph/internal/graphstore/memstore"
	"github.com/yungbote/adgraph/internal/observability"
	"github.com/yungbote/adgraph/internal/platform/logger"
	"github.com/yungbote/adgraph/internal/resolve"
	"github.com/yungbote/adgraph/internal/schema"
)

// fakeApp wires every command to one shared in-memory graph and a seeded SQLite source.
func fakeApp(t *testing.T) *memstore.Store {
	t.Helper()
	db := testutil.SQLite(t)
	testutil.SeedShoppingAccount(t, context.Background(), db)
	store := memstore.New()

	prev := newApp
	t.Cleanup(func() { newApp = prev })
	newApp = func(_ context.Context, cfg config.Config, _ app.Needs) (*app.App, error) {
		reg, err := schema.NewRegistry(logger.Nop())
		if err != nil {
			return nil, err
		}
		return &app.App{
			Log:       logger.Nop(),
			Cfg:       cfg,
			Clients:   &app.Clients{Graph: store},
			Registry:  reg,
			Resolver:  resolve.New(logger.Nop(), resolve.Options{}),
			Extractor: source.NewExtractor(db, logger.Nop()),
			Metrics:   observability.NewMetrics(),
		}, nil
	}
	return store
}

func run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), ExitCode(err)
}

func TestMigrateAccountThenDescribe(t *testing.T) {
	store := fakeApp(t)

	out, code := run(t, "migrate", "-a", "42", "--account", "--campaign-types", "SHOPPING", "--countries", "DE,AT")
	if code != ExitOK {
		t.Fatalf("migrate exit: want=%d got=%d\n%s", ExitOK, code, out)
	}
	if !strings.Contains(out, "keyspace=account_42") || !strings.Contains(out, "Campaign") {
		t.Fatalf("migrate output:\n%s", out)
	}
	if got := store.Count("account_42", "Campaign"); got != 2 {
		t.Fatalf("Campaign nodes: want=2 got=%d", got)
	}

	out, code = run(t, "schema", "describe", "-k", "account_42")
	if code != ExitOK {
		t.Fatalf("describe exit: want=%d got=%d\n%s", ExitOK, code, out)
	}
	if !strings.Contains(out, "entity Campaign") || !strings.Contains(out, "rule adgroup-in-campaign") {
		t.Fatalf("describe output:\n%s", out)
	}
}

func TestSchemaPlanShowsCreates(t *testing.T) {
	fakeApp(t)
	out, code := run(t, "schema", "plan", "-k", "fresh", "-n", "shopping")
	if code != ExitOK {
		t.Fatalf("plan exit: want=%d got=%d\n%s", ExitOK, code, out)
	}
	if !strings.Contains(out, "create") || !strings.Contains(out, "ProductPartition") {
		t.Fatalf("plan output:\n%s", out)
	}
}

func TestMigrateRequiresExactlyOneAction(t *testing.T) {
	fakeApp(t)
	if _, code := run(t, "migrate", "-a", "42"); code != ExitError {
		t.Fatalf("no action: want=%d got=%d", ExitError, code)
	}
	if _, code := run(t, "migrate", "-a", "42", "--account", "--shopping"); code != ExitError {
		t.Fatalf("both actions: want=%d got=%d", ExitError, code)
	}
}

func TestTaxonomyShow(t *testing.T) {
	fakeApp(t)
	out, code := run(t, "taxonomy", "show", "-a", "42", "--countries", "DE")
	if code != ExitOK {
		t.Fatalf("taxonomy exit: want=%d got=%d\n%s", ExitOK, code, out)
	}
	if !strings.HasPrefix(out, "root") || !strings.Contains(out, "    zoom") {
		t.Fatalf("taxonomy output:\n%s", out)
	}
	if !strings.Contains(out, "account=42 nodes=4 ") {
		t.Fatalf("taxonomy stats should carry the account:\n%s", out)
	}

	if _, code := run(t, "taxonomy", "show", "-a", "  "); code != ExitError {
		t.Fatalf("blank account: want=%d got=%d", ExitError, code)
	}
}
