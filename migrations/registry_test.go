package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	botfactory "github.com/goliatone/go-botfactory"
	_ "github.com/mattn/go-sqlite3"
)

func TestLoad_OrdersUpsForBothDialects(t *testing.T) {
	for _, dialect := range []Dialect{DialectPostgres, DialectSQLite} {
		set, err := Load(dialect)
		if err != nil {
			t.Fatalf("load %s: %v", dialect, err)
		}
		want := []string{
			"00001_botfactory_tenants.up.sql",
			"00002_botfactory_relay.up.sql",
			"00003_botfactory_plugins.up.sql",
		}
		if strings.Join(set.Ups, ",") != strings.Join(want, ",") {
			t.Fatalf("%s: unexpected ups %v", dialect, set.Ups)
		}
	}
	if _, err := Load(Dialect("mysql")); err == nil {
		t.Fatalf("expected unknown dialect to fail")
	}
}

func TestLoad_RequiresRollbackPairs(t *testing.T) {
	tree := fstest.MapFS{
		"data/sql/migrations/sqlite/00001_x.up.sql": &fstest.MapFile{Data: []byte("CREATE TABLE x (id TEXT);")},
	}
	if _, err := Load(DialectSQLite, tree); err == nil {
		t.Fatalf("expected missing down migration to fail")
	}
	tree["data/sql/migrations/sqlite/00001_x.down.sql"] = &fstest.MapFile{Data: []byte("DROP TABLE x;")}
	if _, err := Load(DialectSQLite, tree); err != nil {
		t.Fatalf("load with pair: %v", err)
	}
}

func TestParseDialect(t *testing.T) {
	cases := map[string]Dialect{
		"":           DialectSQLite,
		"sqlite3":    DialectSQLite,
		"Postgres":   DialectPostgres,
		"postgresql": DialectPostgres,
	}
	for name, want := range cases {
		got, err := ParseDialect(name)
		if err != nil || got != want {
			t.Fatalf("%q: got %q %v", name, got, err)
		}
	}
	if _, err := ParseDialect("oracle"); err == nil {
		t.Fatalf("expected unsupported driver to fail")
	}
}

func TestRegister_OnlyRequestedDialects(t *testing.T) {
	var calls []Dialect
	sets, err := Register(context.Background(), func(_ context.Context, set Set) error {
		calls = append(calls, set.Dialect)
		return nil
	}, DialectSQLite, DialectSQLite)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(calls) != 1 || calls[0] != DialectSQLite || len(sets) != 1 {
		t.Fatalf("expected one sqlite registration, got %v", calls)
	}

	calls = nil
	if _, err := Register(context.Background(), func(_ context.Context, set Set) error {
		calls = append(calls, set.Dialect)
		return nil
	}); err != nil {
		t.Fatalf("register all: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected both dialects by default, got %v", calls)
	}
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected nil register function to fail")
	}
}

func TestMigrationPairs_ExistForBothDialects(t *testing.T) {
	root := botfactory.GetMigrationsFS()
	names := []string{
		"00001_botfactory_tenants",
		"00002_botfactory_relay",
		"00003_botfactory_plugins",
	}
	for _, name := range names {
		paths := []string{
			"data/sql/migrations/" + name + ".up.sql",
			"data/sql/migrations/" + name + ".down.sql",
			"data/sql/migrations/sqlite/" + name + ".up.sql",
			"data/sql/migrations/sqlite/" + name + ".down.sql",
		}
		for _, migrationPath := range paths {
			content, err := fs.ReadFile(root, migrationPath)
			if err != nil {
				t.Fatalf("read migration %s: %v", migrationPath, err)
			}
			if strings.TrimSpace(string(content)) == "" {
				t.Fatalf("expected migration %s to have SQL content", migrationPath)
			}
		}
	}
}

func TestSQLiteMigrations_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-botfactory?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	set, err := Load(DialectSQLite)
	if err != nil {
		t.Fatalf("load sqlite migrations: %v", err)
	}
	sqliteMigrations := set.FS

	ctx := context.Background()
	for _, migration := range set.Ups {
		if err := execSQLMigration(ctx, db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply migration %s: %v", migration, err)
		}
	}

	tables := []string{
		"bot_tenants",
		"tenant_resources",
		"bot_keys",
		"bot_secrets",
		"bot_secret_grants",
		"relay_queues",
		"relay_messages",
		"relay_dead_letters",
		"command_runs",
		"simpbot_points",
		"watchdog2_contact_info",
	}
	for _, table := range tables {
		if count := tableCount(t, db, table); count != 1 {
			t.Fatalf("expected table %s after up migrations", table)
		}
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO bot_tenants (id, name, name_key, plugin, dns_zone, status) VALUES (?, ?, ?, ?, ?, ?)`,
		"t-1", "SimpBot", "simpbot", "simpbot", "bots.example.com", "active",
	); err != nil {
		t.Fatalf("insert tenant: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO bot_tenants (id, name, name_key, plugin, dns_zone, status) VALUES (?, ?, ?, ?, ?, ?)`,
		"t-2", "SIMPBOT", "simpbot", "simpbot", "bots.example.com", "active",
	); err == nil {
		t.Fatalf("expected name_key uniqueness to reject a case-only collision")
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO relay_messages (id, queue_id, tenant, body, enqueued_at_ms, visible_at_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		"m-1", "SQSMissing", "Missing", []byte("x"), 1, 1,
	); err == nil {
		t.Fatalf("expected relay message without queue to violate the foreign key")
	}

	downs := []string{
		"00003_botfactory_plugins.down.sql",
		"00002_botfactory_relay.down.sql",
		"00001_botfactory_tenants.down.sql",
	}
	for _, migration := range downs {
		if err := execSQLMigration(ctx, db, sqliteMigrations, migration); err != nil {
			t.Fatalf("rollback migration %s: %v", migration, err)
		}
	}
	for _, table := range tables {
		if count := tableCount(t, db, table); count != 0 {
			t.Fatalf("expected table %s to be dropped after down migrations", table)
		}
	}
}

func tableCount(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var count int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		table,
	).Scan(&count); err != nil {
		t.Fatalf("query table %s: %v", table, err)
	}
	return count
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
