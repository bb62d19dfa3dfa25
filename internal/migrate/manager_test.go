package migrate

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSplitStatements(t *testing.T) {
	src := `
-- leading comment; with a semicolon
create table a (v text default 'x;y');
create function f() returns trigger as $$
begin
    raise exception 'nope';
end;
$$ language plpgsql;
insert into a values ($1);
`
	stmts := splitStatements(src)
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[0], "'x;y'") {
		t.Fatalf("quoted semicolon split: %q", stmts[0])
	}
	if !strings.Contains(stmts[1], "raise exception 'nope';") || !strings.HasSuffix(strings.TrimSpace(stmts[1]), "language plpgsql;") {
		t.Fatalf("dollar body split: %q", stmts[1])
	}
	if strings.TrimSpace(stmts[2]) != "insert into a values ($1);" {
		t.Fatalf("positional parameter treated as dollar quote: %q", stmts[2])
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	fsys := Embedded()
	ups, err := collectSQL(fsys, ".up.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(ups) < 2 {
		t.Fatalf("expected embedded migrations, got %v", ups)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(fsys, down); err != nil {
			t.Fatalf("%s has no down migration", up)
		}
	}
	body, err := fs.ReadFile(fsys, "0002_admin_logs.up.sql")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"on delete set null", "(created_at desc)", "(resource_type, resource_id)"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("admin_logs migration missing %q", want)
		}
	}
}

func TestUpAppliesPendingOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id int);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
		"0002_b.up.sql":   {Data: []byte("create table b (id int); create index b_idx on b (id);")},
		"0002_b.down.sql": {Data: []byte("drop table b;")},
	}
	mgr := NewManager(db, fsys)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return fixed }

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index b_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_b.up.sql", fixed).
		WillReturnResult(sqlmock.NewResult(1, 1))

	applied, err := mgr.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_b.up.sql" {
		t.Fatalf("applied: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id int);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
	}
	mgr := NewManager(db, fsys)

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations where name = \\$1").
		WithArgs("0001_a.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	name, err := mgr.Down(context.Background())
	if err != nil || name != "0001_a.up.sql" {
		t.Fatalf("Down: %q %v", name, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSeedWithoutSourceIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	if err := NewManager(db, fstest.MapFS{}).Seed(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
