package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("unexpected error loading embedded migrations: %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "create_decisions" {
		t.Fatalf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Version != 2 {
		t.Fatalf("expected second migration version 2, got %d", migrations[1].Version)
	}
	if !strings.Contains(migrations[0].UpSQL, "CREATE TABLE IF NOT EXISTS decisions") || migrations[0].DownSQL == "" {
		t.Fatal("expected decisions table in first migration")
	}
}

func TestLoadMigrationsRejectsBadSets(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"missing down": {
			"migrations/001_a.up.sql": {Data: []byte("SELECT 1")},
		},
		"bad name": {
			"migrations/first.up.sql": {Data: []byte("SELECT 1")},
		},
		"empty file": {
			"migrations/001_a.up.sql":   {Data: []byte("  ")},
			"migrations/001_a.down.sql": {Data: []byte("SELECT 1")},
		},
		"conflicting names": {
			"migrations/001_a.up.sql":   {Data: []byte("SELECT 1")},
			"migrations/001_b.down.sql": {Data: []byte("SELECT 1")},
		},
		"no files": {},
	}
	for name, fsys := range cases {
		if _, err := loadMigrations(fsys); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestPending(t *testing.T) {
	all := []migration{{Version: 1}, {Version: 2}, {Version: 3}}
	got := pending(all, map[int64]struct{}{1: {}, 3: {}})
	if len(got) != 1 || got[0].Version != 2 {
		t.Fatalf("unexpected pending set: %+v", got)
	}
}

func TestParseSteps(t *testing.T) {
	if n, err := parseSteps(nil); err != nil || n != 1 {
		t.Fatalf("default steps: %d, %v", n, err)
	}
	if n, err := parseSteps([]string{"3"}); err != nil || n != 3 {
		t.Fatalf("explicit steps: %d, %v", n, err)
	}
	if _, err := parseSteps([]string{"0"}); err == nil {
		t.Fatal("expected error for zero steps")
	}
}

func TestRunValidatesInput(t *testing.T) {
	orig := openDBFunc
	defer func() { openDBFunc = orig }()
	opened := false
	openDBFunc = func(context.Context, string) (database, func(), error) {
		opened = true
		return nil, nil, errors.New("unreachable")
	}

	if err := run(context.Background(), nil, "postgres://x"); err == nil {
		t.Fatal("expected usage error")
	}
	if err := run(context.Background(), []string{"up"}, ""); err == nil {
		t.Fatal("expected missing DATABASE_URL error")
	}
	if opened {
		t.Fatal("database must not be opened for invalid input")
	}
	if err := run(context.Background(), []string{"up"}, "postgres://x"); err == nil || err.Error() != "unreachable" {
		t.Fatalf("expected connection error, got %v", err)
	}
}
