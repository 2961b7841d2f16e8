package db

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/alzheon/alzheon/migrations"
)

func TestLoadMigrations(t *testing.T) {
	files := fstest.MapFS{
		"001_core.sql":        {Data: []byte("CREATE TABLE usuarios (id TEXT PRIMARY KEY);")},
		"002_reminders.sql":   {Data: []byte("CREATE TABLE configuraciones (id TEXT PRIMARY KEY);")},
		"003_submissions.sql": {Data: []byte("CREATE TABLE submissions (id TEXT PRIMARY KEY);")},
	}

	migrator := NewMigrator(nil, files)
	migs, err := migrator.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	if len(migs) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migs))
	}
	if migs[0].Version != 1 || migs[0].Name != "001_core.sql" {
		t.Errorf("unexpected first migration %+v", migs[0])
	}
	if migs[0].SQL != "CREATE TABLE usuarios (id TEXT PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migs[0].SQL)
	}
	if migs[2].Version != 3 {
		t.Errorf("expected version 3, got %d", migs[2].Version)
	}
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	files := fstest.MapFS{
		"010_tables.sql": {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"005_middle.sql": {Data: []byte("SELECT 5;")},
	}

	migs, err := NewMigrator(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	want := []int{1, 2, 5, 10}
	if len(migs) != len(want) {
		t.Fatalf("expected %d migrations, got %d", len(want), len(migs))
	}
	for i, v := range want {
		if migs[i].Version != v {
			t.Errorf("position %d: expected version %d, got %d", i, v, migs[i].Version)
		}
	}
}

func TestLoadMigrations_SkipsInvalidNames(t *testing.T) {
	files := fstest.MapFS{
		"001_valid.sql":    {Data: []byte("SELECT 1;")},
		"readme.md":        {Data: []byte("docs")},
		"noversion.sql":    {Data: []byte("SELECT 0;")},
		"abc_invalid.sql":  {Data: []byte("SELECT 0;")},
		"sub/002_deep.sql": {Data: []byte("SELECT 2;")},
	}

	migs, err := NewMigrator(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migs) != 1 || migs[0].Name != "001_valid.sql" {
		t.Errorf("expected only 001_valid.sql, got %+v", migs)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := NewMigrator(nil, files).LoadMigrations(); err == nil {
		t.Error("expected error for duplicate versions")
	}
}

func TestLoadMigrations_Embedded(t *testing.T) {
	migs, err := NewMigrator(nil, migrations.FS).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migs) == 0 || migs[0].Version != 1 {
		t.Fatalf("expected embedded migrations starting at version 1, got %+v", migs)
	}
}

func TestBuildStatus(t *testing.T) {
	migs := []Migration{
		{Version: 1, Name: "001_core.sql"},
		{Version: 2, Name: "002_reminders.sql"},
	}
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	statuses := buildStatus(migs, map[int]time.Time{1: at})

	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected migration 1 applied at %s, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected migration 2 pending, got %+v", statuses[1])
	}
}
