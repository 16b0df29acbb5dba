package config

import (
	"path/filepath"
	"testing"
)

type widget struct {
	ID   uint
	Name string
}

func TestInitDatabaseSQLite(t *testing.T) {
	t.Cleanup(func() { db = nil })
	c, err := LoadFrom("")
	if err != nil {
		t.Fatal(err)
	}
	c.DBPath = filepath.Join(t.TempDir(), "nested", "test.db")
	c.LogLevel = "silent"

	opened, err := InitDatabase(c, &widget{})
	if err != nil {
		t.Fatalf("InitDatabase() error = %v", err)
	}
	if DB() != opened {
		t.Fatal("DB() does not return the opened database")
	}
	if !opened.Migrator().HasTable(&widget{}) {
		t.Fatal("model table not migrated")
	}
	if err := opened.Create(&widget{Name: "x"}).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	sqlDB, _ := opened.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
}

func TestDialectorRejectsUnknownDriver(t *testing.T) {
	if _, err := dialectorFor(AppConfig{DBDriver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
