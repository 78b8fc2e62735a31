package migration

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

// openTestDB は一時ディレクトリにSQLiteデータベースを作成する。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("DBのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"migrations/000002_add_note.up.sql": {Data: []byte("ALTER TABLE items ADD COLUMN note TEXT;")},
		"migrations/000001_init.up.sql":     {Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);")},
		"migrations/000001_init.down.sql":   {Data: []byte("DROP TABLE items;")},
		"migrations/README.md":              {Data: []byte("ignored")},
		"migrations/abc_bad.up.sql":         {Data: []byte("SELECT 1;")},
	}
}

// TestCollect はファイル収集を検証する。
func TestCollect(t *testing.T) {
	t.Parallel()

	t.Run("up.sqlのみがバージョン順に収集されること", func(t *testing.T) {
		t.Parallel()

		files, err := Collect(testFS(), "migrations")
		if err != nil {
			t.Fatalf("Collect()でエラーが発生: %v", err)
		}
		if len(files) != 2 {
			t.Fatalf("件数 = %d, want 2", len(files))
		}
		if files[0].Version != 1 || files[0].Name != "init" {
			t.Errorf("files[0] = %+v", files[0])
		}
		if files[1].Version != 2 || files[1].Path != "migrations/000002_add_note.up.sql" {
			t.Errorf("files[1] = %+v", files[1])
		}
	})

	t.Run("存在しないディレクトリでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		if _, err := Collect(testFS(), "missing"); err == nil {
			t.Error("存在しないディレクトリでエラーが返らなかった")
		}
	})
}

// TestRunner_Up はマイグレーション適用を検証する。
func TestRunner_Up(t *testing.T) {
	t.Parallel()

	t.Run("全マイグレーションが適用され再実行では何もしないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		r := NewRunner(db, testFS(), "migrations", nil)

		n, err := r.Up(context.Background())
		if err != nil {
			t.Fatalf("Up()でエラーが発生: %v", err)
		}
		if n != 2 {
			t.Errorf("適用件数 = %d, want 2", n)
		}
		if _, err := db.Exec("INSERT INTO items (name, note) VALUES ('a', 'b')"); err != nil {
			t.Errorf("マイグレーション後のテーブルに挿入できない: %v", err)
		}

		n, err = r.Up(context.Background())
		if err != nil {
			t.Fatalf("2回目のUp()でエラーが発生: %v", err)
		}
		if n != 0 {
			t.Errorf("2回目の適用件数 = %d, want 0", n)
		}
	})

	t.Run("不正なSQLで失敗しバージョンが記録されないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		fsys := fstest.MapFS{
			"m/000001_broken.up.sql": {Data: []byte("CREATE TABLE (")},
		}
		if err := Run(context.Background(), db, fsys, "m", nil); err == nil {
			t.Fatal("不正なSQLでエラーが返らなかった")
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("件数の取得に失敗: %v", err)
		}
		if count != 0 {
			t.Errorf("記録件数 = %d, want 0", count)
		}
	})
}
