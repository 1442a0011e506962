package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/John-Robertt/reelrag/internal/vectorstore"
	"github.com/John-Robertt/reelrag/internal/vectorstore/storetest"
)

func openTestStore(t *testing.T) vectorstore.Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, openTestStore)
}

func TestApplySchema(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	for i := 0; i < 2; i++ {
		if err := ApplySchema(db); err != nil {
			t.Fatalf("第 %d 次建表失败：%v", i+1, err)
		}
	}
	var name string
	if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='documents'`).Scan(&name); err != nil {
		t.Fatalf("documents 表不存在：%v", err)
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reviews.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	d := vectorstore.Document{ID: "o1", Text: "Movie: Heat", Meta: vectorstore.Meta{Title: "Heat", Type: vectorstore.TypeOverview, Source: "combined"}}
	if err := s.Add(ctx, []vectorstore.Document{d}, [][]float64{{0.25, -0.5, 1e-9}}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer s2.Close()
	titles, err := s2.Titles(ctx)
	if err != nil || len(titles) != 1 || titles[0] != "Heat" {
		t.Fatalf("重新打开后期望 [Heat]，实际 %v %v", titles, err)
	}
	hits, err := s2.Query(ctx, []float64{0.25, -0.5, 1e-9}, vectorstore.Filter{Title: "heat"}, 1)
	if err != nil || len(hits) != 1 || hits[0].Score < 0.999 {
		t.Fatalf("重新打开后查询不符：%+v %v", hits, err)
	}
}

func TestVectorEncoding(t *testing.T) {
	in := []float64{0, 1.5, -2.25, 3e-12}
	out := decodeVector(encodeVector(in))
	if len(out) != len(in) {
		t.Fatalf("长度不符：%v", out)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("期望 %v，实际 %v", in, out)
		}
	}
}
