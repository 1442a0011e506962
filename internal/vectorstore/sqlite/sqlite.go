// Package sqlite 是基于 SQLite（modernc.org/sqlite，纯 Go）的持久化向量存储。
//
// 检索为暴力余弦：按过滤条件读出候选向量后在进程内排序，适合单机几万条文档的规模。
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/John-Robertt/reelrag/internal/vectorstore"
)

// Store 包装一个已打开的数据库连接。
type Store struct {
	DB *sql.DB
}

// NewStore 在已打开的连接上建表并返回存储。
func NewStore(db *sql.DB) (*Store, error) {
	if err := ApplySchema(db); err != nil {
		return nil, fmt.Errorf("建表失败：%w", err)
	}
	return &Store{DB: db}, nil
}

// Open 打开（必要时创建）path 处的数据库；path 为 ":memory:" 时使用内存库。
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("创建数据库目录失败：%w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败：%w", err)
	}
	// 单连接：内存库每个连接各自独立，文件库也无需并发写。
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("设置 pragma 失败：%w", err)
		}
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) dimension(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, `SELECT dim FROM documents LIMIT 1`).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return dim, err
}

func (s *Store) Add(ctx context.Context, docs []vectorstore.Document, vectors [][]float64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	dim, err := s.dimension(ctx, tx)
	if err != nil {
		return err
	}
	dim, err = vectorstore.CheckBatch(docs, vectors, dim)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, title, doc_type, source, body, meta_json, dim, vector, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, d := range docs {
		meta, err := json.Marshal(d.Meta)
		if err != nil {
			return fmt.Errorf("编码元数据失败：%w", err)
		}
		_, err = stmt.ExecContext(ctx,
			d.ID, strings.TrimSpace(d.Meta.Title), d.Meta.Type, d.Meta.Source, d.Text,
			string(meta), dim, encodeVector(vectors[i]), d.Meta.AddedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("写入文档 %s 失败：%w", d.ID, err)
		}
	}
	return tx.Commit()
}

func where(f vectorstore.Filter) (string, []any) {
	var conds []string
	var args []any
	if t := strings.TrimSpace(f.Title); t != "" {
		conds = append(conds, "title = ?")
		args = append(args, t)
	}
	if f.Type != "" {
		conds = append(conds, "doc_type = ?")
		args = append(args, f.Type)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) Query(ctx context.Context, vector []float64, f vectorstore.Filter, k int) ([]vectorstore.Hit, error) {
	dim, err := s.dimension(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	if dim != 0 && len(vector) != dim {
		return nil, fmt.Errorf("%w：期望 %d，实际 %d", vectorstore.ErrDimension, dim, len(vector))
	}

	w, args := where(f)
	rows, err := s.DB.QueryContext(ctx, `SELECT id, body, meta_json, vector FROM documents`+w+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cands []vectorstore.Candidate
	for rows.Next() {
		var (
			d    vectorstore.Document
			meta string
			blob []byte
		)
		if err := rows.Scan(&d.ID, &d.Text, &meta, &blob); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &d.Meta); err != nil {
			return nil, fmt.Errorf("解码文档 %s 元数据失败：%w", d.ID, err)
		}
		cands = append(cands, vectorstore.Candidate{Doc: d, Vector: decodeVector(blob)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vectorstore.Rank(vector, cands, k), nil
}

func (s *Store) Documents(ctx context.Context, f vectorstore.Filter) ([]vectorstore.Document, error) {
	w, args := where(f)
	rows, err := s.DB.QueryContext(ctx, `SELECT id, body, meta_json FROM documents`+w+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vectorstore.Document
	for rows.Next() {
		var d vectorstore.Document
		var meta string
		if err := rows.Scan(&d.ID, &d.Text, &meta); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &d.Meta); err != nil {
			return nil, fmt.Errorf("解码文档 %s 元数据失败：%w", d.ID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) Titles(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT MIN(title) FROM documents WHERE doc_type = ? GROUP BY title ORDER BY title`,
		vectorstore.TypeOverview)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTitle(ctx context.Context, title string) (int, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE title = ?`, strings.TrimSpace(title))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) Stats(ctx context.Context) (vectorstore.Stats, error) {
	st := vectorstore.Stats{Sources: map[string]int{}}
	rows, err := s.DB.QueryContext(ctx, `SELECT doc_type, source, COUNT(*) FROM documents GROUP BY doc_type, source`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var typ, src string
		var n int
		if err := rows.Scan(&typ, &src, &n); err != nil {
			return st, err
		}
		st.TotalDocuments += n
		switch typ {
		case vectorstore.TypeOverview:
			st.Movies += n
		case vectorstore.TypeReview:
			st.Reviews += n
			if src == "" {
				src = "unknown"
			}
			st.Sources[src] += n
		}
	}
	return st, rows.Err()
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM documents`)
	return err
}

func (s *Store) Close() error { return s.DB.Close() }

func encodeVector(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}
