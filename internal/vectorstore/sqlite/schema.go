package sqlite

import "database/sql"

// Schema 是向量存储的完整表结构；向量以小端 float64 BLOB 保存。
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    id        TEXT PRIMARY KEY,
    title     TEXT NOT NULL COLLATE NOCASE,
    doc_type  TEXT NOT NULL,
    source    TEXT NOT NULL DEFAULT '',
    body      TEXT NOT NULL,
    meta_json TEXT NOT NULL DEFAULT '{}',
    dim       INTEGER NOT NULL,
    vector    BLOB NOT NULL,
    added_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_title ON documents(title, doc_type);
CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(doc_type, source);
`

// ApplySchema 幂等地创建表与索引。
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
