package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"proxyharvest/internal/shared/logger"
	"proxyharvest/proxypool/model"
)

// timeLayout 与 SQLite CURRENT_TIMESTAMP 的格式一致，保证按字符串比较即按时间比较。
const timeLayout = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS proxies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ip TEXT NOT NULL,
	port INTEGER NOT NULL,
	protocol TEXT DEFAULT 'socks5',
	response_time REAL,
	last_checked TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	is_valid INTEGER DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_proxies_endpoint ON proxies(ip, port, protocol);
`

// Options 配置 SQLite 存储。
type Options struct {
	EnableWAL bool
}

// Store 是基于 SQLite 的代理存储。所有写操作串行执行（单写者）。
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open 打开或创建数据库文件。打开失败属于致命错误，直接返回给调用方。
func Open(path string, opts Options) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if opts.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	l := logger.WithComponent("ProxyPool/Storage")
	l.Info().Str("path", path).Msg("Proxy store opened.")
	return &Store{db: db, path: path, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string { return s.path }

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

// Upsert 仅在 (ip, port, protocol) 不存在时插入一行，返回是否插入。
// 已存在时不做任何修改。latency <= 0 表示未测速，存为 NULL。
func (s *Store) Upsert(ctx context.Context, c model.Candidate, latency time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM proxies WHERE ip = ? AND port = ? AND protocol = ? LIMIT 1`,
		c.Address, int(c.Port), string(c.Kind)).Scan(&exists)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to look up proxy: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO proxies (ip, port, protocol, response_time, last_checked, is_valid) VALUES (?, ?, ?, ?, ?, 1)`,
		c.Address, int(c.Port), string(c.Kind), nullableSeconds(latency), s.timestamp())
	if err != nil {
		return false, fmt.Errorf("failed to insert proxy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit insert: %w", err)
	}
	return true, nil
}

// UpdateStatus 按 (ip, port) 覆盖所有匹配行的状态与延迟，并把 last_checked 设为当前时间。
// 延迟不为正（不可用的结果）时写入 NULL。没有匹配行时什么也不做，返回受影响的行数。
func (s *Store) UpdateStatus(ctx context.Context, address string, port uint16, valid bool, latency time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE proxies SET is_valid = ?, response_time = ?, last_checked = ? WHERE ip = ? AND port = ?`,
		boolToInt(valid), nullableSeconds(latency), s.timestamp(), address, int(port))
	if err != nil {
		return 0, fmt.Errorf("failed to update proxy status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListValid 返回 is_valid 为真的记录，按 id 排序。kind 为空时不过滤协议。
func (s *Store) ListValid(ctx context.Context, kind model.Kind) ([]model.StoredProxy, error) {
	query := `SELECT id, ip, port, protocol, response_time, last_checked, is_valid FROM proxies WHERE is_valid = 1`
	args := []any{}
	if kind != "" {
		query += ` AND protocol = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY id`
	return s.query(ctx, query, args...)
}

// ListAll 返回所有记录（包括失效的），按 id 排序。
func (s *Store) ListAll(ctx context.Context) ([]model.StoredProxy, error) {
	return s.query(ctx, `SELECT id, ip, port, protocol, response_time, last_checked, is_valid FROM proxies ORDER BY id`)
}

// Count 返回总行数与有效行数。
func (s *Store) Count(ctx context.Context) (total, valid int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_valid = 1 THEN 1 ELSE 0 END), 0) FROM proxies`).Scan(&total, &valid)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count proxies: %w", err)
	}
	return total, valid, nil
}

// ClearAll 删除所有记录。
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM proxies`); err != nil {
		return fmt.Errorf("failed to clear proxies: %w", err)
	}
	return nil
}

// Compact 合并 (ip, port, protocol) 相同的重复行：保留最小 id，
// is_valid、last_checked 与 response_time 都取组内最大值。
// 整个过程在一个事务中完成，返回删除的行数。
func (s *Store) Compact(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	steps := []string{
		`DROP TABLE IF EXISTS temp.proxies_merge`,
		`CREATE TEMP TABLE proxies_merge AS
			SELECT MIN(id) AS keep_id,
				MAX(is_valid) AS is_valid,
				MAX(last_checked) AS last_checked,
				MAX(response_time) AS response_time
			FROM proxies
			GROUP BY ip, port, protocol
			HAVING COUNT(*) > 1`,
		`UPDATE proxies SET
			is_valid = (SELECT m.is_valid FROM proxies_merge m WHERE m.keep_id = proxies.id),
			last_checked = (SELECT m.last_checked FROM proxies_merge m WHERE m.keep_id = proxies.id),
			response_time = (SELECT m.response_time FROM proxies_merge m WHERE m.keep_id = proxies.id)
		WHERE id IN (SELECT keep_id FROM proxies_merge)`,
	}
	for _, q := range steps {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return 0, fmt.Errorf("failed to compact proxies: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM proxies WHERE id NOT IN (SELECT MIN(id) FROM proxies GROUP BY ip, port, protocol)`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete duplicate proxies: %w", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DROP TABLE temp.proxies_merge`); err != nil {
		return 0, fmt.Errorf("failed to drop merge table: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit compaction: %w", err)
	}

	l := logger.WithComponent("ProxyPool/Storage")
	l.Info().Int64("removed", removed).Msg("Proxy store compacted.")
	return removed, nil
}

// Reconcile 用一轮完整验证的结果替换整张表：只保留可用的代理及其延迟。
// 返回写入的行数。
func (s *Store) Reconcile(ctx context.Context, results []model.Result) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM proxies`); err != nil {
		return 0, fmt.Errorf("failed to clear proxies: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO proxies (ip, port, protocol, response_time, last_checked, is_valid) VALUES (?, ?, ?, ?, ?, 1)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	type key struct {
		ep   model.Endpoint
		kind model.Kind
	}
	seen := make(map[key]struct{}, len(results))
	inserted := 0
	for _, r := range results {
		if !r.Functional {
			continue
		}
		k := key{r.Key(), r.Kind}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, err := stmt.ExecContext(ctx, r.Address, int(r.Port), string(r.Kind), nullableSeconds(r.Latency), s.timestamp()); err != nil {
			return 0, fmt.Errorf("failed to insert proxy %s: %w", r.HostPort(), err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reconciliation: %w", err)
	}
	return inserted, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]model.StoredProxy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query proxies: %w", err)
	}
	defer rows.Close()

	var out []model.StoredProxy
	for rows.Next() {
		var (
			p        model.StoredProxy
			port     int64
			protocol sql.NullString
			rt       sql.NullFloat64
			checked  sql.NullString
			valid    sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.Address, &port, &protocol, &rt, &checked, &valid); err != nil {
			return nil, fmt.Errorf("failed to scan proxy row: %w", err)
		}
		p.Port = uint16(port)
		p.Kind = model.Kind(strings.ToLower(protocol.String))
		if rt.Valid {
			d := time.Duration(rt.Float64 * float64(time.Second))
			p.ResponseTime = &d
		}
		if checked.Valid {
			p.LastChecked = parseTimestamp(checked.String)
		}
		p.Valid = valid.Valid && valid.Int64 != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// parseTimestamp 兼容 SQLite 与驱动可能返回的多种时间格式，无法解析时返回零值。
func parseTimestamp(s string) time.Time {
	formats := []string{
		timeLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05Z",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func nullableSeconds(d time.Duration) any {
	if d <= 0 {
		return nil
	}
	return d.Seconds()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
