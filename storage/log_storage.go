package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// LogStorage 日志存储（独立于业务库，走原生 SQLite 以承受高频写入）
type LogStorage struct {
	db     *sql.DB
	mu     sync.Mutex
	logCh  chan *logEntry
	closed bool
}

// logEntry 日志条目
type logEntry struct {
	level     string
	message   string
	timestamp time.Time
}

// LogQueryParams 日志查询参数
type LogQueryParams struct {
	StartTime time.Time
	EndTime   time.Time
	Level     string
	Keyword   string
	Limit     int
	Offset    int
}

// LogRecord 日志记录
type LogRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// NewLogStorage 创建日志存储
func NewLogStorage(path string) (*LogStorage, error) {
	// WAL 模式提高并发性能
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("打开日志数据库失败: %w", err)
	}

	// SQLite 单写者限制
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ls := &LogStorage{
		db:    db,
		logCh: make(chan *logEntry, 500),
	}

	if err := ls.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建日志表失败: %w", err)
	}

	// 异步写入协程
	go ls.processLogs()

	return ls, nil
}

// createTable 创建日志表
func (ls *LogStorage) createTable() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);
	`
	_, err := ls.db.Exec(ddl)
	return err
}

// Write 写入一条日志（非阻塞，队列满时丢弃）
func (ls *LogStorage) Write(level, message string) {
	ls.mu.Lock()
	closed := ls.closed
	ls.mu.Unlock()
	if closed {
		return
	}

	select {
	case ls.logCh <- &logEntry{level: level, message: message, timestamp: time.Now()}:
	default:
		// 丢弃而不是阻塞业务协程
	}
}

// processLogs 异步批量落库
func (ls *LogStorage) processLogs() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	batch := make([]*logEntry, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		tx, err := ls.db.Begin()
		if err != nil {
			batch = batch[:0]
			return
		}
		stmt, err := tx.Prepare("INSERT INTO logs(timestamp, level, message) VALUES(?, ?, ?)")
		if err != nil {
			tx.Rollback()
			batch = batch[:0]
			return
		}
		for _, e := range batch {
			stmt.Exec(e.timestamp, e.level, e.message)
		}
		stmt.Close()
		tx.Commit()
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-ls.logCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// QueryLogs 查询日志
func (ls *LogStorage) QueryLogs(params *LogQueryParams) ([]*LogRecord, error) {
	query := "SELECT id, timestamp, level, message FROM logs WHERE 1=1"
	args := make([]interface{}, 0, 6)

	if !params.StartTime.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, params.StartTime)
	}
	if !params.EndTime.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, params.EndTime)
	}
	if params.Level != "" {
		query += " AND level = ?"
		args = append(args, strings.ToUpper(params.Level))
	}
	if params.Keyword != "" {
		query += " AND message LIKE ?"
		args = append(args, "%"+params.Keyword+"%")
	}

	query += " ORDER BY timestamp DESC"
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, params.Offset)

	rows, err := ls.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询日志失败: %w", err)
	}
	defer rows.Close()

	records := make([]*LogRecord, 0, limit)
	for rows.Next() {
		r := &LogRecord{}
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Level, &r.Message); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CleanupBefore 清理指定时间之前的日志
func (ls *LogStorage) CleanupBefore(t time.Time) (int64, error) {
	result, err := ls.db.Exec("DELETE FROM logs WHERE timestamp < ?", t)
	if err != nil {
		return 0, fmt.Errorf("清理日志失败: %w", err)
	}
	return result.RowsAffected()
}

// Close 关闭日志存储
func (ls *LogStorage) Close() error {
	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		return nil
	}
	ls.closed = true
	ls.mu.Unlock()

	close(ls.logCh)
	// 给异步协程一点时间刷盘
	time.Sleep(100 * time.Millisecond)
	return ls.db.Close()
}
