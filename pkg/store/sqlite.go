package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Promptonauts/gate/pkg/models"
)

type SQLiteStore struct {
	db       *sql.DB
	mu       sync.RWMutex
	watchers []chan ResultEvent
	watchMu  sync.RWMutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pipelines (
		name TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS step_results (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		pipeline TEXT NOT NULL,
		step_name TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS step_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		result_id TEXT NOT NULL,
		type TEXT NOT NULL,
		attempt INTEGER DEFAULT 0,
		delay_ms INTEGER DEFAULT 0,
		status TEXT DEFAULT '',
		message TEXT DEFAULT '',
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (result_id) REFERENCES step_results(id)
	);

	CREATE INDEX IF NOT EXISTS idx_step_results_pipeline ON step_results(pipeline);
	CREATE INDEX IF NOT EXISTS idx_step_results_status ON step_results(status);
	CREATE INDEX IF NOT EXISTS idx_step_events_result_id ON step_events(result_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PutPipeline(name string, spec *models.PipelineSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		return fmt.Errorf("pipeline name is empty")
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal pipeline: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`
		INSERT INTO pipelines (name, data, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, name, string(data), now, now)
	if err != nil {
		return fmt.Errorf("upsert pipeline: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPipeline(name string) (*PipelineRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		data             string
		created, updated time.Time
	)
	err := s.db.QueryRow(
		"SELECT data, created_at, updated_at FROM pipelines WHERE name = ?", name,
	).Scan(&data, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pipeline %s not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("query pipeline: %w", err)
	}

	var spec models.PipelineSpec
	if err := json.Unmarshal([]byte(data), &spec); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline: %w", err)
	}
	return &PipelineRecord{Name: name, Spec: &spec, CreatedAt: created, UpdatedAt: updated}, nil
}

func (s *SQLiteStore) ListPipelines() ([]*PipelineRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT name, data, created_at, updated_at FROM pipelines ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var results []*PipelineRecord
	for rows.Next() {
		rec := &PipelineRecord{}
		var data string
		if err := rows.Scan(&rec.Name, &data, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		var spec models.PipelineSpec
		if err := json.Unmarshal([]byte(data), &spec); err != nil {
			return nil, err
		}
		rec.Spec = &spec
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) DeletePipeline(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM pipelines WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pipeline %s not found", name)
	}
	return nil
}

func (s *SQLiteStore) CreateStepResult(rec *models.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO step_results (id, run_id, pipeline, step_name, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.RunID, rec.Pipeline, rec.StepName, string(rec.Status), string(data), now, now)
	if err != nil {
		return err
	}

	s.emit(ResultEvent{Type: EventCreated, Record: rec})
	return nil
}

func (s *SQLiteStore) UpdateStepResult(rec *models.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		UPDATE step_results SET status = ?, data = ?, updated_at = ? WHERE id = ?
	`, string(rec.Status), string(data), rec.UpdatedAt, rec.ID)
	if err != nil {
		return err
	}

	s.emit(ResultEvent{Type: EventUpdated, Record: rec})
	return nil
}

func (s *SQLiteStore) GetStepResult(id string) (*models.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow("SELECT data FROM step_results WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("step result %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	var rec models.StepRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) ListStepResults(pipeline string, limit int) ([]*models.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT data FROM step_results"
	args := []interface{}{}
	if pipeline != "" {
		query += " WHERE pipeline = ?"
		args = append(args, pipeline)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.StepRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec models.StepRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, err
		}
		results = append(results, &rec)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) AppendStepEvent(event models.StepEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO step_events (result_id, type, attempt, delay_ms, status, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ResultID, event.Type, event.Attempt, event.DelayMs, string(event.Status), event.Message, event.Timestamp)
	return err
}

func (s *SQLiteStore) GetStepEvents(resultID string) ([]models.StepEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT result_id, type, attempt, delay_ms, status, message, timestamp
		FROM step_events WHERE result_id = ? ORDER BY id ASC
	`, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.StepEvent
	for rows.Next() {
		var e models.StepEvent
		var status string
		if err := rows.Scan(&e.ResultID, &e.Type, &e.Attempt, &e.DelayMs, &status, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Status = models.StepStatus(status)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Watch support

func (s *SQLiteStore) Watch() <-chan ResultEvent {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	ch := make(chan ResultEvent, 100)
	s.watchers = append(s.watchers, ch)
	return ch
}

func (s *SQLiteStore) emit(event ResultEvent) {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()

	for _, ch := range s.watchers {
		select {
		case ch <- event:
		default:
			// Drop event if channel is full — non-blocking
		}
	}
}
