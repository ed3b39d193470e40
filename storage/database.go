package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"peerlink/models"
)

const (
	// DefaultDBFileName is the history database created under the data dir.
	DefaultDBFileName = "messages.db"
	// DefaultWALCheckpointInterval is how often the write-ahead log is folded
	// back into the main file.
	DefaultWALCheckpointInterval = 24 * time.Hour
)

type migration struct {
	name string
	sql  string
}

// schema is append-only; user_version records how many steps have run.
var schema = []migration{
	{
		name: "create messages",
		sql: `
CREATE TABLE IF NOT EXISTS messages (
  message_id  TEXT PRIMARY KEY,
  peer_id     TEXT NOT NULL,
  body        TEXT NOT NULL DEFAULT '',
  from_me     INTEGER NOT NULL DEFAULT 0,
  transport   TEXT NOT NULL CHECK(transport IN ('bt','wifi','nfc','sms')),
  status      TEXT NOT NULL CHECK(status IN ('sending','sent','failed')) DEFAULT 'sending',
  created_at  INTEGER NOT NULL,
  updated_at  INTEGER NOT NULL
);`,
	},
	{
		name: "index conversations",
		sql: `
CREATE INDEX IF NOT EXISTS idx_messages_transport_peer_time
ON messages (transport, peer_id, created_at);`,
	},
	{
		name: "index outbound status",
		sql: `
CREATE INDEX IF NOT EXISTS idx_messages_outbound_status
ON messages (status) WHERE from_me = 1;`,
	},
}

// Store persists message history in SQLite.
type Store struct {
	db     *sql.DB
	sealer Sealer

	watchMu  sync.Mutex
	watchers map[int]chan struct{}
	nextID   int

	maintenance time.Duration
	stop        chan struct{}
	loops       sync.WaitGroup
	closeOnce   sync.Once
}

// Open creates dataDir if needed and opens the history database inside it.
// A nil sealer keeps bodies in plaintext.
func Open(dataDir string, sealer Sealer) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath, sealer)
	if err != nil {
		return nil, "", err
	}
	return store, dbPath, nil
}

// OpenPath opens the database at dbPath, brings the schema up to date and
// marks outbound messages left in sending by a previous run as failed.
func OpenPath(dbPath string, sealer Sealer) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+filepath.ToSlash(dbPath)+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if sealer == nil {
		sealer = plainSealer{}
	}
	s := &Store{
		db:          db,
		sealer:      sealer,
		watchers:    make(map[int]chan struct{}),
		maintenance: DefaultWALCheckpointInterval,
		stop:        make(chan struct{}),
	}

	steps := []struct {
		what string
		run  func() error
	}{
		{"ping", db.Ping},
		{"configure connection", s.configure},
		{"migrate schema", s.migrate},
		{"recover interrupted sends", s.failInterrupted},
		{"checkpoint", s.checkpoint},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", step.what, err)
		}
	}

	s.loops.Add(1)
	go s.maintain()
	return s, nil
}

// Close stops background maintenance, ends every watch and closes the
// database. It is idempotent.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		s.loops.Wait()
		s.closeWatchers()
		err = s.db.Close()
	})
	return err
}

// SchemaVersion reports how many migrations the database has applied.
func (s *Store) SchemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) configure() error {
	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&mode); err != nil {
		return err
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("journal mode is %q, want wal", mode)
	}
	_, err := s.db.Exec("PRAGMA synchronous=NORMAL;")
	return err
}

func (s *Store) migrate() error {
	version, err := s.SchemaVersion()
	if err != nil {
		return err
	}
	if version >= len(schema) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for next := version; next < len(schema); next++ {
		step := schema[next]
		if _, err := tx.Exec(step.sql); err != nil {
			return fmt.Errorf("%q: %w", step.name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", next+1)); err != nil {
			return fmt.Errorf("%q: record version: %w", step.name, err)
		}
	}
	return tx.Commit()
}

// failInterrupted closes out sends that never completed because the process
// stopped while they were in flight.
func (s *Store) failInterrupted() error {
	_, err := s.db.Exec(
		`UPDATE messages SET status = ?, updated_at = ? WHERE from_me = 1 AND status = ?`,
		string(models.StatusFailed), nowUnixMilli(), string(models.StatusSending),
	)
	return err
}

func (s *Store) checkpoint() error {
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return err
}

func (s *Store) maintain() {
	defer s.loops.Done()
	if s.maintenance <= 0 {
		<-s.stop
		return
	}
	ticker := time.NewTicker(s.maintenance)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.checkpoint()
		}
	}
}
