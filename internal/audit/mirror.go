package audit

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// mirrorRow is the GORM model backing the optional durable SQLite mirror of
// the audit log. The in-memory Log above is the source of truth for a
// running process (§5: readers always get a snapshot, never a torn record);
// the mirror keeps a durable copy of a run's tool-call history that outlives
// the process, the same way the teacher persists StateTransition history for
// its WebSocket/audit consumers. No lopen command reads the mirror back.
type mirrorRow struct {
	ID           string `gorm:"primaryKey"`
	IterationID  string `gorm:"index"`
	ToolName     string
	ArgumentsJSON string
	Timestamp    time.Time
	DurationNs   int64
	Outcome      string
	ErrorMessage string
}

func (mirrorRow) TableName() string { return "audit_records" }

// SQLiteMirror persists audit records to an embedded SQLite database. It
// uses the pure-Go glebarez/sqlite dialector (wrapping modernc.org/sqlite)
// so the CLI needs no cgo toolchain, matching a single-operator tool rather
// than the teacher's server deployment.
type SQLiteMirror struct {
	db *gorm.DB
}

// OpenSQLiteMirror opens (creating if necessary) the mirror database at
// path and ensures its schema exists.
func OpenSQLiteMirror(path string) (*SQLiteMirror, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&mirrorRow{}); err != nil {
		return nil, err
	}
	return &SQLiteMirror{db: db}, nil
}

// Mirror appends rec to the durable store and returns any write error.
// Log.Append discards that error, so a failure never blocks the in-memory
// log: the mirror is a best-effort observability sink, not the audit log's
// source of truth.
func (m *SQLiteMirror) Mirror(rec Record, argumentsJSON string) error {
	row := mirrorRow{
		ID:            rec.ID,
		IterationID:   rec.IterationID,
		ToolName:      rec.ToolName,
		ArgumentsJSON: argumentsJSON,
		Timestamp:     rec.Timestamp,
		DurationNs:    rec.Duration.Nanoseconds(),
		Outcome:       string(rec.Outcome),
		ErrorMessage:  rec.ErrorMessage,
	}
	return m.db.Create(&row).Error
}

// Close releases the underlying database connection.
func (m *SQLiteMirror) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
