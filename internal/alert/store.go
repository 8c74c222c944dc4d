package alert

import (
	"context"
	"database/sql"
	"time"

	"github.com/agent-sre/control-plane/internal/utils"
	_ "modernc.org/sqlite"
)

// Store persists a durable delivery log so alert history survives process
// restarts, independent of whatever in-memory dedup/batch state is live.
// Backed by modernc.org/sqlite, a pure-Go driver that needs no cgo
// toolchain on the runner.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS delivery_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	incident_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	severity INTEGER NOT NULL,
	channel TEXT NOT NULL,
	suppressed INTEGER NOT NULL,
	rate_limited INTEGER NOT NULL,
	error TEXT,
	delivered_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_delivery_log_incident ON delivery_log(incident_id);
`

// Open opens (creating if absent) a sqlite-backed Store at path. Use
// ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, utils.NewAppError("alert.Open", utils.KindInvalidConfig, "open sqlite store", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, utils.NewAppError("alert.Open", utils.KindInvalidConfig, "migrate sqlite schema", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record appends one delivery result to the log.
func (s *Store) Record(ctx context.Context, n Notification, channel string, res DeliveryResult, at time.Time) error {
	var errMsg *string
	if res.Err != nil {
		msg := res.Err.Error()
		errMsg = &msg
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_log (incident_id, agent_id, severity, channel, suppressed, rate_limited, error, delivered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.IncidentID, n.AgentID, int(n.Severity), channel, boolToInt(res.Suppressed), boolToInt(res.RateLimited), errMsg, at,
	)
	if err != nil {
		return utils.NewAppError("alert.Store.Record", utils.KindDeliveryFailed, "insert delivery log row", err)
	}
	return nil
}

// HistoryEntry is one row read back from the delivery log.
type HistoryEntry struct {
	IncidentID  string
	AgentID     string
	Severity    int
	Channel     string
	Suppressed  bool
	RateLimited bool
	Error       string
	DeliveredAt time.Time
}

// History returns the delivery log rows for incidentID, most recent first.
func (s *Store) History(ctx context.Context, incidentID string) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT incident_id, agent_id, severity, channel, suppressed, rate_limited, COALESCE(error, ''), delivered_at
		 FROM delivery_log WHERE incident_id = ? ORDER BY delivered_at DESC`, incidentID)
	if err != nil {
		return nil, utils.NewAppError("alert.Store.History", utils.KindDeliveryFailed, "query delivery log", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			h             HistoryEntry
			suppressed    int
			rateLimited   int
		)
		if err := rows.Scan(&h.IncidentID, &h.AgentID, &h.Severity, &h.Channel, &suppressed, &rateLimited, &h.Error, &h.DeliveredAt); err != nil {
			return nil, utils.NewAppError("alert.Store.History", utils.KindDeliveryFailed, "scan delivery log row", err)
		}
		h.Suppressed = suppressed != 0
		h.RateLimited = rateLimited != 0
		out = append(out, h)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
