package portforward

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists forwarding rules in a sqlite database so the table survives
// restarts. Counters are persisted too; they are best-effort and only written
// on rule mutation, not per packet.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the rule database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("portforward: open store: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS forward_rules (
  id INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  src_addr TEXT NOT NULL DEFAULT '',
  src_port INTEGER NOT NULL DEFAULT 0,
  dst_addr TEXT NOT NULL,
  dst_port INTEGER NOT NULL,
  protocol INTEGER NOT NULL DEFAULT 0,
  flags INTEGER NOT NULL DEFAULT 0,
  packets_forwarded INTEGER NOT NULL DEFAULT 0,
  bytes_forwarded INTEGER NOT NULL DEFAULT 0,
  last_activity INTEGER NOT NULL DEFAULT 0
);
`)
	if err != nil {
		return fmt.Errorf("portforward: migrate store: %w", err)
	}
	return nil
}

// Upsert writes one rule.
func (s *Store) Upsert(r Rule) error {
	_, err := s.db.Exec(`
INSERT INTO forward_rules
  (id, name, src_addr, src_port, dst_addr, dst_port, protocol, flags,
   packets_forwarded, bytes_forwarded, last_activity)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name=excluded.name, src_addr=excluded.src_addr, src_port=excluded.src_port,
  dst_addr=excluded.dst_addr, dst_port=excluded.dst_port,
  protocol=excluded.protocol, flags=excluded.flags,
  packets_forwarded=excluded.packets_forwarded,
  bytes_forwarded=excluded.bytes_forwarded,
  last_activity=excluded.last_activity;`,
		r.ID, r.Name, r.SrcAddr, r.SrcPort, r.DstAddr, r.DstPort,
		uint32(r.Protocol), r.Flags, r.PacketsForwarded, r.BytesForwarded, r.LastActivity)
	if err != nil {
		return fmt.Errorf("portforward: upsert rule %d: %w", r.ID, err)
	}
	return nil
}

// Delete removes one rule.
func (s *Store) Delete(id uint32) error {
	_, err := s.db.Exec("DELETE FROM forward_rules WHERE id=?;", id)
	if err != nil {
		return fmt.Errorf("portforward: delete rule %d: %w", id, err)
	}
	return nil
}

// LoadAll reads every persisted rule ordered by id.
func (s *Store) LoadAll() ([]Rule, error) {
	rows, err := s.db.Query(`
SELECT id, name, src_addr, src_port, dst_addr, dst_port, protocol, flags,
       packets_forwarded, bytes_forwarded, last_activity
FROM forward_rules ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("portforward: load rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Rule
	for rows.Next() {
		var r Rule
		var proto uint32
		if err := rows.Scan(&r.ID, &r.Name, &r.SrcAddr, &r.SrcPort, &r.DstAddr, &r.DstPort,
			&proto, &r.Flags, &r.PacketsForwarded, &r.BytesForwarded, &r.LastActivity); err != nil {
			return nil, fmt.Errorf("portforward: scan rule: %w", err)
		}
		r.Protocol = Protocol(proto)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("portforward: load rules: %w", err)
	}
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
