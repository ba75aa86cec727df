package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/mesh-intelligence/larder/internal/memstore"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// loadDatabase copies every record and counter from db into mem and returns
// the number of records loaded.
func loadDatabase(db *sql.DB, mem *memstore.Store) (int, error) {
	changes, err := loadRecords(db)
	if err != nil {
		return 0, err
	}
	if err := mem.Apply(changes); err != nil {
		return 0, err
	}
	seqs, err := loadSequences(db)
	if err != nil {
		return 0, err
	}
	for class, value := range seqs {
		mem.SeedAutoIncrement(class, value)
	}
	return len(changes), nil
}

// loadRecords returns an insert change for every stored record. The rows
// are closed before returning, which matters with a single connection.
func loadRecords(db *sql.DB) ([]types.Change, error) {
	rows, err := db.Query(`SELECT record_key, data FROM records ORDER BY class, record_key`)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var changes []types.Change
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		rec, err := decodeRecord([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", key, err)
		}
		changes = append(changes, types.Change{Op: types.OpInsert, Record: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}
	return changes, nil
}

func loadSequences(db *sql.DB) (map[string]int64, error) {
	rows, err := db.Query(`SELECT class, value FROM sequences`)
	if err != nil {
		return nil, fmt.Errorf("querying sequences: %w", err)
	}
	defer rows.Close()

	seqs := make(map[string]int64)
	for rows.Next() {
		var class string
		var value int64
		if err := rows.Scan(&class, &value); err != nil {
			return nil, fmt.Errorf("scanning sequence: %w", err)
		}
		seqs[class] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading sequences: %w", err)
	}
	return seqs, nil
}
