package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath      string      `json:"db_path"`
	DBSizeBytes int64       `json:"db_size_bytes"`
	Bots        int         `json:"bots"`
	Memories    int         `json:"memories"`
	Secrets     int         `json:"secrets"`
	Types       []TypeStats `json:"types"`
	BotsByCount []BotStats  `json:"bots_by_memories"`
}

// TypeStats holds per-type memory counts.
type TypeStats struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// BotStats holds per-bot memory counts.
type BotStats struct {
	BotID string `json:"bot_id"`
	Count int    `json:"count"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	st := &Stats{DBPath: s.path}

	// DB file size
	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	counts := []struct {
		table string
		dst   *int
	}{
		{"bots", &st.Bots},
		{"memories", &st.Memories},
		{"secrets", &st.Secrets},
	}
	for _, c := range counts {
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(c.dst); err != nil {
			return nil, wrapErr("count "+c.table, err)
		}
	}

	rows, err := db.QueryContext(ctx, `
		SELECT type, COUNT(*) AS cnt FROM memories
		GROUP BY type ORDER BY cnt DESC, type`)
	if err != nil {
		return nil, wrapErr("stats by type", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ts TypeStats
		if err := rows.Scan(&ts.Type, &ts.Count); err != nil {
			return nil, wrapErr("stats by type", err)
		}
		st.Types = append(st.Types, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("stats by type", err)
	}
	rows.Close()

	rows, err = db.QueryContext(ctx, `
		SELECT bot_id, COUNT(*) AS cnt FROM memories
		GROUP BY bot_id ORDER BY cnt DESC, bot_id LIMIT 20`)
	if err != nil {
		return nil, wrapErr("stats by bot", err)
	}
	defer rows.Close()
	for rows.Next() {
		var bs BotStats
		if err := rows.Scan(&bs.BotID, &bs.Count); err != nil {
			return nil, wrapErr("stats by bot", err)
		}
		st.BotsByCount = append(st.BotsByCount, bs)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("stats by bot", err)
	}

	return st, nil
}
