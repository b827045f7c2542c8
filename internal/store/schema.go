package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type columnKind int

const (
	textColumn columnKind = iota
	timeColumn
)

// column is an index column copied out of the JSON value at write time.
type column struct {
	name  string
	field string
	kind  columnKind
}

type collectionDef struct {
	table    string
	keyField string
	columns  []column
	indexes  map[Index][]string
}

var collections = map[Collection]collectionDef{
	Bots: {
		table:    "bots",
		keyField: "id",
		columns:  []column{{name: "updated_at", field: "updatedAt", kind: timeColumn}},
		indexes:  map[Index][]string{ByUpdatedAt: {"updated_at"}},
	},
	Memories: {
		table:    "memories",
		keyField: "id",
		columns: []column{
			{name: "bot_id", field: "botId", kind: textColumn},
			{name: "type", field: "type", kind: textColumn},
		},
		indexes: map[Index][]string{ByBotType: {"bot_id", "type"}},
	},
	Secrets: {
		table:    "secrets",
		keyField: "botId",
	},
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS bots (
		id          TEXT PRIMARY KEY,
		updated_at  TEXT NOT NULL DEFAULT '',
		data        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bots_updated ON bots(updated_at);

	CREATE TABLE IF NOT EXISTS memories (
		id          TEXT PRIMARY KEY,
		bot_id      TEXT NOT NULL DEFAULT '',
		type        TEXT NOT NULL DEFAULT '',
		data        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_bot_type ON memories(bot_id, type);

	CREATE TABLE IF NOT EXISTS secrets (
		id          TEXT PRIMARY KEY,
		data        TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key         TEXT PRIMARY KEY,
		value       TEXT NOT NULL
	);
`

func lookup(c Collection) (collectionDef, error) {
	def, ok := collections[c]
	if !ok {
		return collectionDef{}, fmt.Errorf("%w: %s", ErrUnknownCollection, c)
	}
	return def, nil
}

// extract validates rec and returns the index column values in column order.
func (d collectionDef) extract(rec Record) ([]any, error) {
	if rec.Key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidRecord)
	}
	var fields map[string]any
	if err := json.Unmarshal(rec.Value, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: %s/%s value is not a JSON object", ErrInvalidRecord, d.table, rec.Key)
	}
	if k, ok := fields[d.keyField].(string); ok && k != rec.Key {
		return nil, fmt.Errorf("%w: key %q does not match %s %q", ErrInvalidRecord, rec.Key, d.keyField, k)
	}

	vals := make([]any, len(d.columns))
	for i, col := range d.columns {
		v, err := col.value(fields[col.field])
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidRecord, d.table, col.field, err)
		}
		vals[i] = v
	}
	return vals, nil
}

func (c column) value(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		if c.kind == timeColumn && x != "" {
			t, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return "", err
			}
			return TimeKey(t), nil
		}
		return x, nil
	case time.Time:
		if c.kind == timeColumn {
			return TimeKey(x), nil
		}
		return x.Format(time.RFC3339Nano), nil
	case float64:
		return fmt.Sprint(x), nil
	case bool:
		return fmt.Sprint(x), nil
	}
	return "", fmt.Errorf("unsupported index value %T", v)
}

// where builds the filter for r over the index columns cols.
func (d collectionDef) where(cols []string, r KeyRange) (string, []any, error) {
	byName := map[string]column{}
	for _, c := range d.columns {
		byName[c.name] = c
	}
	conv := func(vals []any) ([]any, error) {
		if len(vals) > len(cols) {
			return nil, fmt.Errorf("range has %d values, index has %d columns", len(vals), len(cols))
		}
		out := make([]any, len(vals))
		for i, v := range vals {
			s, err := byName[cols[i]].value(v)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	}

	var clauses []string
	var args []any

	if r.only != nil {
		vals, err := conv(r.only)
		if err != nil {
			return "", nil, err
		}
		for i, v := range vals {
			clauses = append(clauses, cols[i]+" = ?")
			args = append(args, v)
		}
	}
	if len(r.lower) > 0 {
		vals, err := conv(r.lower)
		if err != nil {
			return "", nil, err
		}
		op := ">="
		if r.lowerOpen {
			op = ">"
		}
		clauses = append(clauses, tuple(cols[:len(vals)])+" "+op+" "+placeholders(len(vals)))
		args = append(args, vals...)
	}
	if len(r.upper) > 0 {
		vals, err := conv(r.upper)
		if err != nil {
			return "", nil, err
		}
		op := "<="
		if r.upperOpen {
			op = "<"
		}
		clauses = append(clauses, tuple(cols[:len(vals)])+" "+op+" "+placeholders(len(vals)))
		args = append(args, vals...)
	}

	if len(clauses) == 0 {
		return "1 = 1", nil, nil
	}
	return strings.Join(clauses, " AND "), args, nil
}

func tuple(cols []string) string {
	if len(cols) == 1 {
		return cols[0]
	}
	return "(" + strings.Join(cols, ", ") + ")"
}

func placeholders(n int) string {
	if n == 1 {
		return "?"
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}
