// Package whitelist loads the API key list that authorizes memory API
// callers. Each non-blank line is "name,key" or just "key"; lines starting
// with # are comments. A key-only line uses the key as the name.
package whitelist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Entry is one authorized bot.
type Entry struct {
	Name string `json:"name"`
	Key  string `json:"-"`
}

// List is an immutable set of entries.
type List struct {
	entries []Entry
	byKey   map[string]Entry
}

// Parse reads a whitelist. Later lines win when a key repeats.
func Parse(r io.Reader) (*List, error) {
	l := &List{byKey: map[string]Entry{}}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var e Entry
		if name, key, ok := strings.Cut(line, ","); ok {
			e = Entry{Name: strings.TrimSpace(name), Key: strings.TrimSpace(key)}
		} else {
			e = Entry{Name: line, Key: line}
		}
		if e.Key == "" {
			continue
		}
		if e.Name == "" {
			e.Name = e.Key
		}
		if _, dup := l.byKey[e.Key]; !dup {
			l.entries = append(l.entries, e)
		} else {
			for i := range l.entries {
				if l.entries[i].Key == e.Key {
					l.entries[i] = e
				}
			}
		}
		l.byKey[e.Key] = e
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read whitelist: %w", err)
	}
	return l, nil
}

// Load reads the whitelist file at path. On error it still returns an empty
// list so callers can log and keep serving with every key rejected.
func Load(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return Empty(), fmt.Errorf("open whitelist: %w", err)
	}
	defer f.Close()

	l, err := Parse(f)
	if err != nil {
		return Empty(), err
	}
	return l, nil
}

// Empty returns a list that authorizes nobody.
func Empty() *List {
	return &List{byKey: map[string]Entry{}}
}

// Lookup returns the bot name for an API key.
func (l *List) Lookup(key string) (string, bool) {
	e, ok := l.byKey[key]
	return e.Name, ok
}

// Entries returns the entries in file order.
func (l *List) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of distinct keys.
func (l *List) Len() int { return len(l.entries) }
