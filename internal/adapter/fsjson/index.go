package fsjson

import (
	"errors"
	"io/fs"
	"time"
)

// indexEntry records the storage metadata of one entity so existence and
// listing queries never deserialize the full document.
type indexEntry struct {
	File      string    `json:"file"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// index is the per (plan, kind) id catalogue, persisted as index.json in the
// entity directory.
type index struct {
	Entries map[string]indexEntry `json:"entries"`
}

func newIndex() *index {
	return &index{Entries: make(map[string]indexEntry)}
}

func (ix *index) clone() *index {
	cp := newIndex()
	for id, e := range ix.Entries {
		cp.Entries[id] = e
	}
	return cp
}

// loadIndex reads the index file, returning an empty index when the file
// does not exist yet.
func loadIndex(path string) (*index, error) {
	ix := newIndex()
	if err := readJSON(path, ix); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newIndex(), nil
		}
		return nil, err
	}
	if ix.Entries == nil {
		ix.Entries = make(map[string]indexEntry)
	}
	return ix, nil
}

// saveIndex commits the index through the atomic writer.
func saveIndex(path string, ix *index) error {
	return writeJSON(path, ix)
}
