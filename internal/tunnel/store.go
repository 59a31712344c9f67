package tunnel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// storedRecord is the on-disk shape of one slot. Field names match the
// original tunnel table format so existing files keep working. Name is
// a pointer so a missing key (→ default name) can be told apart from
// an explicitly stored empty string (→ honored as-is).
type storedRecord struct {
	Name    *string `json:"name"`
	Params  string  `json:"params"`
	Desc    string  `json:"desc"`
	SavedIP string  `json:"saved_ip"`
}

// Store persists the slot table to a single JSON document keyed by
// stringified slot index. It knows nothing about processes; run state
// is deliberately not part of the format.
type Store struct {
	path  string
	slots int
}

// NewStore returns a store backed by the given file path, sized for
// the given number of slots.
func NewStore(path string, slots int) *Store {
	return &Store{path: path, slots: slots}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the slot table from disk. A missing file is not an
// error: every slot comes back with default values. Slots missing
// from the file, and keys outside 0..slots-1, are ignored the same
// way.
func (s *Store) Load() ([]Record, error) {
	records := make([]Record, s.slots)
	for i := range records {
		records[i] = NewRecord(i)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return records, nil
		}
		return nil, fmt.Errorf("failed to read tunnel table: %w", err)
	}

	var stored map[string]storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse tunnel table: %w", err)
	}

	for key, sr := range stored {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= s.slots {
			continue
		}
		rec := &records[idx]
		if sr.Name != nil {
			rec.Name = *sr.Name
		}
		rec.LaunchCommand = sr.Params
		rec.Description = sr.Desc
		rec.LastEndpoint = sr.SavedIP
	}

	return records, nil
}

// Save writes the full slot table, overwriting the file. The table is
// single-writer by construction (only the daemon's control path ever
// saves), so a direct overwrite is sufficient. Non-ASCII text is
// written literally, not escaped.
func (s *Store) Save(records []Record) error {
	stored := make(map[string]storedRecord, len(records))
	for _, rec := range records {
		rec := rec
		stored[strconv.Itoa(rec.SlotIndex)] = storedRecord{
			Name:    &rec.Name,
			Params:  rec.LaunchCommand,
			Desc:    rec.Description,
			SavedIP: rec.LastEndpoint,
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stored); err != nil {
		return fmt.Errorf("failed to marshal tunnel table: %w", err)
	}

	if err := os.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write tunnel table: %w", err)
	}

	return nil
}
