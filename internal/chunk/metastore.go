package chunk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// jsonMeta is the on-disk sidecar representation of Meta. It is kept
// separate from Meta so the in-memory struct can evolve (e.g. gain
// unexported bookkeeping fields) without silently changing the wire
// format.
type jsonMeta struct {
	ID        string `json:"id"`
	Branch    string `json:"branch"`
	ValidFrom uint64 `json:"validFrom"`
	ValidTo   uint64 `json:"validTo"`
	Sealed    bool   `json:"sealed"`
	RowCount  int64  `json:"rowCount"`
	DiskBytes int64  `json:"diskBytes"`
	CreatedAt int64  `json:"createdAt"`
}

func toJSONMeta(m Meta) jsonMeta {
	return jsonMeta{
		ID:        m.ID.String(),
		Branch:    m.Branch,
		ValidFrom: m.ValidFrom,
		ValidTo:   m.ValidTo,
		Sealed:    m.Sealed,
		RowCount:  m.RowCount,
		DiskBytes: m.DiskBytes,
		CreatedAt: m.CreatedAt,
	}
}

func (j jsonMeta) toMeta() (Meta, error) {
	id, err := ParseID(j.ID)
	if err != nil {
		return Meta{}, err
	}
	return Meta{
		ID:        id,
		Branch:    j.Branch,
		ValidFrom: j.ValidFrom,
		ValidTo:   j.ValidTo,
		Sealed:    j.Sealed,
		RowCount:  j.RowCount,
		DiskBytes: j.DiskBytes,
		CreatedAt: j.CreatedAt,
	}, nil
}

func metaPath(branchDir string, id ID) string {
	return filepath.Join(branchDir, id.String()+".meta.json")
}

// SaveMeta persists a chunk's metadata via a temp-file-then-rename: a
// half-written sidecar is never observable because rename is atomic on
// the same filesystem.
func SaveMeta(branchDir string, m Meta) error {
	data, err := json.Marshal(toJSONMeta(m))
	if err != nil {
		return fmt.Errorf("chunk: encode meta: %w", err)
	}
	target := metaPath(branchDir, m.ID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("chunk: write meta tmp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("chunk: rename meta: %w", err)
	}
	return nil
}

// LoadMeta reads back a chunk's persisted metadata.
func LoadMeta(branchDir string, id ID) (Meta, error) {
	data, err := os.ReadFile(metaPath(branchDir, id))
	if err != nil {
		return Meta{}, fmt.Errorf("chunk: read meta: %w", err)
	}
	var j jsonMeta
	if err := json.Unmarshal(data, &j); err != nil {
		return Meta{}, fmt.Errorf("chunk: decode meta: %w", err)
	}
	return j.toMeta()
}

// ListMeta loads every chunk's metadata within a branch directory, in no
// particular order; callers sort by ValidFrom as needed.
func ListMeta(branchDir string) ([]Meta, error) {
	entries, err := os.ReadDir(branchDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("chunk: list meta dir %s: %w", branchDir, err)
	}
	var out []Meta
	for _, e := range entries {
		name := e.Name()
		const suffix = ".meta.json"
		if e.IsDir() || len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		idStr := name[:len(name)-len(suffix)]
		id, err := ParseID(idStr)
		if err != nil {
			continue
		}
		m, err := LoadMeta(branchDir, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
