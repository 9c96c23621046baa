package spatial

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrIncompatibleLayout is returned when a persisted tree was written with a
// different layout version or branching factor.
var ErrIncompatibleLayout = errors.New("incompatible spatial tree layout")

// document is the persisted form of a Tree. The node layout is stored as is,
// so decoding never rebalances or re-inserts.
type document struct {
	Version    int   `json:"version"`
	MaxEntries int   `json:"maxEntries"`
	Size       int   `json:"size"`
	Root       *node `json:"root"`
}

// MarshalJSON encodes the tree together with its layout version.
func (t *Tree) MarshalJSON() ([]byte, error) {
	root := t.root
	if root == nil {
		root = newLeaf()
	}
	return json.Marshal(document{
		Version:    Version,
		MaxEntries: MaxEntries,
		Size:       t.size,
		Root:       root,
	})
}

// UnmarshalJSON restores a tree written by MarshalJSON.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding spatial tree: %w", err)
	}
	if doc.Version != Version || doc.MaxEntries != MaxEntries {
		return fmt.Errorf("%w: got version %d with %d entries per node, want version %d with %d",
			ErrIncompatibleLayout, doc.Version, doc.MaxEntries, Version, MaxEntries)
	}
	if doc.Root == nil {
		doc.Root = newLeaf()
	}
	if doc.Size < 0 {
		return fmt.Errorf("decoding spatial tree: negative size %d", doc.Size)
	}
	t.root = doc.Root
	t.size = doc.Size
	return nil
}
