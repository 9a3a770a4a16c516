package market

import (
	"strings"
	"sync"
	"unicode"

	"github.com/tidwall/btree"
)

// NameIndex resolves loosely typed item names to item keys.
type NameIndex struct {
	mu   sync.RWMutex
	tree *btree.Map[string, string]
}

func NewNameIndex() *NameIndex {
	return &NameIndex{tree: btree.NewMap[string, string](0)}
}

// Normalize lowercases name and drops all whitespace.
func Normalize(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if unicode.IsSpace(r) {
			continue
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

// Add registers name for item. A later Add of the same normalized name wins.
func (x *NameIndex) Add(name, item string) {
	x.mu.Lock()
	x.tree.Set(Normalize(name), item)
	x.mu.Unlock()
}

func (x *NameIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.Len()
}

// Lookup returns the item of the first name (in sorted order) containing
// input. Failing that it returns the nearest name at or after input, and
// past the end of the index the last name. ok is false only for an empty index.
func (x *NameIndex) Lookup(input string) (item string, ok bool) {
	q := Normalize(input)
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.tree.Len() == 0 {
		return "", false
	}

	x.tree.Scan(func(name, it string) bool {
		if strings.Contains(name, q) {
			item, ok = it, true
			return false
		}
		return true
	})
	if ok {
		return item, true
	}

	x.tree.Ascend(q, func(_, it string) bool {
		item, ok = it, true
		return false
	})
	if ok {
		return item, true
	}
	_, item, ok = x.tree.Max()
	return item, ok
}
