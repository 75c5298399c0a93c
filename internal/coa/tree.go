// Package coa indexes a chart of accounts as an arena keyed by id with
// parent and children indexes.
package coa

import (
	"fmt"
	"sort"
	"strings"

	"github.com/armonia-contable/armonia/internal/ledger"
)

// Tree is an immutable snapshot of one entity's chart of accounts.
type Tree struct {
	nodes    map[int64]ledger.Account
	byCode   map[string]int64
	children map[int64][]int64
	roots    []int64
}

// Build indexes accounts. Every parent reference must resolve inside the set.
func Build(accounts []ledger.Account) (*Tree, error) {
	t := &Tree{
		nodes:    make(map[int64]ledger.Account, len(accounts)),
		byCode:   make(map[string]int64, len(accounts)),
		children: make(map[int64][]int64),
	}
	for _, a := range accounts {
		t.nodes[a.ID] = a
		t.byCode[a.Code] = a.ID
	}
	for _, a := range accounts {
		if a.ParentID == nil {
			t.roots = append(t.roots, a.ID)
			continue
		}
		if _, ok := t.nodes[*a.ParentID]; !ok {
			return nil, fmt.Errorf("%w: account %s references missing parent %d", ledger.ErrInvalidAccountReference, a.Code, *a.ParentID)
		}
		t.children[*a.ParentID] = append(t.children[*a.ParentID], a.ID)
	}
	byCode := func(ids []int64) {
		sort.Slice(ids, func(i, j int) bool { return t.nodes[ids[i]].Code < t.nodes[ids[j]].Code })
	}
	byCode(t.roots)
	for _, ids := range t.children {
		byCode(ids)
	}
	return t, nil
}

// Len returns the number of accounts.
func (t *Tree) Len() int { return len(t.nodes) }

// Get returns the account by id.
func (t *Tree) Get(id int64) (ledger.Account, bool) {
	a, ok := t.nodes[id]
	return a, ok
}

// ByCode returns the account by code.
func (t *Tree) ByCode(code string) (ledger.Account, bool) {
	id, ok := t.byCode[code]
	if !ok {
		return ledger.Account{}, false
	}
	return t.nodes[id], true
}

// Roots returns the level 1 accounts ordered by code.
func (t *Tree) Roots() []ledger.Account {
	return t.collect(t.roots)
}

// Children returns the direct children ordered by code.
func (t *Tree) Children(id int64) []ledger.Account {
	return t.collect(t.children[id])
}

// Parent returns the parent account, if any.
func (t *Tree) Parent(id int64) (ledger.Account, bool) {
	a, ok := t.nodes[id]
	if !ok || a.ParentID == nil {
		return ledger.Account{}, false
	}
	return t.Get(*a.ParentID)
}

// Leaves returns the ids of leaf accounts under id, including id itself
// when it is a leaf.
func (t *Tree) Leaves(id int64) []int64 {
	var out []int64
	t.walk(id, func(a ledger.Account) {
		if a.IsLeaf {
			out = append(out, a.ID)
		}
	})
	return out
}

// Descendants returns every account below id in depth-first code order.
func (t *Tree) Descendants(id int64) []ledger.Account {
	var out []ledger.Account
	t.walk(id, func(a ledger.Account) {
		if a.ID != id {
			out = append(out, a)
		}
	})
	return out
}

// Path returns the chain from the root down to id.
func (t *Tree) Path(id int64) []ledger.Account {
	var out []ledger.Account
	for current, ok := t.nodes[id]; ok; {
		out = append([]ledger.Account{current}, out...)
		if current.ParentID == nil {
			break
		}
		current, ok = t.nodes[*current.ParentID]
	}
	return out
}

// LeavesOfKind returns every leaf account of the given kinds.
func (t *Tree) LeavesOfKind(kinds ...ledger.AccountKind) []ledger.Account {
	var out []ledger.Account
	for _, a := range t.nodes {
		if !a.IsLeaf {
			continue
		}
		for _, k := range kinds {
			if a.Kind == k {
				out = append(out, a)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// TopCode returns the level 1 segment of a code.
func TopCode(code string) string {
	if idx := strings.IndexByte(code, '.'); idx >= 0 {
		return code[:idx]
	}
	return code
}

func (t *Tree) walk(id int64, visit func(ledger.Account)) {
	a, ok := t.nodes[id]
	if !ok {
		return
	}
	visit(a)
	for _, child := range t.children[id] {
		t.walk(child, visit)
	}
}

func (t *Tree) collect(ids []int64) []ledger.Account {
	out := make([]ledger.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.nodes[id])
	}
	return out
}
