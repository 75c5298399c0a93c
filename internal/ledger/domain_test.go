package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSortScopesDeduplicates(t *testing.T) {
	got := SortScopes([]Scope{{EntityID: 2, Year: 2025}, {EntityID: 1, Year: 2026}, {EntityID: 1, Year: 2025}, {EntityID: 2, Year: 2025}})
	require.Equal(t, []Scope{{EntityID: 1, Year: 2025}, {EntityID: 1, Year: 2026}, {EntityID: 2, Year: 2025}}, got)
}

func TestSortScopesPutsCatalogFirst(t *testing.T) {
	got := SortScopes([]Scope{{EntityID: 1, Year: 2025}, CatalogScope(1)})
	require.Equal(t, []Scope{CatalogScope(1), {EntityID: 1, Year: 2025}}, got)
}
