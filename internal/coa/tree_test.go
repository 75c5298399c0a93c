package coa

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armonia-contable/armonia/internal/ledger"
)

func ptr(v int64) *int64 { return &v }

func sampleChart() []ledger.Account {
	return []ledger.Account{
		{ID: 1, EntityID: 1, Code: "1", Level: 1, Kind: ledger.AccountKindAsset, Nature: ledger.NatureDebit},
		{ID: 2, EntityID: 1, Code: "1.1", Level: 2, Kind: ledger.AccountKindAsset, Nature: ledger.NatureDebit, ParentID: ptr(1)},
		{ID: 3, EntityID: 1, Code: "1.1.2", Level: 3, Kind: ledger.AccountKindAsset, Nature: ledger.NatureDebit, ParentID: ptr(2), IsLeaf: true},
		{ID: 4, EntityID: 1, Code: "1.1.1", Level: 3, Kind: ledger.AccountKindAsset, Nature: ledger.NatureDebit, ParentID: ptr(2), IsLeaf: true},
		{ID: 5, EntityID: 1, Code: "5", Level: 1, Kind: ledger.AccountKindExpense, Nature: ledger.NatureDebit, IsLeaf: true},
	}
}

func TestTreeIndexes(t *testing.T) {
	tree, err := Build(sampleChart())
	require.NoError(t, err)
	require.Equal(t, 5, tree.Len())

	children := tree.Children(2)
	require.Len(t, children, 2)
	require.Equal(t, "1.1.1", children[0].Code)

	require.ElementsMatch(t, []int64{3, 4}, tree.Leaves(1))
	require.Equal(t, []int64{5}, tree.Leaves(5))
	require.Len(t, tree.Descendants(1), 3)

	parent, ok := tree.Parent(3)
	require.True(t, ok)
	require.Equal(t, "1.1", parent.Code)

	path := tree.Path(3)
	require.Equal(t, []string{"1", "1.1", "1.1.2"}, []string{path[0].Code, path[1].Code, path[2].Code})

	a, ok := tree.ByCode("5")
	require.True(t, ok)
	require.Equal(t, int64(5), a.ID)

	require.Len(t, tree.LeavesOfKind(ledger.AccountKindExpense), 1)
	require.Equal(t, "1", TopCode("1.1.2"))
}

func TestBuildRejectsDanglingParent(t *testing.T) {
	_, err := Build([]ledger.Account{{ID: 2, Code: "1.1", ParentID: ptr(99)}})
	require.ErrorIs(t, err, ledger.ErrInvalidAccountReference)
}

func TestValidateAccount(t *testing.T) {
	parent := ledger.Account{ID: 2, EntityID: 1, Code: "1.1", Level: 2, Kind: ledger.AccountKindAsset, Nature: ledger.NatureDebit}
	ok := ledger.Account{EntityID: 1, Code: "1.1.3", Name: "Bancos", Level: 3, Kind: ledger.AccountKindAsset, Nature: ledger.NatureDebit}
	require.NoError(t, ValidateAccount(ok, &parent))

	cases := map[string]struct {
		account ledger.Account
		parent  *ledger.Account
		want    error
	}{
		"bad level":    {account: withLevel(ok, 2), parent: &parent, want: ledger.ErrInvalidInput},
		"wrong parent": {account: withCode(ok, "1.2.3"), parent: &parent, want: ledger.ErrInvalidAccountReference},
		"missing root": {account: ok, parent: nil, want: ledger.ErrInvalidAccountReference},
		"too deep":     {account: withLevel(withCode(ok, "1.1.1.1.1.1"), 6), parent: nil, want: ledger.ErrInvalidInput},
		"non numeric":  {account: withCode(ok, "1.a"), parent: &parent, want: ledger.ErrInvalidInput},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, ValidateAccount(tc.account, tc.parent), tc.want)
		})
	}
}

func withLevel(a ledger.Account, level int) ledger.Account {
	a.Level = level
	return a
}

func withCode(a ledger.Account, code string) ledger.Account {
	a.Code = code
	return a
}
