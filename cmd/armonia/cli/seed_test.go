package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armonia-contable/armonia/internal/catalog"
	"github.com/armonia-contable/armonia/internal/closing"
	"github.com/armonia-contable/armonia/internal/conversion"
	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/ledger/memory"
	"github.com/armonia-contable/armonia/internal/notify"
	"github.com/armonia-contable/armonia/internal/shared"
)

type seedHarness struct {
	store  *memory.Store
	matrix *conversion.Matrix
	seeder *SeedCLI
}

func newSeedHarness(t *testing.T) seedHarness {
	t.Helper()
	store := memory.NewStore()
	audit := &shared.AuditBuffer{}
	matrix := conversion.NewMatrix(store, audit, nil)
	seeder, err := NewSeedCLI(catalog.NewService(store, audit, nil), matrix, closing.NewService(store, audit, notify.Nop{}, nil), 1)
	require.NoError(t, err)
	return seedHarness{store: store, matrix: matrix, seeder: seeder}
}

func TestSeedCommandLoadsChart(t *testing.T) {
	h := newSeedHarness(t)
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := h.seeder.SeedCommand(context.Background(), SeedOptions{
		Path:       filepath.Join("..", "..", "..", "deploy", "seed", "chart.yml"),
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Equal(t, 0, code, stderr.String())

	var summary SeedSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, int64(1), summary.EntityID)
	require.Equal(t, 33, summary.Accounts)
	require.Equal(t, 3, summary.Classifiers)
	require.Equal(t, 9, summary.Rules)
	require.Equal(t, 2, summary.Years)

	rules, err := h.matrix.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rules, 9)

	err = h.store.WithReadTx(context.Background(), []ledger.Scope{{EntityID: 1, Year: 2025}}, func(ctx context.Context, tx ledger.TxRepository) error {
		fy, err := tx.GetFiscalYear(ctx, ledger.Scope{EntityID: 1, Year: 2025})
		require.NoError(t, err)
		require.Len(t, fy.Periods, ledger.PeriodsPerYear)
		return nil
	})
	require.NoError(t, err)
}

func TestSeedOrdersAccountsByDepth(t *testing.T) {
	h := newSeedHarness(t)
	chart, err := LoadChart(strings.NewReader(`
entity_id: 2
accounts:
  - {code: "1.1", name: Circulante, kind: activo, nature: deudora}
  - {code: "1", name: Activo, kind: activo, nature: deudora}
`))
	require.NoError(t, err)
	summary, err := h.seeder.Apply(context.Background(), chart)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Accounts)
}

func TestSeedFailures(t *testing.T) {
	_, err := LoadChart(strings.NewReader("entity_id: 0\n"))
	require.Error(t, err)
	_, err = LoadChart(strings.NewReader("entity_id: 1\nunknown: true\n"))
	require.Error(t, err)

	h := newSeedHarness(t)
	chart := Chart{
		EntityID:    1,
		Classifiers: []ClassifierSeed{{Type: "COG", Code: "1100", Name: "Remuneraciones", Parent: "1000"}},
	}
	_, err = h.seeder.Apply(context.Background(), chart)
	require.ErrorContains(t, err, "must be listed first")

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
entity_id: 1
accounts:
  - {code: "1.1", name: Huérfana, kind: activo, nature: deudora}
`), 0o600))
	stderr := new(bytes.Buffer)
	code := h.seeder.SeedCommand(context.Background(), SeedOptions{Path: path, Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "InvalidAccountReference")

	code = h.seeder.SeedCommand(context.Background(), SeedOptions{Path: filepath.Join(dir, "missing.yml"), Stderr: new(bytes.Buffer)})
	require.Equal(t, 1, code)
}
