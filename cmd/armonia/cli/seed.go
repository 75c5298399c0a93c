package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/armonia-contable/armonia/internal/catalog"
	"github.com/armonia-contable/armonia/internal/conversion"
	"github.com/armonia-contable/armonia/internal/ledger"
)

// Chart is a seed document loading the catalogs of one entity.
type Chart struct {
	EntityID    int64            `yaml:"entity_id"`
	Years       []int            `yaml:"years"`
	Accounts    []AccountSeed    `yaml:"accounts"`
	Classifiers []ClassifierSeed `yaml:"classifiers"`
	Rules       []RuleSeed       `yaml:"rules"`
}

// AccountSeed is one chart of accounts node.
type AccountSeed struct {
	Code   string `yaml:"code"`
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Nature string `yaml:"nature"`
}

// ClassifierSeed is one classifier node; Parent is the code of a node of
// the same type.
type ClassifierSeed struct {
	Type   string `yaml:"type"`
	Code   string `yaml:"code"`
	Name   string `yaml:"name"`
	Parent string `yaml:"parent"`
}

// RuleSeed references its classifier and accounts by code.
type RuleSeed struct {
	Type       string `yaml:"type"`
	Classifier string `yaml:"classifier"`
	Moment     string `yaml:"moment"`
	Debit      string `yaml:"debit"`
	Credit     string `yaml:"credit"`
}

// LoadChart decodes a seed document.
func LoadChart(r io.Reader) (Chart, error) {
	var chart Chart
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&chart); err != nil {
		return Chart{}, fmt.Errorf("seed: decode chart: %w", err)
	}
	if chart.EntityID <= 0 {
		return Chart{}, errors.New("seed: entity_id must be positive")
	}
	return chart, nil
}

// CatalogPort is implemented by *catalog.Service.
type CatalogPort interface {
	CreateAccount(ctx context.Context, input catalog.AccountInput) (ledger.Account, error)
	CreateClassifier(ctx context.Context, input catalog.ClassifierInput) (ledger.Classifier, error)
}

// RulePort is implemented by *conversion.Matrix.
type RulePort interface {
	Register(ctx context.Context, input conversion.RuleInput) (ledger.ConversionRule, error)
}

// CalendarPort is implemented by *closing.Service.
type CalendarPort interface {
	CreateFiscalYear(ctx context.Context, actorID, entityID int64, year int) (ledger.FiscalYear, error)
}

// SeedCLI loads seed documents through the catalog services so every node
// passes the same validation as API writes.
type SeedCLI struct {
	catalog  CatalogPort
	rules    RulePort
	calendar CalendarPort
	actorID  int64
}

// NewSeedCLI constructs the seeder. actorID is recorded in the audit trail.
func NewSeedCLI(catalog CatalogPort, rules RulePort, calendar CalendarPort, actorID int64) (*SeedCLI, error) {
	if catalog == nil || rules == nil || calendar == nil {
		return nil, errors.New("seed: catalog, rules and calendar are required")
	}
	return &SeedCLI{catalog: catalog, rules: rules, calendar: calendar, actorID: actorID}, nil
}

// SeedSummary counts the records created by Apply.
type SeedSummary struct {
	EntityID    int64 `json:"entity_id"`
	Accounts    int   `json:"accounts"`
	Classifiers int   `json:"classifiers"`
	Rules       int   `json:"rules"`
	Years       int   `json:"years"`
}

// Apply creates the accounts (parents first), classifiers, rules and
// fiscal years of the chart. It stops at the first failure; records
// created before it are kept.
func (c *SeedCLI) Apply(ctx context.Context, chart Chart) (SeedSummary, error) {
	summary := SeedSummary{EntityID: chart.EntityID}

	accounts := append([]AccountSeed(nil), chart.Accounts...)
	sort.SliceStable(accounts, func(i, j int) bool {
		return strings.Count(accounts[i].Code, ".") < strings.Count(accounts[j].Code, ".")
	})
	accountIDs := make(map[string]int64, len(accounts))
	for _, a := range accounts {
		created, err := c.catalog.CreateAccount(ctx, catalog.AccountInput{
			EntityID: chart.EntityID,
			Code:     a.Code,
			Name:     a.Name,
			Kind:     ledger.AccountKind(a.Kind),
			Nature:   ledger.Nature(a.Nature),
			ActorID:  c.actorID,
		})
		if err != nil {
			return summary, fmt.Errorf("account %s: %w", a.Code, err)
		}
		accountIDs[a.Code] = created.ID
		summary.Accounts++
	}

	classifierIDs := make(map[string]int64, len(chart.Classifiers))
	for _, cl := range chart.Classifiers {
		input := catalog.ClassifierInput{
			EntityID: chart.EntityID,
			Type:     ledger.ClassifierType(cl.Type),
			Code:     cl.Code,
			Name:     cl.Name,
			ActorID:  c.actorID,
		}
		if cl.Parent != "" {
			parentID, ok := classifierIDs[classifierKey(cl.Type, cl.Parent)]
			if !ok {
				return summary, fmt.Errorf("classifier %s %s: parent %s must be listed first", cl.Type, cl.Code, cl.Parent)
			}
			input.ParentID = &parentID
		}
		created, err := c.catalog.CreateClassifier(ctx, input)
		if err != nil {
			return summary, fmt.Errorf("classifier %s %s: %w", cl.Type, cl.Code, err)
		}
		classifierIDs[classifierKey(cl.Type, cl.Code)] = created.ID
		summary.Classifiers++
	}

	for _, r := range chart.Rules {
		classifierID, ok := classifierIDs[classifierKey(r.Type, r.Classifier)]
		if !ok {
			return summary, fmt.Errorf("rule %s/%s: unknown classifier", r.Classifier, r.Moment)
		}
		debit, okDebit := accountIDs[r.Debit]
		credit, okCredit := accountIDs[r.Credit]
		if !okDebit || !okCredit {
			return summary, fmt.Errorf("rule %s/%s: unknown account %s or %s", r.Classifier, r.Moment, r.Debit, r.Credit)
		}
		if _, err := c.rules.Register(ctx, conversion.RuleInput{
			EntityID:        chart.EntityID,
			ClassifierID:    classifierID,
			Moment:          ledger.Moment(r.Moment),
			DebitAccountID:  debit,
			CreditAccountID: credit,
			ActorID:         c.actorID,
		}); err != nil {
			return summary, fmt.Errorf("rule %s/%s: %w", r.Classifier, r.Moment, err)
		}
		summary.Rules++
	}

	for _, year := range chart.Years {
		if _, err := c.calendar.CreateFiscalYear(ctx, c.actorID, chart.EntityID, year); err != nil {
			return summary, fmt.Errorf("fiscal year %d: %w", year, err)
		}
		summary.Years++
	}
	return summary, nil
}

func classifierKey(typ, code string) string {
	return strings.ToUpper(typ) + "/" + code
}

// SeedOptions defines the flags of the seed command.
type SeedOptions struct {
	Path       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// SeedCommand loads the file at opts.Path and prints the outcome. It
// returns the process exit code.
func (c *SeedCLI) SeedCommand(ctx context.Context, opts SeedOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "seed: %v\n", err)
		return 1
	}
	defer f.Close()

	chart, err := LoadChart(f)
	if err != nil {
		_, _ = fmt.Fprintln(opts.Stderr, err)
		return 1
	}
	summary, err := c.Apply(ctx, chart)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "seed: %v (kind %s)\n", err, ledger.Kind(err))
		return 2
	}
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "seed: encode summary: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "entity %d: %d accounts, %d classifiers, %d rules, %d fiscal years\n",
		summary.EntityID, summary.Accounts, summary.Classifiers, summary.Rules, summary.Years)
	return 0
}
