// Package catalog loads the product and bundle catalog from a YAML file and
// writes it to the database at start-up.
//
// The file is the source of truth for products (sync endpoints, claim forms)
// and bundles (price id, duration policy, product set). Applying the same file
// twice leaves the database unchanged.
//
// Example:
//
//	products:
//	  - id: notes
//	    name: Notes
//	    sync_url: https://notes.example.com/api/entitlements/sync
//	  - id: crm
//	    name: CRM
//	    collect_email: true
//	    form:
//	      - {name: team, type: text, required: true}
//	bundles:
//	  - id: pro-suite
//	    name: Pro Suite
//	    price_id: price_1
//	    duration: {type: months, value: 6}
//	    products: [notes, crm]
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/tbourn/go-entitlements/internal/domain"
	"github.com/tbourn/go-entitlements/internal/forms"
	"github.com/tbourn/go-entitlements/internal/repo"
)

// Product is the YAML form of a product.
type Product struct {
	ID           string             `yaml:"id"`
	Name         string             `yaml:"name"`
	SyncURL      string             `yaml:"sync_url"`
	CollectEmail bool               `yaml:"collect_email"`
	Form         []domain.FormField `yaml:"form"`
}

// Bundle is the YAML form of a bundle.
type Bundle struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	PriceID  string   `yaml:"price_id"`
	Duration Duration `yaml:"duration"`
	Products []string `yaml:"products"`
}

// Duration is the YAML form of a duration policy.
type Duration struct {
	Type  domain.DurationType `yaml:"type"`
	Value int                 `yaml:"value"`
}

// Catalog is a parsed catalog file.
type Catalog struct {
	Products []Product `yaml:"products"`
	Bundles  []Bundle  `yaml:"bundles"`
}

// Load reads and parses the catalog at path.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(bytes.NewReader(b))
}

// Parse decodes and validates a catalog. Unknown keys are rejected so typos
// in the file surface at start-up.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks ids, duration policies, form schemas and that every bundle
// only references declared products.
func (c *Catalog) Validate() error {
	products := make(map[string]bool, len(c.Products))
	for _, p := range c.Products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("catalog: product without id")
		}
		if products[id] {
			return fmt.Errorf("catalog: duplicate product %q", id)
		}
		products[id] = true
		if err := forms.ValidateSchema(p.Form); err != nil {
			return fmt.Errorf("catalog: product %q: %w", id, err)
		}
	}

	bundles := make(map[string]bool, len(c.Bundles))
	prices := make(map[string]bool, len(c.Bundles))
	for _, b := range c.Bundles {
		if strings.TrimSpace(b.ID) == "" {
			return fmt.Errorf("catalog: bundle without id")
		}
		if bundles[b.ID] {
			return fmt.Errorf("catalog: duplicate bundle %q", b.ID)
		}
		bundles[b.ID] = true
		if strings.TrimSpace(b.PriceID) == "" {
			return fmt.Errorf("catalog: bundle %q: price_id is required", b.ID)
		}
		if prices[b.PriceID] {
			return fmt.Errorf("catalog: bundle %q: price_id %q already used", b.ID, b.PriceID)
		}
		prices[b.PriceID] = true
		if err := b.policy().Validate(); err != nil {
			return fmt.Errorf("catalog: bundle %q: %w", b.ID, err)
		}
		if len(b.Products) == 0 {
			return fmt.Errorf("catalog: bundle %q has no products", b.ID)
		}
		for _, pid := range b.Products {
			if !products[pid] {
				return fmt.Errorf("catalog: bundle %q references unknown product %q", b.ID, pid)
			}
		}
	}
	return nil
}

func (b Bundle) policy() domain.Duration {
	return domain.Duration{Type: b.Duration.Type, Value: b.Duration.Value}
}

// Apply upserts every product and bundle in one transaction.
func (c *Catalog) Apply(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range c.Products {
			var schema []byte
			if len(p.Form) > 0 {
				b, err := json.Marshal(p.Form)
				if err != nil {
					return err
				}
				schema = b
			}
			row := &domain.Product{
				ID:           p.ID,
				Name:         p.Name,
				SyncURL:      p.SyncURL,
				CollectEmail: p.CollectEmail,
				FormSchema:   schema,
			}
			if err := repo.UpsertProduct(ctx, tx, row); err != nil {
				return fmt.Errorf("catalog: product %q: %w", p.ID, err)
			}
		}
		for _, b := range c.Bundles {
			row := &domain.Bundle{
				ID:            b.ID,
				Name:          b.Name,
				DurationType:  b.Duration.Type,
				DurationValue: b.Duration.Value,
				StripePriceID: b.PriceID,
			}
			if err := repo.UpsertBundle(ctx, tx, row, b.Products); err != nil {
				return fmt.Errorf("catalog: bundle %q: %w", b.ID, err)
			}
		}
		return nil
	})
}
