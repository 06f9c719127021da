package billing

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// ErrUnknownProduct is returned for ids that are neither canonical nor aliased.
var ErrUnknownProduct = errors.New("unknown product")

// Product is a read-only catalog entry. Amount is in minor currency units.
type Product struct {
	ID          string `yaml:"id" json:"id" validate:"required"`
	Name        string `yaml:"name" json:"name" validate:"required"`
	Amount      int64  `yaml:"amount" json:"amount" validate:"gte=0"`
	Currency    string `yaml:"currency" json:"currency" validate:"required,len=3"`
	Interval    string `yaml:"interval,omitempty" json:"interval,omitempty" validate:"omitempty,oneof=day week month year"`
	PaymentLink string `yaml:"payment_link,omitempty" json:"payment_link,omitempty" validate:"omitempty,url"`
}

// IsRecurring reports whether the product is sold as a subscription.
func (p Product) IsRecurring() bool {
	return p.Interval != ""
}

type catalogFile struct {
	Products []Product         `yaml:"products" validate:"required,min=1,dive"`
	Aliases  map[string]string `yaml:"aliases"`
}

// Catalog resolves product ids and aliases. It is built once and never mutated.
type Catalog struct {
	products map[string]Product
	order    []string
	aliases  map[string]string
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return NewCatalog(file.Products, file.Aliases)
}

// NewCatalog validates products and aliases and builds the lookup tables.
func NewCatalog(products []Product, aliases map[string]string) (*Catalog, error) {
	file := catalogFile{Products: products, Aliases: aliases}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	c := &Catalog{
		products: make(map[string]Product, len(products)),
		aliases:  make(map[string]string, len(aliases)),
	}
	for _, p := range products {
		p.ID = strings.TrimSpace(p.ID)
		p.Currency = normalizeCurrency(p.Currency)
		p.Interval = normalizeInterval(p.Interval)
		if _, dup := c.products[p.ID]; dup {
			return nil, fmt.Errorf("invalid catalog: duplicate product id %q", p.ID)
		}
		c.products[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	for alias, target := range aliases {
		alias = strings.TrimSpace(alias)
		target = strings.TrimSpace(target)
		if _, ok := c.products[target]; !ok {
			return nil, fmt.Errorf("invalid catalog: alias %q points to unknown product %q", alias, target)
		}
		if _, clash := c.products[alias]; clash && alias != target {
			return nil, fmt.Errorf("invalid catalog: alias %q shadows a product id", alias)
		}
		c.aliases[alias] = target
	}
	return c, nil
}

// Resolve returns the canonical product for id or an alias of it.
func (c *Catalog) Resolve(id string) (Product, error) {
	key := strings.TrimSpace(id)
	if p, ok := c.products[key]; ok {
		return p, nil
	}
	if target, ok := c.aliases[key]; ok {
		return c.products[target], nil
	}
	return Product{}, fmt.Errorf("%w: %q", ErrUnknownProduct, id)
}

// UnitAmount returns the authoritative price of a product, if the catalog has it.
func (c *Catalog) UnitAmount(id string) (int64, bool) {
	if c == nil {
		return 0, false
	}
	p, err := c.Resolve(id)
	if err != nil {
		return 0, false
	}
	return p.Amount, true
}

// Products lists products in file order.
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.products[id])
	}
	return out
}
