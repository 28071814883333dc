package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sahilm/fuzzy"
)

// Category groups models by capability profile. Categories only influence
// the order in which substitute models are tried.
type Category string

const (
	Reasoning  Category = "reasoning"
	Coding     Category = "coding"
	Agentic    Category = "agentic"
	Multimodal Category = "multimodal"
	General    Category = "general"
)

// DefaultCategoryOrder is used when a catalog file does not declare its own.
var DefaultCategoryOrder = []Category{Reasoning, Coding, Agentic, Multimodal, General}

var (
	// ErrDuplicateModel is returned when two descriptors share an identifier
	ErrDuplicateModel = errors.New("duplicate model identifier")

	// ErrUnknownCategory is returned when a descriptor references a category
	// missing from the category order
	ErrUnknownCategory = errors.New("unknown category")

	// ErrEmptyCatalog is returned when a catalog has no models
	ErrEmptyCatalog = errors.New("catalog has no models")
)

//go:embed models.toml
var defaultCatalogTOML string

// ModelDescriptor describes one upstream model offered to users.
type ModelDescriptor struct {
	ID            string     `toml:"id" json:"id"`
	Name          string     `toml:"name" json:"name"`
	Created       time.Time  `toml:"created" json:"created"`
	ContextWindow int        `toml:"context_window" json:"contextWindow"`
	Description   string     `toml:"description" json:"description"`
	Categories    []Category `toml:"categories" json:"categories"`
}

// HasCategory reports whether the descriptor is tagged with cat
func (m ModelDescriptor) HasCategory(cat Category) bool {
	for _, c := range m.Categories {
		if c == cat {
			return true
		}
	}
	return false
}

type catalogFile struct {
	CategoryOrder []Category        `toml:"category_order"`
	Models        []ModelDescriptor `toml:"models"`
}

// Catalog is an immutable, ordered collection of model descriptors together
// with the category lists and global fallback list derived from it.
// It is safe for concurrent use.
type Catalog struct {
	models         []ModelDescriptor
	byID           map[string]int
	categoryOrder  []Category
	byCategory     map[Category][]string
	globalFallback []string
}

// New builds a catalog from descriptors in declaration order.
// A nil or empty categoryOrder selects DefaultCategoryOrder.
func New(models []ModelDescriptor, categoryOrder []Category) (*Catalog, error) {
	if len(models) == 0 {
		return nil, ErrEmptyCatalog
	}
	if len(categoryOrder) == 0 {
		categoryOrder = DefaultCategoryOrder
	}

	known := make(map[Category]bool, len(categoryOrder))
	for _, cat := range categoryOrder {
		known[cat] = true
	}

	c := &Catalog{
		models:        make([]ModelDescriptor, 0, len(models)),
		byID:          make(map[string]int, len(models)),
		categoryOrder: append([]Category(nil), categoryOrder...),
		byCategory:    make(map[Category][]string, len(categoryOrder)),
	}

	for _, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("model %q has an empty identifier", m.Name)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModel, m.ID)
		}
		for _, cat := range m.Categories {
			if !known[cat] {
				return nil, fmt.Errorf("%w %q on model %s", ErrUnknownCategory, cat, m.ID)
			}
		}

		m.Categories = append([]Category(nil), m.Categories...)
		c.byID[m.ID] = len(c.models)
		c.models = append(c.models, m)

		for _, cat := range m.Categories {
			c.byCategory[cat] = appendUnique(c.byCategory[cat], m.ID)
		}
	}

	// general first, then multimodal
	for _, cat := range []Category{General, Multimodal} {
		for _, id := range c.byCategory[cat] {
			c.globalFallback = appendUnique(c.globalFallback, id)
		}
	}

	return c, nil
}

// Parse decodes a TOML catalog document.
func Parse(data string) (*Catalog, error) {
	var f catalogFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return New(f.Models, f.CategoryOrder)
}

// Load reads a TOML catalog from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(string(data))
}

// Default returns the catalog compiled into the binary. It panics if the
// embedded document is invalid, which the package tests guard against.
func Default() *Catalog {
	c, err := Parse(defaultCatalogTOML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Models returns a copy of all descriptors in declaration order
func (c *Catalog) Models() []ModelDescriptor {
	out := make([]ModelDescriptor, len(c.models))
	copy(out, c.models)
	return out
}

// Lookup returns the descriptor for id
func (c *Catalog) Lookup(id string) (ModelDescriptor, bool) {
	i, ok := c.byID[id]
	if !ok {
		return ModelDescriptor{}, false
	}
	return c.models[i], true
}

// Categories returns the category order of this catalog
func (c *Catalog) Categories() []Category {
	return append([]Category(nil), c.categoryOrder...)
}

// CategoryOf resolves the single category used to pick fallback peers for
// id: the first category in catalog order whose list contains id. Models
// that are not in the catalog, or carry no category, resolve to General.
func (c *Catalog) CategoryOf(id string) Category {
	for _, cat := range c.categoryOrder {
		for _, member := range c.byCategory[cat] {
			if member == id {
				return cat
			}
		}
	}
	return General
}

// ModelsIn returns the identifiers tagged with cat, in declaration order
func (c *Catalog) ModelsIn(cat Category) []string {
	return append([]string(nil), c.byCategory[cat]...)
}

// GlobalFallback returns the general models followed by the multimodal
// models, without duplicates.
func (c *Catalog) GlobalFallback() []string {
	return append([]string(nil), c.globalFallback...)
}

// AttemptOrder returns the models to try, in order, for a request bound to
// requested. The requested model always comes first and no identifier is
// repeated. Without fallback the order holds only the requested model.
func (c *Catalog) AttemptOrder(requested string, allowFallback bool) []string {
	order := []string{requested}
	if !allowFallback {
		return order
	}

	for _, id := range c.byCategory[c.CategoryOf(requested)] {
		order = appendUnique(order, id)
	}
	for _, id := range c.globalFallback {
		order = appendUnique(order, id)
	}
	return order
}

// Search filters the catalog by category (empty matches all) and ranks the
// remainder against query using fuzzy matching on identifier and name.
// An empty query keeps declaration order.
func (c *Catalog) Search(query string, cat Category) []ModelDescriptor {
	candidates := make([]ModelDescriptor, 0, len(c.models))
	for _, m := range c.models {
		if cat == "" || m.HasCategory(cat) {
			candidates = append(candidates, m)
		}
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return candidates
	}

	targets := make([]string, len(candidates))
	for i, m := range candidates {
		targets[i] = m.ID + " " + m.Name
	}

	matches := fuzzy.Find(query, targets)
	out := make([]ModelDescriptor, 0, len(matches))
	for _, match := range matches {
		out = append(out, candidates[match.Index])
	}
	return out
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}
