package patterns

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Pattern is a single sensitive-value detector as declared in a catalog.
type Pattern struct {
	ID          string   `yaml:"id" json:"id" validate:"required"`
	Category    Category `yaml:"category" json:"category" validate:"required,oneof=identifier credential financial contact"`
	Severity    Severity `yaml:"severity" json:"severity" validate:"required,oneof=critical high medium low"`
	Expr        string   `yaml:"expr" json:"expr" validate:"required"`
	AllowList   []string `yaml:"allow_list,omitempty" json:"allowList,omitempty"`
	Checksum    string   `yaml:"checksum,omitempty" json:"checksum,omitempty" validate:"omitempty,oneof=luhn"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// Catalog is a versioned set of patterns plus the filename conventions that
// mark a whole file as sensitive.
type Catalog struct {
	Version        string    `yaml:"version" json:"version" validate:"required"`
	Patterns       []Pattern `yaml:"patterns" json:"patterns" validate:"required,min=1,dive"`
	SensitiveFiles []string  `yaml:"sensitive_files,omitempty" json:"sensitiveFiles,omitempty"`
}

// DefaultCatalog returns the catalog embedded in the binary.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(defaultCatalog))
}

// LoadCatalogFile reads a catalog from a YAML file.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pattern catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// LoadCatalog decodes and validates a YAML catalog. Unknown keys are
// rejected so a typo cannot silently disable a detector.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var cat Catalog
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("parsing pattern catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks field constraints, ID uniqueness and that every
// expression compiles.
func (c *Catalog) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid pattern catalog: %w", err)
	}
	seen := make(map[string]bool, len(c.Patterns))
	for _, p := range c.Patterns {
		if seen[p.ID] {
			return fmt.Errorf("invalid pattern catalog: duplicate pattern id %q", p.ID)
		}
		seen[p.ID] = true
		if _, err := regexp.Compile(p.Expr); err != nil {
			return fmt.Errorf("invalid pattern catalog: pattern %q: %w", p.ID, err)
		}
	}
	return nil
}
