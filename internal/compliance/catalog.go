package compliance

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dshills/commitgate/internal/metadata"
	"github.com/dshills/commitgate/internal/pathglob"
)

//go:embed codes.yaml
var defaultCodes []byte

// Code is one enumerated compliance code.
type Code struct {
	Framework   string `yaml:"-" json:"framework"`
	Code        string `yaml:"code" json:"code" validate:"required"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// Framework is a regulatory framework with its closed set of codes.
type Framework struct {
	Name  string `yaml:"-" json:"name"`
	Title string `yaml:"title" json:"title" validate:"required"`
	// ImpactField is the commit trailer that must be declared when a
	// regulated path changes. Empty means no declaration is required.
	ImpactField string   `yaml:"impact_field,omitempty" json:"impactField,omitempty" validate:"omitempty,oneof=PHI-Impact Clinical-Safety Financial-Impact"`
	Paths       []string `yaml:"paths,omitempty" json:"paths,omitempty"`
	Codes       []Code   `yaml:"codes" json:"codes" validate:"required,min=1,dive"`

	index map[string]Code
	paths *pathglob.Set
}

// Catalog is a versioned, immutable set of frameworks. Replace it as a
// whole; never modify one that a Validator holds.
type Catalog struct {
	Version    string                `yaml:"version" json:"version" validate:"required"`
	Frameworks map[string]*Framework `yaml:"frameworks" json:"frameworks" validate:"required,min=1,dive"`
}

// DefaultCatalog returns the embedded code catalog.
func DefaultCatalog() (*Catalog, error) {
	return parseCatalog(defaultCodes)
}

// LoadCatalogFile reads a catalog from a YAML file.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading code catalog: %w", err)
	}
	cat, err := parseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// LoadCatalog reads a catalog from r.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading code catalog: %w", err)
	}
	return parseCatalog(data)
}

func parseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("parsing code catalog: %w", err)
	}
	if err := cat.build(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *Catalog) build() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid code catalog: %w", err)
	}
	for name, fw := range c.Frameworks {
		fw.Name = name
		fw.index = make(map[string]Code, len(fw.Codes))
		for i := range fw.Codes {
			fw.Codes[i].Framework = name
			code := fw.Codes[i]
			if _, dup := fw.index[code.Code]; dup {
				return fmt.Errorf("invalid code catalog: %s lists %q twice", name, code.Code)
			}
			fw.index[code.Code] = code
		}
		set, err := pathglob.Compile(fw.Paths)
		if err != nil {
			return fmt.Errorf("invalid code catalog: %s paths: %w", name, err)
		}
		fw.paths = set
	}
	return nil
}

// Names returns the framework names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Frameworks))
	for n := range c.Frameworks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the code if framework lists it exactly.
func (c *Catalog) Lookup(framework, code string) (Code, bool) {
	fw, ok := c.Frameworks[framework]
	if !ok {
		return Code{}, false
	}
	e, ok := fw.index[code]
	return e, ok
}

// listedUnder returns the frameworks, other than except, that list code.
func (c *Catalog) listedUnder(code, except string) []string {
	var out []string
	for _, n := range c.Names() {
		if n == except {
			continue
		}
		if _, ok := c.Frameworks[n].index[code]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Regulates returns the changed paths that fall under fw.
func (fw *Framework) Regulates(paths []string) []string {
	var hit []string
	for _, p := range paths {
		if fw.paths.Match(p) {
			hit = append(hit, p)
		}
	}
	return hit
}

func impactValue(md metadata.CommitMetadata, field string) string {
	switch field {
	case metadata.KeyPHIImpact:
		return md.Risk.PHIImpact
	case metadata.KeyClinicalSafety:
		return md.Risk.ClinicalSafety
	case metadata.KeyFinancialImpact:
		return md.Risk.FinancialImpact
	default:
		return md.Trailers[field]
	}
}

// NewCatalog builds a catalog from frameworks keyed by their Name.
func NewCatalog(version string, frameworks ...*Framework) (*Catalog, error) {
	c := &Catalog{Version: version, Frameworks: make(map[string]*Framework, len(frameworks))}
	for _, fw := range frameworks {
		c.Frameworks[fw.Name] = fw
	}
	if err := c.build(); err != nil {
		return nil, err
	}
	return c, nil
}
