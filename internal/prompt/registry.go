package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownDomain is returned by Get for domains without a template.
var ErrUnknownDomain = errors.New("unknown prompt domain")

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Version  string                   `yaml:"version"`
	Sections []SectionSpec            `yaml:"sections"`
	Domains  map[string]catalogDomain `yaml:"domains"`
}

type catalogDomain struct {
	Version string   `yaml:"version"`
	Persona string   `yaml:"persona"`
	Focus   []string `yaml:"focus"`
}

// Registry maps domains to compiled templates. It is immutable after construction.
type Registry struct {
	templates map[Domain]*Template
}

// Option configures catalog loading.
type Option func(*loadOptions)

type loadOptions struct {
	maxExcerptRunes int
}

// WithMaxExcerptRunes bounds the document excerpt in every template.
func WithMaxExcerptRunes(n int) Option {
	return func(o *loadOptions) {
		o.maxExcerptRunes = n
	}
}

// NewRegistry builds a registry from compiled templates.
func NewRegistry(templates ...*Template) (*Registry, error) {
	r := &Registry{templates: make(map[Domain]*Template, len(templates))}
	for _, t := range templates {
		if t == nil {
			return nil, fmt.Errorf("nil template")
		}
		if _, dup := r.templates[t.domain]; dup {
			return nil, fmt.Errorf("duplicate template for domain %s", t.domain)
		}
		r.templates[t.domain] = t
	}
	return r, nil
}

// Get returns the template for domain.
func (r *Registry) Get(domain Domain) (*Template, error) {
	t, ok := r.templates[domain]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
	return t, nil
}

// DefaultRegistry compiles the embedded catalog.
func DefaultRegistry(opts ...Option) (*Registry, error) {
	return parseCatalog(defaultCatalog, "embedded catalog", opts...)
}

// LoadRegistry compiles the catalog at path inside fsys.
func LoadRegistry(fsys fs.FS, path string, opts ...Option) (*Registry, error) {
	raw, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog: %w", err)
	}
	return parseCatalog(raw, path, opts...)
}

// LoadRegistryFile compiles an override catalog from disk, falling back to the
// embedded catalog when path is empty.
func LoadRegistryFile(path string, opts ...Option) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRegistry(opts...)
	}
	return LoadRegistry(os.DirFS(filepath.Dir(path)), filepath.Base(path), opts...)
}

func parseCatalog(raw []byte, source string, opts ...Option) (*Registry, error) {
	o := loadOptions{maxExcerptRunes: DefaultMaxExcerptRunes}
	for _, opt := range opts {
		opt(&o)
	}

	var cat catalogFile
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}
	if len(cat.Domains) == 0 {
		return nil, fmt.Errorf("%s defines no domains", source)
	}

	templates := make([]*Template, 0, len(cat.Domains))
	for name, d := range cat.Domains {
		domain := Domain(strings.ToLower(strings.TrimSpace(name)))
		if !isKnownDomain(domain) {
			return nil, fmt.Errorf("%s: %w: %q", source, ErrUnknownDomain, name)
		}
		version := cat.Version
		if d.Version != "" {
			version = cat.Version + "/" + d.Version
		}
		t, err := Compile(domain, version, d.Persona, d.Focus, cat.Sections, o.maxExcerptRunes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		templates = append(templates, t)
	}
	return NewRegistry(templates...)
}

func isKnownDomain(d Domain) bool {
	for _, known := range Domains {
		if d == known {
			return true
		}
	}
	return false
}

// DomainForCategory maps a checklist category onto a prompt domain. Anything
// outside the three ESG pillars is assessed from the legal perspective.
func DomainForCategory(category string) Domain {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "environmental", "environment":
		return DomainEnvironmental
	case "social":
		return DomainSocial
	case "governance":
		return DomainGovernance
	default:
		return DomainLegal
	}
}
