package persona

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed personas.yaml
var personasYAML []byte

// Profile is a counselor persona the assistant can speak as.
type Profile struct {
	ID           string `yaml:"id" json:"id"`
	DisplayName  string `yaml:"display_name" json:"display_name"`
	Style        string `yaml:"style" json:"style"`
	Description  string `yaml:"description" json:"description"`
	VerbosityCap int    `yaml:"verbosity_cap" json:"verbosity_cap"`
}

type catalogFile struct {
	Default  string    `yaml:"default"`
	Personas []Profile `yaml:"personas"`
}

// Catalog is an immutable set of persona profiles.
type Catalog struct {
	profiles  map[string]Profile
	defaultID string
}

// Load parses the embedded persona catalog.
func Load() (*Catalog, error) {
	return Parse(personasYAML)
}

// Parse builds a catalog from YAML bytes.
func Parse(raw []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse persona catalog: %w", err)
	}
	if len(f.Personas) == 0 {
		return nil, fmt.Errorf("persona catalog is empty")
	}

	c := &Catalog{profiles: make(map[string]Profile, len(f.Personas))}
	for _, p := range f.Personas {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("persona catalog has an entry without id")
		}
		p.Description = strings.TrimSpace(p.Description)
		c.profiles[p.ID] = p
	}

	c.defaultID = strings.TrimSpace(f.Default)
	if _, ok := c.profiles[c.defaultID]; !ok {
		c.defaultID = f.Personas[0].ID
	}
	return c, nil
}

// Get returns the profile for personaID, falling back to the default persona.
func (c *Catalog) Get(personaID string) Profile {
	if p, ok := c.profiles[strings.TrimSpace(personaID)]; ok {
		return p
	}
	return c.profiles[c.defaultID]
}

// Has reports whether personaID is a known persona.
func (c *Catalog) Has(personaID string) bool {
	_, ok := c.profiles[strings.TrimSpace(personaID)]
	return ok
}

func (c *Catalog) DefaultID() string {
	return c.defaultID
}

// IDs lists persona ids in stable order.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.profiles))
	for id := range c.profiles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Prompt renders the persona section of a system prompt.
func (p Profile) Prompt() string {
	var b strings.Builder
	b.WriteString(p.Description)
	if p.Style != "" {
		b.WriteString("\nStyle: ")
		b.WriteString(p.Style)
		b.WriteString(".")
	}
	if p.VerbosityCap > 0 {
		fmt.Fprintf(&b, "\nKeep replies under %d characters.", p.VerbosityCap)
	}
	return b.String()
}
