package data

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Kind groups prototypes that share pool hooks.
type Kind string

const (
	KindEnemy      Kind = "enemy"
	KindProjectile Kind = "projectile"
	KindPickup     Kind = "pickup"
)

func (k Kind) Valid() bool {
	switch k {
	case KindEnemy, KindProjectile, KindPickup:
		return true
	}
	return false
}

// Template holds static data for a spawnable type loaded from YAML.
// ID is the pool key; Name is for logs and never used for lookups.
type Template struct {
	ID               string  `yaml:"id"`
	Name             string  `yaml:"name"`
	Kind             Kind    `yaml:"kind"`
	Radius           float64 `yaml:"radius"`            // body radius
	SeparationRadius float64 `yaml:"separation_radius"` // 0 = 2x radius
	SeparationWeight float64 `yaml:"weight"`            // push strength, 0 = 1
	Speed            float64 `yaml:"speed"`             // world units per second
	HP               int32   `yaml:"hp"`
	Damage           int32   `yaml:"damage"`            // projectile hit damage
	Value            int     `yaml:"value"`             // pickup experience
	Drop             string  `yaml:"drop"`              // prototype spawned where an enemy dies
	TTLTicks         int     `yaml:"ttl_ticks"`         // 0 = no expiry
	MaxPool          int     `yaml:"max_pool"`          // 0 = use config default
	Prewarm          int     `yaml:"prewarm"`
}

// NeighbourRadius is the radius used for separation queries.
func (t *Template) NeighbourRadius() float64 {
	if t.SeparationRadius > 0 {
		return t.SeparationRadius
	}
	return 2 * t.Radius
}

// Weight is the separation push strength.
func (t *Template) Weight() float64 {
	if t.SeparationWeight > 0 {
		return t.SeparationWeight
	}
	return 1
}

type prototypeListFile struct {
	Prototypes []Template `yaml:"prototypes"`
}

// PrototypeTable holds all templates indexed by ID.
type PrototypeTable struct {
	templates map[string]*Template
	ordered   []*Template
}

// LoadPrototypeTable loads templates from a YAML file.
func LoadPrototypeTable(path string) (*PrototypeTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prototypes: %w", err)
	}
	t, err := ParsePrototypeTable(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParsePrototypeTable decodes and validates a prototype list.
func ParsePrototypeTable(raw []byte) (*PrototypeTable, error) {
	var f prototypeListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse prototypes: %w", err)
	}
	t := &PrototypeTable{templates: make(map[string]*Template, len(f.Prototypes))}
	var errs []error
	for i := range f.Prototypes {
		p := &f.Prototypes[i]
		if err := p.validate(); err != nil {
			errs = append(errs, fmt.Errorf("prototype #%d: %w", i, err))
			continue
		}
		if _, dup := t.templates[p.ID]; dup {
			errs = append(errs, fmt.Errorf("prototype #%d: duplicate id %q", i, p.ID))
			continue
		}
		t.templates[p.ID] = p
		t.ordered = append(t.ordered, p)
	}
	for _, p := range t.ordered {
		if p.Drop != "" && t.templates[p.Drop] == nil {
			errs = append(errs, fmt.Errorf("%s: drop references unknown prototype %q", p.ID, p.Drop))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	sort.Slice(t.ordered, func(i, j int) bool { return t.ordered[i].ID < t.ordered[j].ID })
	return t, nil
}

func (p *Template) validate() error {
	switch {
	case p.ID == "":
		return errors.New("empty id")
	case !p.Kind.Valid():
		return fmt.Errorf("%s: unknown kind %q", p.ID, p.Kind)
	case p.Radius <= 0:
		return fmt.Errorf("%s: radius must be positive", p.ID)
	case p.MaxPool < 0 || p.Prewarm < 0:
		return fmt.Errorf("%s: max_pool and prewarm must not be negative", p.ID)
	case p.MaxPool > 0 && p.Prewarm > p.MaxPool:
		return fmt.Errorf("%s: prewarm %d exceeds max_pool %d", p.ID, p.Prewarm, p.MaxPool)
	}
	return nil
}

// Get returns a template by ID, or nil if not found.
func (t *PrototypeTable) Get(id string) *Template {
	return t.templates[id]
}

// All returns the templates ordered by ID.
func (t *PrototypeTable) All() []*Template {
	return t.ordered
}

// Count returns the number of loaded templates.
func (t *PrototypeTable) Count() int {
	return len(t.templates)
}
