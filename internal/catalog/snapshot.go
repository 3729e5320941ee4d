package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Snapshot is an immutable point-in-time view of the catalog.
// Lookups return a copy and an ok flag; callers must not assume presence.
type Snapshot struct {
	products  map[string]Product
	locations map[string]Location
	people    map[string]Person
}

// NewSnapshot builds a snapshot from entity slices, indexing by id.
func NewSnapshot(products []Product, locations []Location, people []Person) *Snapshot {
	s := &Snapshot{
		products:  make(map[string]Product, len(products)),
		locations: make(map[string]Location, len(locations)),
		people:    make(map[string]Person, len(people)),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	for _, l := range locations {
		s.locations[l.ID] = l
	}
	for _, p := range people {
		s.people[p.ID] = p
	}
	return s
}

// Product looks up a product by id.
func (s *Snapshot) Product(id string) (Product, bool) {
	p, ok := s.products[id]
	return p, ok
}

// Location looks up a location by id.
func (s *Snapshot) Location(id string) (Location, bool) {
	l, ok := s.locations[id]
	return l, ok
}

// Person looks up a person by id.
func (s *Snapshot) Person(id string) (Person, bool) {
	p, ok := s.people[id]
	return p, ok
}

// snapshotFile is the yaml layout of an exported catalog snapshot.
type snapshotFile struct {
	Products  []Product  `yaml:"products"`
	Locations []Location `yaml:"locations"`
	People    []Person   `yaml:"people"`
}

// Load reads a catalog snapshot from a yaml file.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog snapshot: %w", err)
	}
	return Parse(data)
}

// Parse decodes a catalog snapshot from yaml bytes.
func Parse(data []byte) (*Snapshot, error) {
	var f snapshotFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog snapshot: %w", err)
	}
	for i, p := range f.Products {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog snapshot: product %d missing id", i)
		}
		if p.BaseUnit == "" {
			return nil, fmt.Errorf("catalog snapshot: product %s missing base_unit", p.ID)
		}
	}
	for i, l := range f.Locations {
		if l.ID == "" {
			return nil, fmt.Errorf("catalog snapshot: location %d missing id", i)
		}
	}
	for i, p := range f.People {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog snapshot: person %d missing id", i)
		}
	}
	return NewSnapshot(f.Products, f.Locations, f.People), nil
}
