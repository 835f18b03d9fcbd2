package corridor

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"corridor-tracker/internal/geo"
)

// Document is the on-disk and in-database shape of a corridor.
type Document struct {
	Key                 string      `yaml:"key" json:"key"`
	Name                string      `yaml:"name" json:"name"`
	Geometry            []geo.Point `yaml:"geometry" json:"geometry"`
	Simplified          []geo.Point `yaml:"simplified,omitempty" json:"simplified,omitempty"`
	CumulativeDistances []float64   `yaml:"cumulativeDistances,omitempty" json:"cumulativeDistances,omitempty"`
	DefaultSpeedKmph    float64     `yaml:"defaultSpeedKmph,omitempty" json:"defaultSpeedKmph,omitempty"`
}

// Build validates the document into a Corridor.
func (d Document) Build() (*Corridor, error) {
	c, err := New(d.Key, d.Name, d.Geometry, d.Simplified, d.CumulativeDistances)
	if err != nil {
		return nil, err
	}
	c.DefaultSpeedKmph = d.DefaultSpeedKmph
	return c, nil
}

// ToDocument is the inverse of Build.
func ToDocument(c *Corridor) Document {
	return Document{
		Key:                 c.Key,
		Name:                c.Name,
		Geometry:            c.Geometry,
		Simplified:          c.Simplified,
		CumulativeDistances: c.CumulativeDistances,
		DefaultSpeedKmph:    c.DefaultSpeedKmph,
	}
}

type fileFormat struct {
	Corridors []Document `yaml:"corridors"`
}

// FileSource reads corridors from a YAML file. The file is parsed once per
// FetchAll; Fetch reuses the last parse.
type FileSource struct {
	path string

	once   sync.Once
	parsed map[string]*Corridor
	err    error
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) load() (map[string]*Corridor, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	out := make(map[string]*Corridor, len(ff.Corridors))
	for _, d := range ff.Corridors {
		c, err := d.Build()
		if err != nil {
			return nil, err
		}
		out[c.Key] = c
	}
	return out, nil
}

func (f *FileSource) Fetch(_ context.Context, key string) (*Corridor, error) {
	f.once.Do(func() { f.parsed, f.err = f.load() })
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.parsed[key]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (f *FileSource) FetchAll(_ context.Context) ([]*Corridor, error) {
	parsed, err := f.load()
	if err != nil {
		return nil, err
	}
	out := make([]*Corridor, 0, len(parsed))
	for _, c := range parsed {
		out = append(out, c)
	}
	return out, nil
}

// WriteFile stores corridors in the format FileSource reads.
func WriteFile(path string, cs ...*Corridor) error {
	ff := fileFormat{Corridors: make([]Document, 0, len(cs))}
	for _, c := range cs {
		ff.Corridors = append(ff.Corridors, ToDocument(c))
	}
	data, err := yaml.Marshal(ff)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
