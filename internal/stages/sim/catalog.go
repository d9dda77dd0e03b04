package sim

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/engine"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Entry is one topic with its canned research.
type Entry struct {
	Topic     string   `yaml:"topic"`
	Angle     string   `yaml:"angle"`
	Summary   string   `yaml:"summary"`
	KeyPoints []string `yaml:"key_points"`
	Sources   []string `yaml:"sources"`
	Hashtags  []string `yaml:"hashtags"`
}

// Catalog maps a content field to its topics, in selection order.
type Catalog struct {
	Fields map[string][]Entry `yaml:"fields"`
}

// LoadCatalog reads a catalog from path, or the embedded default when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	b := defaultCatalogYAML
	if p := strings.TrimSpace(path); p != "" {
		var err error
		b, err = os.ReadFile(p)
		if err != nil {
			return nil, err
		}
	}
	return ParseCatalog(b)
}

func ParseCatalog(b []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("catalog is empty")
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Fields) == 0 {
		return fmt.Errorf("catalog has no fields")
	}
	for field, entries := range c.Fields {
		if !engine.IsAllowedField(field) {
			return fmt.Errorf("catalog field %q is not an allowed field", field)
		}
		seen := map[string]bool{}
		for i, e := range entries {
			key := strings.ToLower(strings.TrimSpace(e.Topic))
			if key == "" {
				return fmt.Errorf("catalog %q entry %d: topic is required", field, i)
			}
			if seen[key] {
				return fmt.Errorf("catalog %q: duplicate topic %q", field, e.Topic)
			}
			seen[key] = true
		}
	}
	return nil
}

func (c *Catalog) Topics(field string) []Entry {
	return c.Fields[strings.TrimSpace(field)]
}

// Lookup finds a topic in field by case-insensitive name.
func (c *Catalog) Lookup(field, topic string) (Entry, bool) {
	want := strings.ToLower(strings.TrimSpace(topic))
	for _, e := range c.Topics(field) {
		if strings.ToLower(strings.TrimSpace(e.Topic)) == want {
			return e, true
		}
	}
	return Entry{}, false
}
