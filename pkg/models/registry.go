package models

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var defaultModels []byte

var ErrUnknownModel = errors.New("unknown model id")

const (
	MinRating = 1
	MaxRating = 5
)

// Model describes a completion model the user can pick.
type Model struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Reasoning   int    `yaml:"reasoning"`
	Speed       int    `yaml:"speed"`
	Conciseness int    `yaml:"conciseness"`
}

func (m *Model) Label() string {
	if m.Name == "" || m.Name == m.ID {
		return m.ID
	}
	return fmt.Sprintf("%s (%s)", m.Name, m.ID)
}

// Ratings renders the three ratings as filled and empty dots.
func (m *Model) Ratings() string {
	dots := func(n int) string {
		return strings.Repeat("●", n) + strings.Repeat("○", MaxRating-n)
	}
	return fmt.Sprintf("reasoning %s  speed %s  conciseness %s",
		dots(m.Reasoning), dots(m.Speed), dots(m.Conciseness))
}

func (m *Model) validate() error {
	if m.ID == "" {
		return errors.New("model without id")
	}
	ratings := map[string]int{
		"reasoning":   m.Reasoning,
		"speed":       m.Speed,
		"conciseness": m.Conciseness,
	}
	for name, v := range ratings {
		if v < MinRating || v > MaxRating {
			return errors.Errorf("model %s: %s rating %d not in [%d, %d]", m.ID, name, v, MinRating, MaxRating)
		}
	}
	return nil
}

// Registry is an ordered set of known models. The first one is the default.
type Registry struct {
	models []*Model
	byID   map[string]*Model
}

type registryFile struct {
	Models []*Model `yaml:"models"`
}

func Load(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "could not parse model registry")
	}
	if len(f.Models) == 0 {
		return nil, errors.New("model registry is empty")
	}

	ret := &Registry{byID: map[string]*Model{}}
	for _, m := range f.Models {
		if err := m.validate(); err != nil {
			return nil, err
		}
		if _, ok := ret.byID[m.ID]; ok {
			return nil, errors.Errorf("duplicate model id %s", m.ID)
		}
		ret.byID[m.ID] = m
		ret.models = append(ret.models, m)
	}
	return ret, nil
}

// Default returns the registry shipped with the binary.
func Default() (*Registry, error) {
	return Load(defaultModels)
}

func (r *Registry) Get(id string) (*Model, bool) {
	m, ok := r.byID[id]
	return m, ok
}

func (r *Registry) Models() []*Model {
	return r.models
}

func (r *Registry) IDs() []string {
	ret := make([]string, len(r.models))
	for i, m := range r.models {
		ret[i] = m.ID
	}
	return ret
}

func (r *Registry) DefaultModel() *Model {
	return r.models[0]
}

// Validate fails with ErrUnknownModel for ids not in the registry.
func (r *Registry) Validate(id string) error {
	if _, ok := r.byID[id]; !ok {
		return errors.Wrapf(ErrUnknownModel, "%q (known: %s)", id, strings.Join(r.IDs(), ", "))
	}
	return nil
}

// Next returns the model after id, wrapping around. Unknown ids map to the default.
func (r *Registry) Next(id string) *Model {
	for i, m := range r.models {
		if m.ID == id {
			return r.models[(i+1)%len(r.models)]
		}
	}
	return r.DefaultModel()
}
