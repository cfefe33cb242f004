package definitions

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/roach88/protoengine/internal/ir"
)

//go:embed builtin.yaml
var builtinYAML []byte

// Catalog is the YAML document shape. Labware wells may be listed
// explicitly or generated from a grid.
type Catalog struct {
	Labware  []LabwareEntry      `yaml:"labware"`
	Pipettes []PipetteDefinition `yaml:"pipettes"`
	Modules  []ModuleDefinition  `yaml:"modules"`
}

// LabwareEntry is a labware definition with an optional well grid.
type LabwareEntry struct {
	LabwareDefinition `yaml:",inline"`
	Grid              *Grid `yaml:"grid,omitempty"`
}

// Grid generates rows x columns wells named A1, B1, ... with A1 at (X, Y)
// and rows increasing towards -Y.
type Grid struct {
	Rows     int            `yaml:"rows"`
	Columns  int            `yaml:"columns"`
	X        float64        `yaml:"x"`
	Y        float64        `yaml:"y"`
	Spacing  float64        `yaml:"spacing"`
	Template WellDefinition `yaml:"well"`
}

func (g Grid) wells() (map[string]WellDefinition, error) {
	if g.Rows < 1 || g.Rows > 26 || g.Columns < 1 {
		return nil, fmt.Errorf("invalid grid %dx%d", g.Rows, g.Columns)
	}
	wells := make(map[string]WellDefinition, g.Rows*g.Columns)
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Columns; c++ {
			w := g.Template
			w.X = g.X + float64(c)*g.Spacing
			w.Y = g.Y - float64(r)*g.Spacing
			wells[fmt.Sprintf("%c%d", 'A'+r, c+1)] = w
		}
	}
	return wells, nil
}

// Static is an in-memory Provider.
type Static struct {
	mu       sync.RWMutex
	labware  map[string]LabwareDefinition
	pipettes map[string]PipetteDefinition
	modules  map[ir.ModuleModel]ModuleDefinition
}

// NewStatic returns an empty provider.
func NewStatic() *Static {
	return &Static{
		labware:  make(map[string]LabwareDefinition),
		pipettes: make(map[string]PipetteDefinition),
		modules:  make(map[ir.ModuleModel]ModuleDefinition),
	}
}

// LoadYAML parses a catalog into a new provider.
func LoadYAML(data []byte) (*Static, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}

	s := NewStatic()
	for _, entry := range cat.Labware {
		def := entry.LabwareDefinition
		if entry.Grid != nil {
			wells, err := entry.Grid.wells()
			if err != nil {
				return nil, fmt.Errorf("labware %s: %w", def.LoadName, err)
			}
			def.Wells = wells
		}
		if def.LoadName == "" {
			return nil, fmt.Errorf("labware entry without load_name")
		}
		if def.Namespace == "" {
			def.Namespace = DefaultNamespace
		}
		if def.Version == 0 {
			def.Version = 1
		}
		s.AddLabware(def)
	}
	for _, p := range cat.Pipettes {
		if p.PipetteName == "" {
			return nil, fmt.Errorf("pipette entry without pipette_name")
		}
		s.AddPipette(p)
	}
	for _, m := range cat.Modules {
		s.AddModule(m)
	}
	return s, nil
}

// Builtin returns a provider holding the embedded catalog.
func Builtin() *Static {
	s, err := LoadYAML(builtinYAML)
	if err != nil {
		panic(fmt.Sprintf("builtin definitions: %v", err))
	}
	return s
}

func (s *Static) AddLabware(def LabwareDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labware[def.URI()] = def
}

func (s *Static) AddPipette(def PipetteDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipettes[def.PipetteName] = def
}

func (s *Static) AddModule(def ModuleDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[def.Model] = def
}

func (s *Static) LabwareDefinition(loadName, namespace string, version int) (LabwareDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.labware[URI(namespace, loadName, version)]
	if !ok {
		return LabwareDefinition{}, fmt.Errorf("labware %s: %w", URI(namespace, loadName, version), ErrNotFound)
	}
	return def, nil
}

func (s *Static) PipetteDefinition(pipetteName string) (PipetteDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.pipettes[pipetteName]
	if !ok {
		return PipetteDefinition{}, fmt.Errorf("pipette %s: %w", pipetteName, ErrNotFound)
	}
	return def, nil
}

func (s *Static) ModuleDefinition(model ir.ModuleModel) (ModuleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.modules[model]
	if !ok {
		return ModuleDefinition{}, fmt.Errorf("module %s: %w", model, ErrNotFound)
	}
	return def, nil
}
