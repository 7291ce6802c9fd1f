package vkframe

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// Property keys read by RendererConfig.
const (
	PropBuffering  = "Buffering"
	PropPoolSize   = "PoolSize"
	PropValidation = "Validation"
	PropWidth      = "Width"
	PropHeight     = "Height"
	PropTitle      = "Title"
	PropClearDepth = "ClearDepth"
)

var clearColorKeys = [4]string{"ClearR", "ClearG", "ClearB", "ClearA"}

// Usage is a named set of typed properties. Usages can be chained through Linked_usage
// so that one file describes, say, the renderer and the window it draws into.
type Usage struct {
	Name         string             `json:"name"`
	String_props map[string]string  `json:"strings,omitempty"`
	Int_props    map[string]int     `json:"ints,omitempty"`
	Bool_props   map[string]bool    `json:"bools,omitempty"`
	Float_props  map[string]float32 `json:"floats,omitempty"`
	Linked_usage *Usage             `json:"linked,omitempty"`
}

func NewUsage(name string, default_size uint) *Usage {
	return &Usage{
		Name:         name,
		String_props: make(map[string]string, default_size),
		Int_props:    make(map[string]int, default_size),
		Bool_props:   make(map[string]bool, default_size),
		Float_props:  make(map[string]float32, default_size),
	}
}

// LoadUsage reads a usage tree from a JSON file.
func LoadUsage(path string) (*Usage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read usage %s", path)
	}
	use := NewUsage("", 4)
	if err := json.Unmarshal(data, use); err != nil {
		return nil, errors.Wrapf(err, "parse usage %s", path)
	}
	use.ensureMaps()
	return use, nil
}

// Save writes the usage tree to path as indented JSON.
func (u *Usage) Save(path string) error {
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode usage")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write usage %s", path)
}

func (u *Usage) ensureMaps() {
	for use := u; use != nil; use = use.Linked_usage {
		if use.String_props == nil {
			use.String_props = map[string]string{}
		}
		if use.Int_props == nil {
			use.Int_props = map[string]int{}
		}
		if use.Bool_props == nil {
			use.Bool_props = map[string]bool{}
		}
		if use.Float_props == nil {
			use.Float_props = map[string]float32{}
		}
	}
}

func (u *Usage) HasNext() bool {
	return u.Linked_usage != nil
}

func (u *Usage) GetLinkedUsage() (*Usage, error) {
	if !u.HasNext() {
		return nil, errors.Errorf("usage %s has no linked usage", u.Name)
	}
	return u.Linked_usage, nil
}

// Find walks the linked chain for a usage with the given name.
func (u *Usage) Find(name string) (*Usage, bool) {
	for use := u; use != nil; use = use.Linked_usage {
		if use.Name == name {
			return use, true
		}
	}
	return nil, false
}

// String renders the usage chain for logs.
func (u *Usage) String() string {
	s := fmt.Sprintf("%s%v%v%v%v", u.Name, u.String_props, u.Bool_props, u.Int_props, u.Float_props)
	if u.HasNext() {
		s += " -> " + u.Linked_usage.String()
	}
	return s
}

// RendererConfig is the renderer-facing view of a Usage.
type RendererConfig struct {
	Buffering  BufferingMode
	PoolSize   int
	Clear      ClearValues
	Validation bool
	Width      int
	Height     int
	Title      string
}

// DefaultRendererConfig is triple buffered with an opaque black clear.
func DefaultRendererConfig() RendererConfig {
	return RendererConfig{
		Buffering: TripleBuffering,
		PoolSize:  int(TripleBuffering) + 1,
		Clear:     DefaultClearValues(),
		Width:     800,
		Height:    600,
		Title:     "vkframe",
	}
}

// RendererConfig derives a RendererConfig from the usage properties, falling back to
// DefaultRendererConfig for anything unset.
func (u *Usage) RendererConfig() (RendererConfig, error) {
	cfg := DefaultRendererConfig()
	if v, ok := u.Int_props[PropBuffering]; ok {
		mode := BufferingMode(v)
		if !mode.Valid() {
			return cfg, errors.Errorf("usage %s: buffering %d not one of 2, 3, 4", u.Name, v)
		}
		cfg.Buffering = mode
		cfg.PoolSize = v + 1
	}
	if v, ok := u.Int_props[PropPoolSize]; ok {
		if v < int(cfg.Buffering) {
			return cfg, errors.Errorf("usage %s: pool size %d smaller than buffering %d", u.Name, v, cfg.Buffering)
		}
		cfg.PoolSize = v
	}
	if v, ok := u.Int_props[PropWidth]; ok {
		cfg.Width = v
	}
	if v, ok := u.Int_props[PropHeight]; ok {
		cfg.Height = v
	}
	if v, ok := u.String_props[PropTitle]; ok {
		cfg.Title = v
	}
	cfg.Validation = u.Bool_props[PropValidation]
	for i, key := range clearColorKeys {
		if v, ok := u.Float_props[key]; ok {
			cfg.Clear.Color[i] = v
		}
	}
	if v, ok := u.Float_props[PropClearDepth]; ok {
		cfg.Clear.Depth = v
	}
	return cfg, nil
}
