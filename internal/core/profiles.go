package core

import (
	"fmt"
)

// ProfileDefinition is a profile as written in configuration, before its
// parameters have been validated.
type ProfileDefinition struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  ParameterInput `yaml:"parameters"`
}

// Profile is a named, validated parameter template.
type Profile struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Parameters  ParameterSet `json:"parameters"`
}

func (p Profile) clone() Profile {
	p.Parameters = p.Parameters.Clone()
	return p
}

// ProfileCatalog is a read-only, ordered set of profiles.
type ProfileCatalog struct {
	profiles []Profile
	byID     map[string]int
}

func NewProfileCatalog(defs []ProfileDefinition) (*ProfileCatalog, error) {
	c := &ProfileCatalog{
		profiles: make([]Profile, 0, len(defs)),
		byID:     make(map[string]int, len(defs)),
	}
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("profile %q: id is required", def.Name)
		}
		if _, dup := c.byID[def.ID]; dup {
			return nil, fmt.Errorf("profile %q: duplicate id", def.ID)
		}
		params, err := Validate(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", def.ID, err)
		}
		name := def.Name
		if name == "" {
			name = def.ID
		}
		c.byID[def.ID] = len(c.profiles)
		c.profiles = append(c.profiles, Profile{
			ID:          def.ID,
			Name:        name,
			Description: def.Description,
			Parameters:  params,
		})
	}
	return c, nil
}

// List returns copies of all profiles in configuration order.
func (c *ProfileCatalog) List() []Profile {
	out := make([]Profile, len(c.profiles))
	for i, p := range c.profiles {
		out[i] = p.clone()
	}
	return out
}

func (c *ProfileCatalog) Get(id string) (Profile, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Profile{}, false
	}
	return c.profiles[i].clone(), true
}

// Default returns the first profile of the catalog.
func (c *ProfileCatalog) Default() (Profile, bool) {
	if len(c.profiles) == 0 {
		return Profile{}, false
	}
	return c.profiles[0].clone(), true
}

// DefaultProfiles returns the built-in profile definitions.
func DefaultProfiles() []ProfileDefinition {
	return []ProfileDefinition{
		{
			ID:          "standard",
			Name:        "Standard Quality",
			Description: "Balanced quality and speed - good for most prints",
			Parameters: ParameterInput{
				LayerHeight:        ptr(0.2),
				InfillDensity:      ptr(20.0),
				PrintSpeed:         ptr(50.0),
				NozzleTemperature:  ptr(200.0),
				BedTemperature:     ptr(60.0),
				SupportEnabled:     ptr(true),
				SupportDensity:     ptr(15.0),
				WallThickness:      ptr(0.8),
				TopBottomThickness: ptr(0.8),
				RetractionEnabled:  ptr(true),
				RetractionDistance: ptr(5.0),
				RetractionSpeed:    ptr(45.0),
			},
		},
		{
			ID:          "high-quality",
			Name:        "High Quality",
			Description: "Best quality with finer details - slower printing",
			Parameters: ParameterInput{
				LayerHeight:        ptr(0.1),
				InfillDensity:      ptr(30.0),
				PrintSpeed:         ptr(30.0),
				NozzleTemperature:  ptr(200.0),
				BedTemperature:     ptr(60.0),
				SupportEnabled:     ptr(true),
				SupportDensity:     ptr(20.0),
				WallThickness:      ptr(1.2),
				TopBottomThickness: ptr(1.2),
				RetractionEnabled:  ptr(true),
				RetractionDistance: ptr(5.0),
				RetractionSpeed:    ptr(45.0),
			},
		},
		{
			ID:          "fast-draft",
			Name:        "Fast Draft",
			Description: "Quick prototyping with lower quality",
			Parameters: ParameterInput{
				LayerHeight:        ptr(0.3),
				InfillDensity:      ptr(10.0),
				PrintSpeed:         ptr(80.0),
				NozzleTemperature:  ptr(210.0),
				BedTemperature:     ptr(60.0),
				SupportEnabled:     ptr(false),
				SupportDensity:     ptr(10.0),
				WallThickness:      ptr(0.8),
				TopBottomThickness: ptr(0.6),
				RetractionEnabled:  ptr(true),
				RetractionDistance: ptr(4.5),
				RetractionSpeed:    ptr(50.0),
			},
		},
	}
}
