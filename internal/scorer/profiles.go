package scorer

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-intake/internal/model"
)

//go:embed profiles.yaml
var defaultProfilesYAML []byte

// Profile tunes scoring for one industry.
type Profile struct {
	PlaceholderScore int    `yaml:"placeholder_score"`
	Hint             string `yaml:"hint"`
}

// Profiles maps industry names to their Profile.
type Profiles struct {
	Industries map[string]Profile `yaml:"industries"`
}

// DefaultProfiles returns the embedded profiles.
func DefaultProfiles() *Profiles {
	p, err := ParseProfiles(defaultProfilesYAML)
	if err != nil {
		panic(err) // embedded file is static
	}
	return p
}

// LoadProfiles reads profiles from path, layered over the embedded
// defaults. An empty path returns the defaults.
func LoadProfiles(path string) (*Profiles, error) {
	p := DefaultProfiles()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scorer: read profiles %s", path)
	}
	custom, err := ParseProfiles(data)
	if err != nil {
		return nil, err
	}
	for name, prof := range custom.Industries {
		p.Industries[name] = prof
	}
	return p, nil
}

// ParseProfiles decodes a profiles document. Industry names are
// lower-cased and placeholder scores clamped to [0, 100].
func ParseProfiles(data []byte) (*Profiles, error) {
	var raw Profiles
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "scorer: parse profiles")
	}
	p := &Profiles{Industries: make(map[string]Profile, len(raw.Industries))}
	for name, prof := range raw.Industries {
		prof.PlaceholderScore = model.ClampScore(prof.PlaceholderScore)
		p.Industries[strings.ToLower(strings.TrimSpace(name))] = prof
	}
	return p, nil
}

// Lookup returns the profile for industry, falling back to "general" and
// then to a placeholder score of 70.
func (p *Profiles) Lookup(industry string) Profile {
	if p != nil {
		if prof, ok := p.Industries[strings.ToLower(strings.TrimSpace(industry))]; ok {
			return prof
		}
		if prof, ok := p.Industries[model.DefaultIndustry]; ok {
			return prof
		}
	}
	return Profile{PlaceholderScore: 70}
}

// PlaceholderScore is the score a new lead of industry is stored with
// before scoring completes.
func (p *Profiles) PlaceholderScore(industry string) int {
	return p.Lookup(industry).PlaceholderScore
}
