// Package persona holds the configurable role descriptions for the LLM
// collaborators. Defaults are compiled in; a YAML file can override any
// field per persona without restating the rest.
package persona

import (
	"fmt"
	"os"
	"strings"

	"github.com/lithammer/dedent"
	"gopkg.in/yaml.v3"
)

// Persona describes one LLM role. Prompt, when set, replaces the built-in
// instruction body for that role; Role/Goal/Backstory only shape the
// preamble.
type Persona struct {
	Role      string `yaml:"role"`
	Goal      string `yaml:"goal"`
	Backstory string `yaml:"backstory"`
	Prompt    string `yaml:"prompt"`
}

// Set bundles the three personas the pipeline uses.
type Set struct {
	ImageAnalyst Persona `yaml:"image_analyst"`
	QueryWriter  Persona `yaml:"query_writer"`
	ListingJudge Persona `yaml:"listing_judge"`
}

// Defaults returns the built-in personas.
func Defaults() Set {
	return Set{
		ImageAnalyst: Persona{
			Role: "Product Image Analyst",
			Goal: "Identify the exact product shown in the photos, including brand, model, color and condition.",
			Backstory: strings.TrimSpace(dedent.Dedent(`
				You have appraised secondhand goods for years and can spot a
				product's brand and model from small visual cues like logos,
				ports and stitching.`)),
		},
		QueryWriter: Persona{
			Role: "Marketplace Search Specialist",
			Goal: "Write short German search queries that surface comparable listings on kleinanzeigen.de.",
			Backstory: strings.TrimSpace(dedent.Dedent(`
				You know how people title their ads on German classifieds
				sites and which words narrow a search instead of widening it.`)),
		},
		ListingJudge: Persona{
			Role: "Listing Match Evaluator",
			Goal: "Judge whether scraped listings are the same product as the one in the photos, and explain how the query should change when they are not.",
			Backstory: strings.TrimSpace(dedent.Dedent(`
				You compare product attributes strictly: a different model
				revision or bundle is not a match, even when the title looks
				similar.`)),
		},
	}
}

// Load reads personas from a YAML file and merges them over the defaults.
// An empty path returns the defaults unchanged.
func Load(path string) (Set, error) {
	set := Defaults()
	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("failed to read persona file: %w", err)
	}

	var overrides Set
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return Set{}, fmt.Errorf("failed to parse persona file: %w", err)
	}

	set.ImageAnalyst = merge(set.ImageAnalyst, overrides.ImageAnalyst)
	set.QueryWriter = merge(set.QueryWriter, overrides.QueryWriter)
	set.ListingJudge = merge(set.ListingJudge, overrides.ListingJudge)
	return set, nil
}

// Preamble renders the persona as a prompt preamble.
func (p Persona) Preamble() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s.", p.Role)
	if p.Goal != "" {
		b.WriteString(" " + p.Goal)
	}
	if p.Backstory != "" {
		b.WriteString("\n" + p.Backstory)
	}
	return b.String()
}

func merge(base, override Persona) Persona {
	if override.Role != "" {
		base.Role = override.Role
	}
	if override.Goal != "" {
		base.Goal = override.Goal
	}
	if override.Backstory != "" {
		base.Backstory = override.Backstory
	}
	if override.Prompt != "" {
		base.Prompt = override.Prompt
	}
	return base
}
