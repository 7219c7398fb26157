// Package config holds the per-compilation options: warning and feature
// registries plus the limits that bound unrolling and inlining.
package config

import "fmt"

type Feature int

const (
	FeatStrictModes Feature = iota
	FeatConstPropBranches
	FeatCount
)

type Warning int

const (
	WarnUnusedVariable Warning = iota
	WarnUnreachableCode
	WarnShadowing
	WarnExtra
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

// Limits bound compile-time blow-up from whole-program expansion.
type Limits struct {
	// MaxUnrolledStmts caps the total number of statements loop unrolling
	// may emit for one function.
	MaxUnrolledStmts int
	// MaxInlineDepth caps transitive inlining through non-recursive chains.
	MaxInlineDepth int
}

type Config struct {
	Features   map[Feature]Info
	Warnings   map[Warning]Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning
	Limits     Limits
}

func NewConfig() *Config {
	cfg := &Config{
		Features:   make(map[Feature]Info),
		Warnings:   make(map[Warning]Info),
		FeatureMap: make(map[string]Feature),
		WarningMap: make(map[string]Warning),
		Limits: Limits{
			MaxUnrolledStmts: 100_000,
			MaxInlineDepth:   64,
		},
	}

	features := map[Feature]Info{
		FeatStrictModes:       {"strict-modes", true, "Require constant arguments for constant-mode parameters."},
		FeatConstPropBranches: {"const-prop-branches", false, "Keep propagating constants into conditional branches."},
	}

	warnings := map[Warning]Info{
		WarnUnusedVariable:  {"unused-variable", true, "Warn when a private variable is assigned but never read."},
		WarnUnreachableCode: {"unreachable-code", true, "Warn about statements following a return."},
		WarnShadowing:       {"shadowing", false, "Warn when a declaration shadows an outer binding."},
		WarnExtra:           {"extra", false, "Enable extra miscellaneous warnings."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}

	return cfg
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// ApplyFlag toggles one -Wname / -Wno-name / -Fname / -Fno-name flag.
func (c *Config) ApplyFlag(flag string) error {
	name := flag
	var isWarning bool
	switch {
	case len(name) > 1 && name[0] == 'W':
		name, isWarning = name[1:], true
	case len(name) > 1 && name[0] == 'F':
		name = name[1:]
	default:
		return fmt.Errorf("unrecognized flag %q", flag)
	}
	enable := true
	if len(name) > 3 && name[:3] == "no-" {
		enable, name = false, name[3:]
	}

	if isWarning {
		if name == "all" {
			for i := Warning(0); i < WarnCount; i++ {
				c.SetWarning(i, enable)
			}
			return nil
		}
		if w, ok := c.WarningMap[name]; ok {
			c.SetWarning(w, enable)
			return nil
		}
		return fmt.Errorf("unknown warning %q", name)
	}
	if f, ok := c.FeatureMap[name]; ok {
		c.SetFeature(f, enable)
		return nil
	}
	return fmt.Errorf("unknown feature %q", name)
}
