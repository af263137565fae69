package featureflag

import (
	"sort"
	"strings"

	"github.com/aukilabs/geoquad/models"
)

// FeatureFlag is a lookup map for features that is enabled or disabled
type FeatureFlag map[Flag]struct{}

// New returns feature flags initialized with a list of flag names. Names are
// trimmed and upper cased, empty ones are ignored.
func New(flags []string) FeatureFlag {
	featureFlag := make(FeatureFlag)
	for _, f := range flags {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		featureFlag[Flag(f)] = struct{}{}
	}
	return featureFlag
}

func (f FeatureFlag) IsSet(flag Flag) bool {
	_, ok := f[flag]
	return ok
}

// IfSet runs function `do` if flag is set in the feature flags
func (f FeatureFlag) IfSet(flag Flag, do func()) {
	if !f.IsSet(flag) {
		return
	}
	do()
}

// IfNotSet runs function `do` if flag is not set in the feature flags
func (f FeatureFlag) IfNotSet(flag Flag, do func()) {
	if f.IsSet(flag) {
		return
	}
	do()
}

// Unknown returns the set flags that no feature checks, sorted.
func (f FeatureFlag) Unknown() []string {
	var unknown []string
	for flag := range f {
		if _, ok := knownFlags[flag]; !ok {
			unknown = append(unknown, string(flag))
		}
	}
	sort.Strings(unknown)
	return unknown
}

// ApplyLayerConfig turns the layer features off or on according to the set
// flags.
func (f FeatureFlag) ApplyLayerConfig(c *models.LayerConfig) {
	f.IfSet(FlagDisableDeferredBuild, func() {
		c.Index.Async = false
	})
	f.IfSet(FlagDisablePicking, func() {
		c.Index.PickingEnabled = false
	})
	f.IfSet(FlagDisablePolarTrees, func() {
		c.DisablePolarTrees = true
	})
	f.IfSet(FlagEnableGroundAlign, func() {
		c.Index.GroundAlign = true
	})
}
