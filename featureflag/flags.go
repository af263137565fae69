package featureflag

type Flag string

const (
	FlagDisableDeferredBuild Flag = "DISABLE_DEFERRED_BUILD"
	FlagDisablePicking       Flag = "DISABLE_PICKING"
	FlagDisablePolarTrees    Flag = "DISABLE_POLAR_TREES"
	FlagEnableGroundAlign    Flag = "ENABLE_GROUND_ALIGN"
)

var knownFlags = map[Flag]struct{}{
	FlagDisableDeferredBuild: {},
	FlagDisablePicking:       {},
	FlagDisablePolarTrees:    {},
	FlagEnableGroundAlign:    {},
}
