package domain

// ResolveSkip merges the three sources of a skip flag. An explicit per-module
// plugin configuration wins over a user-supplied command-line property, which
// wins over the ambient project property. With none set, nothing is skipped.
func ResolveSkip(config, userProperty, ambient *bool) bool {
	switch {
	case config != nil:
		return *config
	case userProperty != nil:
		return *userProperty
	case ambient != nil:
		return *ambient
	default:
		return false
	}
}

// SkipSources holds the optional values of skipTests, skipUTs and skipITs as
// seen by one source (configuration, user properties or project properties).
type SkipSources struct {
	SkipTests *bool
	SkipUTs   *bool
	SkipITs   *bool
}

// SkipFlags are the resolved per-module test skip decisions.
type SkipFlags struct {
	SkipTests bool
	SkipUTs   bool
	SkipITs   bool
}

// ResolveSkipFlags resolves every flag independently with ResolveSkip.
func ResolveSkipFlags(config, user, ambient SkipSources) SkipFlags {
	return SkipFlags{
		SkipTests: ResolveSkip(config.SkipTests, user.SkipTests, ambient.SkipTests),
		SkipUTs:   ResolveSkip(config.SkipUTs, user.SkipUTs, ambient.SkipUTs),
		SkipITs:   ResolveSkip(config.SkipITs, user.SkipITs, ambient.SkipITs),
	}
}

// SkipUnit reports whether unit tests are skipped.
func (f SkipFlags) SkipUnit() bool {
	return f.SkipTests || f.SkipUTs
}

// SkipIntegration reports whether integration tests are skipped.
func (f SkipFlags) SkipIntegration() bool {
	return f.SkipTests || f.SkipITs
}
