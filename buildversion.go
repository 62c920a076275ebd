package cbclusterboot

// buildVersion is stamped by the release tooling; development builds carry
// the placeholder.
var buildVersion = "0.0.0-dev"

// BuildVersion reports the version baked into this build.
func BuildVersion() string {
	return buildVersion
}
