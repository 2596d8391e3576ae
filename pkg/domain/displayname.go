package domain

import "strings"

// UnknownName is returned when no name field is populated.
const UnknownName = "Unknown"

// NameSource extracts a label from one historical record shape.
type NameSource struct {
	Name    string
	Resolve func(PersonalInfo) (string, bool)
}

// FirstLastSource resolves "First Last" when at least one part is set.
var FirstLastSource = NameSource{
	Name: "first_last",
	Resolve: func(info PersonalInfo) (string, bool) {
		label := strings.TrimSpace(strings.TrimSpace(info.FirstName) + " " + strings.TrimSpace(info.LastName))
		return label, label != ""
	},
}

// LegacyFullNameSource resolves the single full-name field older records use.
var LegacyFullNameSource = NameSource{
	Name: "legacy_full_name",
	Resolve: func(info PersonalInfo) (string, bool) {
		label := strings.TrimSpace(info.FullName)
		return label, label != ""
	},
}

// NameResolver resolves a canonical label using an ordered list of sources.
type NameResolver struct {
	sources []NameSource
}

// NewNameResolver builds a resolver trying sources in order.
func NewNameResolver(sources ...NameSource) NameResolver {
	return NameResolver{sources: append([]NameSource(nil), sources...)}
}

// DefaultNameResolver prefers first/last name, then the legacy full name.
var DefaultNameResolver = NewNameResolver(FirstLastSource, LegacyFullNameSource)

// Resolve returns the first non-empty label, or UnknownName.
func (r NameResolver) Resolve(info PersonalInfo) string {
	for _, src := range r.sources {
		if label, ok := src.Resolve(info); ok {
			return label
		}
	}
	return UnknownName
}

// DisplayName resolves the person's label with DefaultNameResolver.
func DisplayName(p Person) string {
	return DefaultNameResolver.Resolve(p.PersonalInfo)
}
