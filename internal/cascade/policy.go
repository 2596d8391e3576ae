package cascade

import (
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"conservatory/internal/enrollment"
	"conservatory/pkg/domain"
)

// RiskThresholds grade the total affected-record count. Counts up to LowMax
// are low, up to MediumMax medium, anything above high.
type RiskThresholds struct {
	LowMax    int `yaml:"low_max" validate:"min=0"`
	MediumMax int `yaml:"medium_max" validate:"gtfield=LowMax"`
}

// Tolerance bounds how far a collection count may move between the plan the
// operator saw and the plan re-read at execution time.
type Tolerance struct {
	Absolute int     `yaml:"absolute" validate:"min=0"`
	Ratio    float64 `yaml:"ratio" validate:"min=0,max=1"`
}

// Allowed returns the permitted drift for a collection previously counted at prev.
func (t Tolerance) Allowed(prev int) int {
	byRatio := int(math.Floor(float64(prev) * t.Ratio))
	return max(t.Absolute, byRatio)
}

// Policy configures cascade deletion for a deployment.
type Policy struct {
	Risk      RiskThresholds `yaml:"risk"`
	Tolerance Tolerance      `yaml:"tolerance"`
	// Order lists, per root type, the leaf collections in deletion order.
	// Leaves missing from a list are appended in default order.
	Order          map[domain.EntityType][]string `yaml:"order" validate:"dive,keys,oneof=person group lesson,endkeys,dive,oneof=attendance rehearsals assessments documents"`
	Retry          enrollment.RetryPolicy         `yaml:"retry"`
	SnapshotPrefix string                         `yaml:"snapshot_prefix" validate:"required"`
}

// leafCollections lists the leaves reachable from each root type in default order.
var leafCollections = map[domain.EntityType][]string{
	domain.EntityPerson: {CollectionAttendance, CollectionAssessments, CollectionDocuments},
	domain.EntityGroup:  {CollectionAttendance, CollectionRehearsals, CollectionDocuments},
	domain.EntityLesson: {CollectionAttendance, CollectionDocuments},
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	order := make(map[domain.EntityType][]string, len(leafCollections))
	for k, v := range leafCollections {
		order[k] = slices.Clone(v)
	}
	return Policy{
		Risk:           RiskThresholds{LowMax: 10, MediumMax: 100},
		Tolerance:      Tolerance{Absolute: 0, Ratio: 0.1},
		Order:          order,
		Retry:          enrollment.DefaultRetryPolicy(),
		SnapshotPrefix: "snapshots",
	}
}

var validate = validator.New()

// Validate checks field constraints and that every ordered collection is a
// leaf of its root type.
func (p Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid cascade policy: %w", err)
	}
	for root, order := range p.Order {
		seen := map[string]bool{}
		for _, name := range order {
			if !slices.Contains(leafCollections[root], name) {
				return fmt.Errorf("invalid cascade policy: %s is not a leaf collection of %s", name, root)
			}
			if seen[name] {
				return fmt.Errorf("invalid cascade policy: %s listed twice for %s", name, root)
			}
			seen[name] = true
		}
	}
	return nil
}

// LeafOrder returns the deletion order of leaf collections for root.
func (p Policy) LeafOrder(root domain.EntityType) []string {
	out := slices.Clone(p.Order[root])
	for _, name := range leafCollections[root] {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

// ParsePolicy decodes YAML over the defaults and validates the result.
func ParsePolicy(data []byte) (Policy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("decode cascade policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadPolicy reads a YAML policy file.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read cascade policy: %w", err)
	}
	return ParsePolicy(data)
}

// AssessRisk grades a cascade. Cross-tenant references are always high;
// irreversible artifacts are at least medium. For fixed flags the tier
// never decreases as total grows.
func AssessRisk(total int, irreversible, crossTenant bool, t RiskThresholds) domain.RiskTier {
	switch {
	case crossTenant || total > t.MediumMax:
		return domain.RiskHigh
	case irreversible || total > t.LowMax:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}
