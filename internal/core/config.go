package core

import (
	"os"

	"conservatory/internal/cascade"
)

// LoadPolicy reads the cascade policy named by CONSERVATORY_CASCADE_POLICY,
// falling back to the defaults when the variable is unset.
func LoadPolicy() (cascade.Policy, error) {
	path := os.Getenv("CONSERVATORY_CASCADE_POLICY")
	if path == "" {
		return cascade.DefaultPolicy(), nil
	}
	return cascade.LoadPolicy(path)
}
