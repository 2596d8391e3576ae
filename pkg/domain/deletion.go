package domain

import "time"

// RiskTier grades the blast radius of a cascade deletion.
type RiskTier string

// Risk tiers in ascending order.
const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// Rank orders tiers so callers can compare them.
func (t RiskTier) Rank() int {
	switch t {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// CollectionImpact estimates how many records of a collection a cascade touches.
type CollectionImpact struct {
	Name           string `json:"name"`
	EstimatedCount int    `json:"estimatedCount"`
	// Irreversible marks collections holding file artifacts.
	Irreversible bool `json:"irreversible,omitempty"`
}

// DeletionPlan is the preview of a cascade. It is never persisted.
type DeletionPlan struct {
	Root                EntityRef          `json:"root"`
	RootID              string             `json:"rootId"`
	AffectedCollections []CollectionImpact `json:"affectedCollections"`
	TotalRecords        int                `json:"totalRecords"`
	RiskTier            RiskTier           `json:"riskTier"`
	Warnings            []string           `json:"warnings"`
	Blockers            []string           `json:"blockers,omitempty"`
	CanProceed          bool               `json:"canProceed"`
	GeneratedAt         time.Time          `json:"generatedAt"`
}

// Count returns the estimated count for the named collection.
func (p DeletionPlan) Count(name string) int {
	for _, c := range p.AffectedCollections {
		if c.Name == name {
			return c.EstimatedCount
		}
	}
	return 0
}

// DeletionOptions are the operator-facing toggles for a cascade.
type DeletionOptions struct {
	CreateSnapshot  bool   `json:"createSnapshot"`
	SkipValidation  bool   `json:"skipValidation"`
	DeleteDocuments bool   `json:"deleteDocuments"`
	NotifyUsers     bool   `json:"notifyUsers"`
	Reason          string `json:"reason" validate:"max=500"`
}

// DeletionOutcome summarises a completed cascade.
type DeletionOutcome struct {
	Root        EntityRef      `json:"root"`
	Completed   bool           `json:"completed"`
	Affected    map[string]int `json:"affected"`
	SnapshotKey string         `json:"snapshotKey,omitempty"`
	Notified    []string       `json:"notified,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
}
