// Package policy implements S5 governance (C12): an Analyst that submits
// governance questions to the LLM router and an Evolver that runs proposed
// policy updates through an operator-authored meta-policy script before
// they cascade down to S3's policy cache.
package policy

import "time"

// Decision is what Evolver.Evaluate returns for a proposed update.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
	DecisionMutate Decision = "mutate"
)

// Update is a proposed change to a named policy value.
type Update struct {
	PolicyName string         `json:"policy_name"`
	Proposed   map[string]any `json:"proposed"`
	ProposedBy string         `json:"proposed_by"`
	TenantID   string         `json:"tenant_id"`
}

// Verdict is the outcome of running an Update through the meta-policy
// script.
type Verdict struct {
	Decision Decision
	// Mutated holds the script's replacement value when Decision ==
	// DecisionMutate; ignored otherwise.
	Mutated map[string]any
	Reason  string
	At      time.Time
}

// Explanation is emitted by C10 and consumed here by Analyst.
type Explanation struct {
	EpisodeID          string
	Summary            string
	RootCause          string
	Impact             string
	RecommendedActions []string
	Confidence         float64
	SOPReferences      []string
}
