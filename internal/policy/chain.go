package policy

import (
	"fmt"
	"time"

	"github.com/floorops/approval-engine/internal/models"
)

// Role constants for the approval ladder
const (
	RoleShiftSupervisor    = "shift-supervisor"
	RoleFloorManager       = "floor-manager"
	RoleGeneralManager     = "general-manager"
	RoleRegionalDirector   = "regional-director"
	RoleSettlementOperator = "settlement-operator"
)

// riskBucket maps a half-open risk-score range to a role ladder and urgency.
// The table is ordered by ascending range; the last bucket is inclusive of 100.
type riskBucket struct {
	name    string
	min     int
	max     int // exclusive, except the final bucket
	roles   []string
	urgency string
}

var riskBuckets = []riskBucket{
	{name: "minimal", min: 0, max: 20, roles: []string{RoleShiftSupervisor}, urgency: models.UrgencyNormal},
	{name: "low", min: 20, max: 40, roles: []string{RoleShiftSupervisor}, urgency: models.UrgencyNormal},
	{name: "medium", min: 40, max: 60, roles: []string{RoleShiftSupervisor, RoleFloorManager}, urgency: models.UrgencyNormal},
	{name: "high", min: 60, max: 80, roles: []string{RoleShiftSupervisor, RoleGeneralManager}, urgency: models.UrgencyUrgent},
	{name: "critical", min: 80, max: 100, roles: []string{RoleShiftSupervisor, RoleGeneralManager, RoleRegionalDirector}, urgency: models.UrgencyCritical},
}

// ChainLevel is one entry of a built approval chain
type ChainLevel struct {
	Role     string
	Duration time.Duration
}

// Config holds the tunable policy tables. Role ladders and bucket boundaries
// are fixed; deadlines and the escalation ladder vary by deployment.
type Config struct {
	// LevelDurations maps urgency level to the per-level decision deadline
	LevelDurations map[string]time.Duration

	// EscalationLadders maps a reason category to its ordered escalation
	// ladder; the "default" key applies when a category has no entry.
	EscalationLadders map[string][]string
}

// DefaultConfig returns the standard policy tables
func DefaultConfig() Config {
	return Config{
		LevelDurations: map[string]time.Duration{
			models.UrgencyNormal:   4 * time.Hour,
			models.UrgencyUrgent:   2 * time.Hour,
			models.UrgencyCritical: 30 * time.Minute,
		},
		EscalationLadders: map[string][]string{
			"default": {RoleShiftSupervisor, RoleFloorManager, RoleGeneralManager, RoleRegionalDirector},
		},
	}
}

// ChainPolicy maps a risk/urgency profile to an ordered approval chain.
// Pure and deterministic: the same input always yields the same chain.
type ChainPolicy struct {
	cfg Config
}

// NewChainPolicy creates a chain policy from the given tables
func NewChainPolicy(cfg Config) *ChainPolicy {
	if cfg.LevelDurations == nil {
		cfg.LevelDurations = DefaultConfig().LevelDurations
	}
	if cfg.EscalationLadders == nil {
		cfg.EscalationLadders = DefaultConfig().EscalationLadders
	}
	return &ChainPolicy{cfg: cfg}
}

// BuildChain maps a risk score to the ordered approval chain and derived
// urgency level. Fails with ErrPolicy if the score is outside [0,100].
func (p *ChainPolicy) BuildChain(riskScore int, category string, financialImpact float64) ([]ChainLevel, string, error) {
	if riskScore < 0 || riskScore > 100 {
		return nil, "", fmt.Errorf("%w: risk score %d outside [0,100]", ErrPolicy, riskScore)
	}

	bucket := riskBuckets[len(riskBuckets)-1]
	for _, b := range riskBuckets {
		if riskScore >= b.min && riskScore < b.max {
			bucket = b
			break
		}
	}

	duration := p.LevelDuration(bucket.urgency)
	chain := make([]ChainLevel, 0, len(bucket.roles))
	for _, role := range bucket.roles {
		chain = append(chain, ChainLevel{Role: role, Duration: duration})
	}

	return chain, bucket.urgency, nil
}

// BuildSettlementChain returns the degenerate settlement chain: maxLevel+1
// levels (0..maxLevel) all gated by the settlement operator role.
func (p *ChainPolicy) BuildSettlementChain(maxLevel int) ([]ChainLevel, string, error) {
	if maxLevel < 0 {
		return nil, "", fmt.Errorf("%w: settlement max level %d", ErrPolicy, maxLevel)
	}

	duration := p.LevelDuration(models.UrgencyNormal)
	chain := make([]ChainLevel, 0, maxLevel+1)
	for i := 0; i <= maxLevel; i++ {
		chain = append(chain, ChainLevel{Role: RoleSettlementOperator, Duration: duration})
	}

	return chain, models.UrgencyNormal, nil
}

// LevelDuration returns the decision deadline for an urgency level
func (p *ChainPolicy) LevelDuration(urgency string) time.Duration {
	if d, ok := p.cfg.LevelDurations[urgency]; ok {
		return d
	}
	return p.cfg.LevelDurations[models.UrgencyNormal]
}

// NextEscalationRole returns the role one rung above currentRole on the
// category's ladder. Fails with ErrNoFurtherEscalation at the top, or if the
// role is not on the ladder at all.
func (p *ChainPolicy) NextEscalationRole(category, currentRole string) (string, error) {
	ladder, ok := p.cfg.EscalationLadders[category]
	if !ok {
		ladder = p.cfg.EscalationLadders["default"]
	}

	for i, role := range ladder {
		if role == currentRole {
			if i+1 >= len(ladder) {
				return "", fmt.Errorf("%w: %s is the top of the %q ladder", ErrNoFurtherEscalation, currentRole, category)
			}
			return ladder[i+1], nil
		}
	}

	return "", fmt.Errorf("%w: role %s is not on the %q ladder", ErrNoFurtherEscalation, currentRole, category)
}
