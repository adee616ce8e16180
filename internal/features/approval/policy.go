package approval

import (
	"fmt"
	"os"
	"regexp"
	"slices"

	"go-opsdesk/internal/config"
	"go-opsdesk/pkg/utils"

	"gopkg.in/yaml.v3"
)

// Mode selects how an entity's records resolve into its status.
type Mode string

const (
	// ModeSequential: levels resolve in order, each reachable only after the
	// previous one approves.
	ModeSequential Mode = "sequential"
	// ModeParallel: every level must approve, in any order; one rejection
	// resolves the entity immediately.
	ModeParallel Mode = "parallel"
)

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Policy describes the approval levels of one entity type. It is plain data:
// new entity types plug in here without touching the transition code.
type Policy struct {
	Type                  EntityType `yaml:"type" json:"type"`
	Slug                  string     `yaml:"slug" json:"slug"` // URL segment and table/collection name
	Mode                  Mode       `yaml:"mode" json:"mode"`
	Levels                []string   `yaml:"levels" json:"levels"`
	AwaitingPrefix        string     `yaml:"awaitingPrefix" json:"awaitingPrefix,omitempty"` // sequential: prefix + level
	AwaitingStatus        string     `yaml:"awaitingStatus" json:"awaitingStatus,omitempty"` // parallel
	CompletedStatus       string     `yaml:"completedStatus" json:"completedStatus"`
	RejectedStatus        string     `yaml:"rejectedStatus" json:"rejectedStatus"`
	DelegationPermissions []string   `yaml:"delegationPermissions" json:"delegationPermissions"`
}

// DefaultPolicies is the built-in registry content.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			Type:                  EntityRequest,
			Slug:                  "requests",
			Mode:                  ModeSequential,
			Levels:                []string{"dept_head", "admin_head"},
			AwaitingPrefix:        "pending_",
			CompletedStatus:       "approved",
			RejectedStatus:        "rejected",
			DelegationPermissions: []string{"add_approvers", "manage_approvers"},
		},
		{
			Type:                  EntityPayment,
			Slug:                  "payments",
			Mode:                  ModeParallel,
			Levels:                []string{"accountant", "finance_manager", "ceo"},
			AwaitingStatus:        "pending_approval",
			CompletedStatus:       "scheduled",
			RejectedStatus:        "voided",
			DelegationPermissions: []string{"manage_approvers"},
		},
		{
			Type:                  EntityPayroll,
			Slug:                  "payroll",
			Mode:                  ModeParallel,
			Levels:                []string{"accountant", "finance_manager", "director"},
			AwaitingStatus:        "pending_approval",
			CompletedStatus:       "processed",
			RejectedStatus:        "rejected",
			DelegationPermissions: []string{"manage_approvers"},
		},
		{
			Type:                  EntityProject,
			Slug:                  "projects",
			Mode:                  ModeSequential,
			Levels:                []string{"director", "ceo"},
			AwaitingPrefix:        "pending_",
			CompletedStatus:       "approved",
			RejectedStatus:        "rejected",
			DelegationPermissions: []string{"add_approvers", "manage_approvers"},
		},
	}
}

func (p *Policy) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("policy without type")
	}
	if !identifierPattern.MatchString(p.Slug) {
		return fmt.Errorf("policy %s: slug %q must match %s", p.Type, p.Slug, identifierPattern)
	}
	if p.Mode != ModeSequential && p.Mode != ModeParallel {
		return fmt.Errorf("policy %s: unknown mode %q", p.Type, p.Mode)
	}
	if len(p.Levels) == 0 {
		return fmt.Errorf("policy %s: at least one level is required", p.Type)
	}
	seen := map[string]bool{}
	for _, level := range p.Levels {
		if !identifierPattern.MatchString(level) {
			return fmt.Errorf("policy %s: invalid level %q", p.Type, level)
		}
		if seen[level] {
			return fmt.Errorf("policy %s: duplicate level %q", p.Type, level)
		}
		seen[level] = true
	}
	if p.Mode == ModeSequential && p.AwaitingPrefix == "" {
		return fmt.Errorf("policy %s: sequential policies need awaitingPrefix", p.Type)
	}
	if p.Mode == ModeParallel && p.AwaitingStatus == "" {
		return fmt.Errorf("policy %s: parallel policies need awaitingStatus", p.Type)
	}
	if p.CompletedStatus == "" || p.RejectedStatus == "" || p.CompletedStatus == p.RejectedStatus {
		return fmt.Errorf("policy %s: completed and rejected statuses must be set and distinct", p.Type)
	}
	if len(p.DelegationPermissions) == 0 {
		return fmt.Errorf("policy %s: at least one delegation permission is required", p.Type)
	}
	return nil
}

func (p *Policy) HasLevel(level string) bool {
	return slices.Contains(p.Levels, level)
}

func (p *Policy) IsTerminal(status string) bool {
	return status == p.CompletedStatus || status == p.RejectedStatus
}

func (p *Policy) AcceptsPermission(permission string) bool {
	return slices.Contains(p.DelegationPermissions, permission)
}

type levelTally struct {
	approved int
	rejected int
	pending  int
}

func (p *Policy) tally(records []ApprovalRecord) map[string]*levelTally {
	tallies := make(map[string]*levelTally, len(p.Levels))
	for _, level := range p.Levels {
		tallies[level] = &levelTally{}
	}
	for _, r := range records {
		t, ok := tallies[r.Level]
		if !ok {
			continue
		}
		switch r.Status {
		case StatusApproved:
			t.approved++
		case StatusRejected:
			t.rejected++
		default:
			t.pending++
		}
	}
	return tallies
}

// Project computes the entity status from the full set of its records.
// A level is satisfied once any one of its records approves.
func (p *Policy) Project(records []ApprovalRecord) string {
	tallies := p.tally(records)

	if p.Mode == ModeSequential {
		for _, level := range p.Levels {
			t := tallies[level]
			if t.rejected > 0 {
				return p.RejectedStatus
			}
			if t.approved == 0 {
				return p.AwaitingPrefix + level
			}
		}
		return p.CompletedStatus
	}

	complete := true
	for _, level := range p.Levels {
		t := tallies[level]
		if t.rejected > 0 {
			return p.RejectedStatus
		}
		if t.approved == 0 {
			complete = false
		}
	}
	if complete {
		return p.CompletedStatus
	}
	return p.AwaitingStatus
}

// CurrentLevel is the first level without an approval. Only meaningful for
// sequential policies; ok is false when every level is satisfied.
func (p *Policy) CurrentLevel(records []ApprovalRecord) (string, bool) {
	tallies := p.tally(records)
	for _, level := range p.Levels {
		if tallies[level].approved == 0 {
			return level, true
		}
	}
	return "", false
}

// LevelSatisfied reports whether any record at level has approved.
func (p *Policy) LevelSatisfied(records []ApprovalRecord, level string) bool {
	t, ok := p.tally(records)[level]
	return ok && t.approved > 0
}

// Actionable decides whether acting on rec can still change the entity.
// Pending records that no longer matter stay pending; they are never cancelled.
func (p *Policy) Actionable(records []ApprovalRecord, rec ApprovalRecord) error {
	if status := p.Project(records); p.IsTerminal(status) {
		return newError(KindAlreadyProcessed, "%s %s is already %s", p.Type, rec.EntityID, status).
			with("entityStatus", status)
	}
	if p.LevelSatisfied(records, rec.Level) {
		return newError(KindAlreadyProcessed, "level %s was already approved by another approver", rec.Level).
			with("level", rec.Level)
	}
	if p.Mode == ModeSequential {
		current, _ := p.CurrentLevel(records)
		if current != rec.Level {
			return newError(KindStageNotReached, "level %s is not reachable until %s approves", rec.Level, current).
				with("currentLevel", current)
		}
	}
	return nil
}

// Registry looks policies up by entity type or URL slug.
type Registry struct {
	order  []EntityType
	byType map[EntityType]*Policy
	bySlug map[string]*Policy
}

func NewRegistry(policies ...Policy) (*Registry, error) {
	r := &Registry{
		byType: make(map[EntityType]*Policy),
		bySlug: make(map[string]*Policy),
	}
	for i := range policies {
		p := policies[i]
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byType[p.Type]; dup {
			return nil, fmt.Errorf("duplicate policy for %s", p.Type)
		}
		if _, dup := r.bySlug[p.Slug]; dup {
			return nil, fmt.Errorf("duplicate policy slug %s", p.Slug)
		}
		r.order = append(r.order, p.Type)
		r.byType[p.Type] = &p
		r.bySlug[p.Slug] = &p
	}
	return r, nil
}

// NewRegistryFromConfig starts from DefaultPolicies and applies POLICY_FILE.
// Entries in the file replace the default of the same type or add new types.
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	policies := DefaultPolicies()
	if cfg.PolicyFile == "" {
		return NewRegistry(policies...)
	}

	overrides, err := LoadPolicyFile(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		idx := slices.IndexFunc(policies, func(p Policy) bool { return p.Type == o.Type })
		if idx >= 0 {
			policies[idx] = o
		} else {
			policies = append(policies, o)
		}
	}
	return NewRegistry(policies...)
}

func LoadPolicyFile(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var doc struct {
		Policies []Policy `yaml:"policies"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return doc.Policies, nil
}

func (r *Registry) Get(t EntityType) (*Policy, bool) {
	p, ok := r.byType[t]
	return p, ok
}

// Resolve accepts a slug ("payments") or a type name ("Payment", any case).
func (r *Registry) Resolve(token string) (*Policy, bool) {
	if p, ok := r.bySlug[token]; ok {
		return p, true
	}
	want := utils.Slugify(token)
	for _, t := range r.order {
		p := r.byType[t]
		if utils.Slugify(p.Slug) == want || utils.Slugify(string(t)) == want {
			return p, true
		}
	}
	return nil, false
}

// All returns the policies in registration order.
func (r *Registry) All() []*Policy {
	out := make([]*Policy, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.byType[t])
	}
	return out
}

func (r *Registry) mustGet(t EntityType) (*Policy, error) {
	p, ok := r.byType[t]
	if !ok {
		return nil, newError(KindValidation, "unknown entity type %q", t)
	}
	return p, nil
}
