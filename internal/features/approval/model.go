package approval

import "time"

// EntityType names a business entity whose status is gated by approvals.
type EntityType string

const (
	EntityRequest EntityType = "Request"
	EntityPayment EntityType = "Payment"
	EntityPayroll EntityType = "Payroll"
	EntityProject EntityType = "Project"
)

// Status of a single ApprovalRecord. Terminal once it leaves pending.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

func (a Action) Valid() bool {
	return a == ActionApprove || a == ActionReject
}

// Outcome is the record status an action leads to.
func (a Action) Outcome() Status {
	if a == ActionReject {
		return StatusRejected
	}
	return StatusApproved
}

// ApprovalRecord is one approver's decision for one level of one entity.
// Records are never deleted; they are the permanent trail of who decided what.
type ApprovalRecord struct {
	ID         string     `bson:"_id" json:"id"`
	EntityType EntityType `bson:"entity_type" json:"entityType"`
	EntityID   string     `bson:"entity_id" json:"entityId"`
	Level      string     `bson:"level" json:"level"`
	UserID     string     `bson:"user_id" json:"userId"`
	Status     Status     `bson:"status" json:"status"`
	ActionDate *time.Time `bson:"action_date,omitempty" json:"actionDate,omitempty"`
	Comments   *string    `bson:"comments,omitempty" json:"comments,omitempty"`
	AddedBy    *string    `bson:"added_by,omitempty" json:"addedBy,omitempty"` // Set only for delegated records
	CreatedAt  time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `bson:"updated_at" json:"updatedAt"`
}

// Entity is the approval-relevant slice of a Request, Payment, Payroll run or
// Project. Status is a projection of the entity's approval records.
type Entity struct {
	ID          string     `bson:"_id" json:"id"`
	Type        EntityType `bson:"type" json:"type"`
	Title       string     `bson:"title" json:"title"`
	Description string     `bson:"description,omitempty" json:"description,omitempty"`
	Amount      float64    `bson:"amount" json:"amount"`
	Status      string     `bson:"status" json:"status"`
	RequestedBy string     `bson:"requested_by" json:"requestedBy"`
	Version     int64      `bson:"version" json:"-"`
	CreatedAt   time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updatedAt"`
}

// EntityView is an entity together with its full approval trail.
type EntityView struct {
	Entity
	Approvals []ApprovalRecord `json:"approvals"`
}

type EntitySummary struct {
	ID          string     `json:"id"`
	Type        EntityType `json:"type"`
	Title       string     `json:"title"`
	Amount      float64    `json:"amount"`
	Status      string     `json:"status"`
	RequestedBy string     `json:"requestedBy"`
}

func (e *Entity) Summary() EntitySummary {
	return EntitySummary{
		ID:          e.ID,
		Type:        e.Type,
		Title:       e.Title,
		Amount:      e.Amount,
		Status:      e.Status,
		RequestedBy: e.RequestedBy,
	}
}

// PendingApproval is one entry of an approver's queue. Actionable is false
// when the record is still pending but no longer decides anything, e.g. the
// entity is already resolved or another approver satisfied the level.
type PendingApproval struct {
	Approval   ApprovalRecord `json:"approval"`
	Entity     EntitySummary  `json:"entity"`
	Actionable bool           `json:"actionable"`
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
