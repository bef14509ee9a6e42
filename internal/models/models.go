package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Action kinds supported by the automation engine.
const (
	ActionSendEmail            = "send_email"
	ActionWaitDelay            = "wait_delay"
	ActionAddTag               = "add_tag"
	ActionRemoveTag            = "remove_tag"
	ActionUpdateContact        = "update_contact"
	ActionIfElse               = "if_else"
	ActionWebhook              = "webhook"
	ActionInternalNotification = "internal_notification"
)

// ValidActionKinds defines the allowed action kinds.
var ValidActionKinds = map[string]bool{
	ActionSendEmail:            true,
	ActionWaitDelay:            true,
	ActionAddTag:               true,
	ActionRemoveTag:            true,
	ActionUpdateContact:        true,
	ActionIfElse:               true,
	ActionWebhook:              true,
	ActionInternalNotification: true,
}

// Execution statuses.
const (
	ExecutionRunning   = "running"
	ExecutionWaiting   = "waiting"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// ExecutionStep statuses.
const (
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// QueueEntry statuses. An entry moves pending -> processing -> sent|failed.
// The processing state is the claim taken by a queue run; sent and failed
// are terminal and never revisited.
const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueSent       = "sent"
	QueueFailed     = "failed"
)

// Branch labels for children of an if_else action.
const (
	BranchYes = "yes"
	BranchNo  = "no"
)

// Workflow is a named, activatable automation definition. The trigger is
// folded into the workflow row: the event type that makes it eligible plus
// optional trigger configuration. Workflows are authored externally and
// consumed read-only at run time.
type Workflow struct {
	ID            uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	Name          string         `json:"name" gorm:"type:varchar(255);not null"`
	Active        bool           `json:"active" gorm:"default:false;index"`
	TriggerType   string         `json:"trigger_type" gorm:"type:varchar(100);not null;index"`
	TriggerConfig datatypes.JSONMap `json:"trigger_config,omitempty"`
	CreatedAt     time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// Action is one configured step within a workflow's action tree. Root
// actions have no parent; children of an if_else action carry the parent's
// id plus a yes/no branch label. Only if_else actions own children.
type Action struct {
	ID             uuid.UUID         `json:"id" gorm:"type:uuid;primary_key"`
	WorkflowID     uuid.UUID         `json:"workflow_id" gorm:"type:uuid;not null;index"`
	Kind           string            `json:"kind" gorm:"type:varchar(50);not null"`
	Order          int               `json:"order" gorm:"column:position;not null"`
	Config         datatypes.JSONMap `json:"config,omitempty"`
	ParentActionID *uuid.UUID        `json:"parent_action_id,omitempty" gorm:"type:uuid;index"`
	Branch         string            `json:"branch,omitempty" gorm:"type:varchar(10)"`
	CreatedAt      time.Time         `json:"created_at" gorm:"autoCreateTime"`
}

// Execution is one run of a workflow against one triggering event. Cursor
// and ResumeAt are populated only while the run is suspended on a
// wait_delay action; terminal statuses are written exactly once.
type Execution struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	WorkflowID  uuid.UUID      `json:"workflow_id" gorm:"type:uuid;not null;index"`
	ContactID   *uuid.UUID     `json:"contact_id,omitempty" gorm:"type:uuid;index"`
	Status      string         `json:"status" gorm:"type:varchar(20);not null;index"`
	Context     datatypes.JSONMap `json:"context,omitempty"`
	Cursor      datatypes.JSON `json:"cursor,omitempty"`
	ResumeAt    *time.Time     `json:"resume_at,omitempty" gorm:"index"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// ExecutionStep is the logged outcome of one action attempt. Rows are
// append-only: never updated, never deleted.
type ExecutionStep struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ExecutionID uuid.UUID `json:"execution_id" gorm:"type:uuid;not null;index"`
	ActionID    uuid.UUID `json:"action_id" gorm:"type:uuid;not null"`
	Status      string    `json:"status" gorm:"type:varchar(20);not null"`
	Result      string    `json:"result,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// QueueEntry is one scheduled, not-yet-delivered notification message.
type QueueEntry struct {
	ID             uuid.UUID         `json:"id" gorm:"type:uuid;primary_key"`
	RecipientEmail string            `json:"recipient_email" gorm:"type:varchar(255);not null"`
	RecipientName  string            `json:"recipient_name,omitempty" gorm:"type:varchar(255)"`
	TemplateID     uuid.UUID         `json:"template_id" gorm:"type:uuid;not null"`
	SequenceStep   int               `json:"sequence_step,omitempty"`
	ScheduledAt    time.Time         `json:"scheduled_at" gorm:"not null;index"`
	Status         string            `json:"status" gorm:"type:varchar(20);not null;index"`
	SentAt         *time.Time        `json:"sent_at,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty" gorm:"type:text"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at" gorm:"autoCreateTime"`
}

// Template is a reusable subject/body pattern containing {{variable}}
// placeholders. The editor lives elsewhere; this core only renders.
type Template struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	Subject   string    `json:"subject" gorm:"type:varchar(500);not null"`
	Body      string    `json:"body" gorm:"type:text;not null"`
	Active    bool      `json:"active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Contact is the subject record automations act on. Tag, the named fields
// and CustomFields are mutated by action handlers; LastEmailSentAt and
// SequenceStep are delivery bookkeeping.
type Contact struct {
	ID              uuid.UUID         `json:"id" gorm:"type:uuid;primary_key"`
	Email           string            `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	Name            string            `json:"name,omitempty" gorm:"type:varchar(255)"`
	Tier            string            `json:"tier,omitempty" gorm:"type:varchar(100)"`
	BackerNumber    int               `json:"backer_number,omitempty"`
	Tag             string            `json:"tag,omitempty" gorm:"type:varchar(255);index"`
	CustomFields    datatypes.JSONMap `json:"custom_fields,omitempty"`
	LastEmailSentAt *time.Time        `json:"last_email_sent_at,omitempty"`
	SequenceStep    int               `json:"sequence_step"`
	CreatedAt       time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

// EmailLog records one delivery attempt outcome for audit.
type EmailLog struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	QueueEntryID uuid.UUID `json:"queue_entry_id" gorm:"type:uuid;not null;index"`
	Recipient    string    `json:"recipient" gorm:"type:varchar(255);not null"`
	Subject      string    `json:"subject" gorm:"type:varchar(500)"`
	Status       string    `json:"status" gorm:"type:varchar(20);not null"`
	Detail       string    `json:"detail,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}
