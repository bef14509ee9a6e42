package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crowdreach/automation/internal/models"
)

// cursor marks where a suspended run picks up: the next root index, plus a
// branch label and child index when the run stopped inside an if_else
// branch.
type cursor struct {
	RootIndex   int    `json:"root_index"`
	Branch      string `json:"branch,omitempty"`
	BranchIndex int    `json:"branch_index,omitempty"`
}

// Executor runs one workflow's action tree to completion or to its next
// checkpoint, producing one execution row plus one step row per action
// attempt.
type Executor struct {
	db       *gorm.DB
	registry *Registry
	now      func() time.Time
}

func NewExecutor(db *gorm.DB, registry *Registry) *Executor {
	return &Executor{db: db, registry: registry, now: time.Now}
}

// Start creates the execution row and runs the workflow's action tree from
// the beginning. A failed action taints the final status but never aborts
// the remaining actions; only a wait_delay checkpoint stops the traversal
// early, leaving the execution waiting for resumption.
func (e *Executor) Start(workflow *models.Workflow, rc *RunContext) (*models.Execution, error) {
	execution := &models.Execution{
		ID:         uuid.New(),
		WorkflowID: workflow.ID,
		ContactID:  rc.ContactID,
		Status:     models.ExecutionRunning,
		Context:    rc.toMap(),
	}
	if err := e.db.Create(execution).Error; err != nil {
		return nil, fmt.Errorf("failed to create execution for workflow %s: %w", workflow.ID, err)
	}
	log.Printf("Started execution %s for workflow %s (%s)", execution.ID, workflow.ID, workflow.Name)

	if err := e.run(execution, rc, cursor{}); err != nil {
		return execution, err
	}
	return execution, nil
}

// Resume continues a waiting execution from its persisted cursor.
func (e *Executor) Resume(execution *models.Execution) error {
	if execution.Status != models.ExecutionWaiting {
		return fmt.Errorf("execution %s is %s, not waiting", execution.ID, execution.Status)
	}
	var cur cursor
	if len(execution.Cursor) > 0 {
		if err := json.Unmarshal(execution.Cursor, &cur); err != nil {
			return fmt.Errorf("failed to decode cursor for execution %s: %w", execution.ID, err)
		}
	}
	rc := runContextFromMap(execution.Context)

	updates := map[string]interface{}{"status": models.ExecutionRunning, "resume_at": nil}
	if err := e.db.Model(execution).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to mark execution %s running: %w", execution.ID, err)
	}
	execution.Status = models.ExecutionRunning
	log.Printf("Resuming execution %s at root %d", execution.ID, cur.RootIndex)

	return e.run(execution, rc, cur)
}

// ResumeDue resumes every waiting execution whose resume time has passed.
// Invoked periodically by the scheduler.
func (e *Executor) ResumeDue() (int, error) {
	var waiting []models.Execution
	err := e.db.Where("status = ? AND resume_at IS NOT NULL AND resume_at <= ?",
		models.ExecutionWaiting, e.now()).Order("resume_at asc").Find(&waiting).Error
	if err != nil {
		return 0, fmt.Errorf("failed to query waiting executions: %w", err)
	}
	resumed := 0
	for i := range waiting {
		if err := e.Resume(&waiting[i]); err != nil {
			log.Printf("Error resuming execution %s: %v", waiting[i].ID, err)
			continue
		}
		resumed++
	}
	return resumed, nil
}

func (e *Executor) run(execution *models.Execution, rc *RunContext, cur cursor) error {
	tree, err := LoadTree(e.db, execution.WorkflowID)
	if err != nil {
		e.finalize(execution, true)
		return err
	}

	for i := cur.RootIndex; i < len(tree.Roots); i++ {
		node := tree.Roots[i]

		branch := ""
		branchStart := 0
		if i == cur.RootIndex && cur.Branch != "" {
			// Resuming inside a branch: the conditional itself already ran.
			branch = cur.Branch
			branchStart = cur.BranchIndex
		} else {
			result, err := e.registry.Run(node.Action, rc)
			e.recordStep(execution, node.Action, result, err)
			if err != nil {
				continue
			}
			if result.SuspendUntil != nil {
				return e.suspend(execution, cursor{RootIndex: i + 1}, *result.SuspendUntil)
			}
			if node.Action.Kind == models.ActionIfElse {
				branch = models.BranchNo
				if result.Condition {
					branch = models.BranchYes
				}
			}
		}

		if branch == "" {
			continue
		}
		children := node.Children[branch]
		for j := branchStart; j < len(children); j++ {
			child := children[j]
			result, err := e.registry.Run(child, rc)
			e.recordStep(execution, child, result, err)
			if err != nil {
				continue
			}
			if result.SuspendUntil != nil {
				return e.suspend(execution, cursor{RootIndex: i, Branch: branch, BranchIndex: j + 1}, *result.SuspendUntil)
			}
		}
	}

	var failedSteps int64
	e.db.Model(&models.ExecutionStep{}).
		Where("execution_id = ? AND status = ?", execution.ID, models.StepFailed).
		Count(&failedSteps)
	e.finalize(execution, failedSteps > 0)
	return nil
}

// recordStep appends one step row for an action attempt. Step rows are
// never updated afterwards.
func (e *Executor) recordStep(execution *models.Execution, action *models.Action, result *Result, err error) {
	step := models.ExecutionStep{
		ExecutionID: execution.ID,
		ActionID:    action.ID,
		Status:      models.StepCompleted,
	}
	if err != nil {
		step.Status = models.StepFailed
		step.Result = err.Error()
		log.Printf("Action %s (%s) failed in execution %s: %v", action.ID, action.Kind, execution.ID, err)
	} else if result != nil {
		step.Result = result.Summary
	}
	if dbErr := e.db.Create(&step).Error; dbErr != nil {
		log.Printf("Error recording step for action %s in execution %s: %v", action.ID, execution.ID, dbErr)
	}
}

func (e *Executor) suspend(execution *models.Execution, cur cursor, resumeAt time.Time) error {
	raw, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("failed to encode cursor for execution %s: %w", execution.ID, err)
	}
	updates := map[string]interface{}{
		"status":    models.ExecutionWaiting,
		"cursor":    raw,
		"resume_at": resumeAt,
	}
	if err := e.db.Model(execution).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to suspend execution %s: %w", execution.ID, err)
	}
	execution.Status = models.ExecutionWaiting
	execution.ResumeAt = &resumeAt
	log.Printf("Execution %s suspended until %s", execution.ID, resumeAt.Format(time.RFC3339))
	return nil
}

// finalize writes the terminal status exactly once, after every action
// (including branch children) has been attempted.
func (e *Executor) finalize(execution *models.Execution, failed bool) {
	status := models.ExecutionCompleted
	if failed {
		status = models.ExecutionFailed
	}
	completedAt := e.now()
	updates := map[string]interface{}{
		"status":       status,
		"completed_at": completedAt,
		"cursor":       nil,
		"resume_at":    nil,
	}
	if err := e.db.Model(execution).Updates(updates).Error; err != nil {
		log.Printf("Error finalizing execution %s: %v", execution.ID, err)
		return
	}
	execution.Status = status
	execution.CompletedAt = &completedAt
	log.Printf("Execution %s finished with status %s", execution.ID, status)
}
