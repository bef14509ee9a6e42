package engine

import (
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"github.com/crowdreach/automation/internal/models"
)

// ErrMissingTriggerType rejects a dispatch before any work is done.
var ErrMissingTriggerType = errors.New("trigger_type is required")

// Dispatcher resolves an incoming event to all eligible workflows and runs
// them one after another.
type Dispatcher struct {
	db       *gorm.DB
	executor *Executor
}

func NewDispatcher(db *gorm.DB, executor *Executor) *Dispatcher {
	return &Dispatcher{db: db, executor: executor}
}

// DB exposes the datastore handle for the read surfaces built on top of
// the dispatcher.
func (d *Dispatcher) DB() *gorm.DB {
	return d.db
}

// Dispatch runs every active workflow whose trigger type matches the
// event, sequentially. No matching workflow is a successful dispatch with
// zero executions, not an error.
func (d *Dispatcher) Dispatch(triggerType string, rc *RunContext) (*models.DispatchResponse, error) {
	if triggerType == "" {
		return nil, ErrMissingTriggerType
	}

	var workflows []models.Workflow
	err := d.db.Where("trigger_type = ? AND active = ?", triggerType, true).
		Order("created_at asc").Find(&workflows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up workflows for trigger %q: %w", triggerType, err)
	}

	response := &models.DispatchResponse{Results: []models.DispatchResult{}}
	if len(workflows) == 0 {
		log.Printf("No active workflow for trigger %q, nothing to do", triggerType)
		return response, nil
	}

	for i := range workflows {
		wf := &workflows[i]
		execution, err := d.executor.Start(wf, rc)
		if err != nil {
			log.Printf("Error executing workflow %s for trigger %q: %v", wf.ID, triggerType, err)
		}
		if execution == nil {
			continue
		}
		response.Executions++
		response.Results = append(response.Results, models.DispatchResult{
			WorkflowID:  wf.ID,
			ExecutionID: execution.ID,
			Status:      execution.Status,
		})
	}
	return response, nil
}
