package engine

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crowdreach/automation/internal/models"
)

// ExecutionSteps returns all step rows for an execution in insertion
// order, for audit and diagnostics. Steps are append-only; this is the
// only read surface the engine exposes over them.
func ExecutionSteps(db *gorm.DB, executionID uuid.UUID) ([]models.ExecutionStep, error) {
	var steps []models.ExecutionStep
	err := db.Where("execution_id = ?", executionID).Order("id asc").Find(&steps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load steps for execution %s: %w", executionID, err)
	}
	return steps, nil
}
