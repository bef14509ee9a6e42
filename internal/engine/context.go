package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/crowdreach/automation/internal/models"
)

// RunContext carries the subject-contact identity and event metadata for
// one workflow run. It is persisted on the execution row so a suspended
// run can be resumed with the same context.
type RunContext struct {
	ContactID    *uuid.UUID
	ContactEmail string
	ContactName  string
	Metadata     map[string]interface{}
}

// Contact loads the subject-contact record, preferring the id and falling
// back to the email address.
func (rc *RunContext) Contact(db *gorm.DB) (*models.Contact, error) {
	var contact models.Contact
	if rc.ContactID != nil {
		if err := db.First(&contact, "id = ?", rc.ContactID).Error; err != nil {
			return nil, fmt.Errorf("failed to load contact %s: %w", rc.ContactID, err)
		}
		return &contact, nil
	}
	if rc.ContactEmail != "" {
		if err := db.First(&contact, "email = ?", rc.ContactEmail).Error; err != nil {
			return nil, fmt.Errorf("failed to load contact by email %s: %w", rc.ContactEmail, err)
		}
		return &contact, nil
	}
	return nil, errors.New("no contact in run context")
}

func (rc *RunContext) toMap() datatypes.JSONMap {
	m := datatypes.JSONMap{
		"contact_email": rc.ContactEmail,
		"contact_name":  rc.ContactName,
	}
	if rc.ContactID != nil {
		m["contact_id"] = rc.ContactID.String()
	}
	if len(rc.Metadata) > 0 {
		m["metadata"] = map[string]interface{}(rc.Metadata)
	}
	return m
}

func runContextFromMap(m datatypes.JSONMap) *RunContext {
	rc := &RunContext{}
	if v, ok := m["contact_id"].(string); ok {
		if id, err := uuid.Parse(v); err == nil {
			rc.ContactID = &id
		}
	}
	if v, ok := m["contact_email"].(string); ok {
		rc.ContactEmail = v
	}
	if v, ok := m["contact_name"].(string); ok {
		rc.ContactName = v
	}
	if v, ok := m["metadata"].(map[string]interface{}); ok {
		rc.Metadata = v
	}
	return rc
}
