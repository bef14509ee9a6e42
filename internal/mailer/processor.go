package mailer

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/crowdreach/automation/internal/config"
	"github.com/crowdreach/automation/internal/models"
	"github.com/crowdreach/automation/internal/render"
)

// ErrMsgProviderNotConfigured is the fixed error message written on every
// entry of a batch that is failed fast because no delivery credential is
// present.
const ErrMsgProviderNotConfigured = "email provider is not configured"

// Processor drains due queue entries: render, send, bookkeep. Each run is
// a stateless, short-lived unit of work driven by the scheduler or an
// on-demand invocation.
type Processor struct {
	db       *gorm.DB
	cfg      *config.Config
	provider Provider
	now      func() time.Time
}

func NewProcessor(db *gorm.DB, cfg *config.Config, provider Provider) *Processor {
	return &Processor{db: db, cfg: cfg, provider: provider, now: time.Now}
}

// ProcessDue selects up to the batch size of pending entries whose
// scheduled time has passed, oldest-due first, and processes them one at a
// time. A missing provider credential fails the whole batch with one fixed
// message and zero send attempts. Individual send failures mark their
// entry failed and the loop continues; nothing is retried.
func (p *Processor) ProcessDue() (*models.QueueProcessResponse, error) {
	now := p.now()
	var entries []models.QueueEntry
	err := p.db.Where("status = ? AND scheduled_at <= ?", models.QueuePending, now).
		Order("scheduled_at asc").
		Limit(p.cfg.BatchSize).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select due queue entries: %w", err)
	}

	response := &models.QueueProcessResponse{Results: []models.QueueEntryResult{}}
	if len(entries) == 0 {
		return response, nil
	}
	log.Printf("Processing %d due queue entries", len(entries))

	if !p.provider.Configured() {
		log.Printf("Delivery provider not configured, failing batch of %d entries", len(entries))
		for i := range entries {
			entry := &entries[i]
			p.markFailed(entry, ErrMsgProviderNotConfigured)
			response.Processed++
			response.Failed++
			response.Results = append(response.Results, models.QueueEntryResult{
				QueueEntryID: entry.ID,
				Recipient:    entry.RecipientEmail,
				Status:       models.QueueFailed,
				Error:        ErrMsgProviderNotConfigured,
			})
		}
		return response, nil
	}

	for i := range entries {
		entry := &entries[i]

		// Atomic claim: only one concurrent run may move the entry out of
		// pending. Zero affected rows means another run got here first.
		claim := p.db.Model(&models.QueueEntry{}).
			Where("id = ? AND status = ?", entry.ID, models.QueuePending).
			Update("status", models.QueueProcessing)
		if claim.Error != nil {
			log.Printf("Error claiming queue entry %s: %v", entry.ID, claim.Error)
			continue
		}
		if claim.RowsAffected == 0 {
			log.Printf("Queue entry %s already claimed by another run, skipping", entry.ID)
			continue
		}

		result := p.deliver(entry)
		response.Processed++
		if result.Status == models.QueueSent {
			response.Sent++
		} else {
			response.Failed++
		}
		response.Results = append(response.Results, result)
	}

	log.Printf("Queue run finished: %d processed, %d sent, %d failed",
		response.Processed, response.Sent, response.Failed)
	return response, nil
}

func (p *Processor) deliver(entry *models.QueueEntry) models.QueueEntryResult {
	result := models.QueueEntryResult{
		QueueEntryID: entry.ID,
		Recipient:    entry.RecipientEmail,
	}

	var tmpl models.Template
	if err := p.db.First(&tmpl, "id = ?", entry.TemplateID).Error; err != nil {
		msg := fmt.Sprintf("template %s not found", entry.TemplateID)
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			msg = fmt.Sprintf("failed to load template %s: %v", entry.TemplateID, err)
		}
		p.markFailed(entry, msg)
		p.writeLog(entry, "", models.QueueFailed, msg)
		result.Status = models.QueueFailed
		result.Error = msg
		return result
	}

	contact := p.lookupContact(entry)
	vars := buildVariables(p.cfg, entry, contact, p.now())
	subject := render.Render(tmpl.Subject, vars)
	body := render.Render(tmpl.Body, vars)

	messageID, err := p.provider.Send(p.cfg.DefaultFromEmail, entry.RecipientEmail, subject, body)
	if err != nil {
		log.Printf("Delivery to %s failed for entry %s: %v", entry.RecipientEmail, entry.ID, err)
		p.markFailed(entry, err.Error())
		p.writeLog(entry, subject, models.QueueFailed, err.Error())
		result.Status = models.QueueFailed
		result.Error = err.Error()
		return result
	}

	sentAt := p.now()
	updates := map[string]interface{}{"status": models.QueueSent, "sent_at": sentAt}
	if err := p.db.Model(entry).Updates(updates).Error; err != nil {
		log.Printf("Error marking entry %s sent: %v", entry.ID, err)
	}
	p.writeLog(entry, subject, models.QueueSent, fmt.Sprintf("message id %s", messageID))

	if contact != nil && recipientType(entry) == "contact" {
		contactUpdates := map[string]interface{}{
			"last_email_sent_at": sentAt,
			"sequence_step":      gorm.Expr("sequence_step + 1"),
		}
		if err := p.db.Model(contact).Updates(contactUpdates).Error; err != nil {
			log.Printf("Error updating contact %s after send: %v", contact.ID, err)
		}
	}

	result.Status = models.QueueSent
	return result
}

// lookupContact finds the tracked contact behind an entry, if any. Admin
// and one-off recipients have none.
func (p *Processor) lookupContact(entry *models.QueueEntry) *models.Contact {
	if recipientType(entry) != "contact" {
		return nil
	}
	var contact models.Contact
	if err := p.db.First(&contact, "email = ?", entry.RecipientEmail).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("Error looking up contact %s: %v", entry.RecipientEmail, err)
		}
		return nil
	}
	return &contact
}

func (p *Processor) markFailed(entry *models.QueueEntry, message string) {
	updates := map[string]interface{}{
		"status":        models.QueueFailed,
		"error_message": message,
	}
	if err := p.db.Model(entry).Updates(updates).Error; err != nil {
		log.Printf("Error marking entry %s failed: %v", entry.ID, err)
	}
}

func (p *Processor) writeLog(entry *models.QueueEntry, subject, status, detail string) {
	row := models.EmailLog{
		QueueEntryID: entry.ID,
		Recipient:    entry.RecipientEmail,
		Subject:      subject,
		Status:       status,
		Detail:       detail,
	}
	if err := p.db.Create(&row).Error; err != nil {
		log.Printf("Error writing delivery log for entry %s: %v", entry.ID, err)
	}
}

func recipientType(entry *models.QueueEntry) string {
	if v, ok := entry.Metadata["recipient_type"].(string); ok {
		return v
	}
	return "contact"
}
