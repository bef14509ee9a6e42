package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/crowdreach/automation/internal/config"
	"github.com/crowdreach/automation/internal/models"
)

// Result is the outcome of one action handler invocation. Summary is
// stored on the execution step. Condition is meaningful only for if_else
// and drives branch selection. A non-nil SuspendUntil asks the executor to
// checkpoint the run and resume at that time.
type Result struct {
	Summary      string
	Condition    bool
	SuspendUntil *time.Time
}

// HandlerFunc executes one action kind against a run context.
type HandlerFunc func(action *models.Action, rc *RunContext) (*Result, error)

// Registry resolves an action kind to its handler.
type Registry struct {
	db         *gorm.DB
	cfg        *config.Config
	httpClient *http.Client
	handlers   map[string]HandlerFunc
	now        func() time.Time
}

// NewRegistry wires up the 8 supported action kinds.
func NewRegistry(db *gorm.DB, cfg *config.Config) *Registry {
	r := &Registry{
		db:         db,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	r.handlers = map[string]HandlerFunc{
		models.ActionSendEmail:            r.sendEmail,
		models.ActionWaitDelay:            r.waitDelay,
		models.ActionAddTag:               r.addTag,
		models.ActionRemoveTag:            r.removeTag,
		models.ActionUpdateContact:        r.updateContact,
		models.ActionIfElse:               r.ifElse,
		models.ActionWebhook:              r.webhook,
		models.ActionInternalNotification: r.internalNotification,
	}
	return r
}

// Run dispatches an action to its handler. Unknown kinds are a handler
// failure like any other and taint the execution without aborting it.
func (r *Registry) Run(action *models.Action, rc *RunContext) (*Result, error) {
	handler, ok := r.handlers[action.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown action kind %q", action.Kind)
	}
	return handler(action, rc)
}

// sendEmail enqueues one message for the subject contact. A missing
// template id or recipient address skips the action instead of failing it.
func (r *Registry) sendEmail(action *models.Action, rc *RunContext) (*Result, error) {
	templateID := configString(action.Config, "template_id")
	recipient := configString(action.Config, "recipient")
	if recipient == "" {
		recipient = rc.ContactEmail
	}
	if templateID == "" || recipient == "" {
		return &Result{Summary: "skipped: missing template_id or recipient"}, nil
	}

	tid, err := uuid.Parse(templateID)
	if err != nil {
		return nil, fmt.Errorf("invalid template_id %q: %w", templateID, err)
	}

	metadata := datatypes.JSONMap{"recipient_type": "contact"}
	for k, v := range rc.Metadata {
		metadata[k] = v
	}
	for k, v := range action.Config {
		if k == "template_id" || k == "recipient" {
			continue
		}
		metadata[k] = v
	}

	entry := models.QueueEntry{
		ID:             uuid.New(),
		RecipientEmail: recipient,
		RecipientName:  rc.ContactName,
		TemplateID:     tid,
		ScheduledAt:    r.now(),
		Status:         models.QueuePending,
		Metadata:       metadata,
	}
	if err := r.db.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue email for %s: %w", recipient, err)
	}
	log.Printf("Queued email for %s using template %s (entry %s)", recipient, tid, entry.ID)
	return &Result{Summary: fmt.Sprintf("queued: entry %s", entry.ID)}, nil
}

// waitDelay checkpoints the run and schedules its resumption after the
// configured number of hours.
func (r *Registry) waitDelay(action *models.Action, rc *RunContext) (*Result, error) {
	hours := configFloat(action.Config, "hours")
	if hours < 0 {
		hours = 0
	}
	resumeAt := r.now().Add(time.Duration(hours * float64(time.Hour)))
	log.Printf("Delaying workflow run by %v hours (resume at %s)", hours, resumeAt.Format(time.RFC3339))
	return &Result{
		Summary:      fmt.Sprintf("waiting %v hours", hours),
		SuspendUntil: &resumeAt,
	}, nil
}

func (r *Registry) addTag(action *models.Action, rc *RunContext) (*Result, error) {
	tag := configString(action.Config, "tag")
	if tag == "" {
		return nil, fmt.Errorf("add_tag action %s has no tag configured", action.ID)
	}
	contact, err := rc.Contact(r.db)
	if err != nil {
		return nil, err
	}
	if err := r.db.Model(contact).Update("tag", tag).Error; err != nil {
		return nil, fmt.Errorf("failed to tag contact %s: %w", contact.ID, err)
	}
	return &Result{Summary: fmt.Sprintf("tagged contact with %q", tag)}, nil
}

func (r *Registry) removeTag(action *models.Action, rc *RunContext) (*Result, error) {
	contact, err := rc.Contact(r.db)
	if err != nil {
		return nil, err
	}
	if err := r.db.Model(contact).Update("tag", "").Error; err != nil {
		return nil, fmt.Errorf("failed to clear tag on contact %s: %w", contact.ID, err)
	}
	return &Result{Summary: "cleared contact tag"}, nil
}

// updateContact sets one named field on the subject contact. Well-known
// columns are updated directly; anything else lands in the custom fields
// map.
func (r *Registry) updateContact(action *models.Action, rc *RunContext) (*Result, error) {
	field := configString(action.Config, "field")
	value := configString(action.Config, "value")
	if field == "" {
		return nil, fmt.Errorf("update_contact action %s has no field configured", action.ID)
	}
	contact, err := rc.Contact(r.db)
	if err != nil {
		return nil, err
	}

	switch field {
	case "name", "tier", "tag":
		err = r.db.Model(contact).Update(field, value).Error
	default:
		if contact.CustomFields == nil {
			contact.CustomFields = datatypes.JSONMap{}
		}
		contact.CustomFields[field] = value
		err = r.db.Model(contact).Update("custom_fields", contact.CustomFields).Error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update contact field %q: %w", field, err)
	}
	return &Result{Summary: fmt.Sprintf("set %s=%q", field, value)}, nil
}

// ifElse evaluates a string comparison against one contact field. The
// boolean outcome selects which branch children the executor runs.
func (r *Registry) ifElse(action *models.Action, rc *RunContext) (*Result, error) {
	field := configString(action.Config, "field")
	operator := configString(action.Config, "operator")
	expected := configString(action.Config, "value")
	if field == "" || operator == "" {
		return nil, fmt.Errorf("if_else action %s is missing field or operator", action.ID)
	}
	contact, err := rc.Contact(r.db)
	if err != nil {
		return nil, err
	}
	actual := contactFieldValue(contact, field)

	var met bool
	switch operator {
	case "equals":
		met = actual == expected
	case "not_equals":
		met = actual != expected
	case "contains":
		met = strings.Contains(actual, expected)
	case "not_contains":
		met = !strings.Contains(actual, expected)
	case "is_empty":
		met = actual == ""
	case "is_not_empty":
		met = actual != ""
	default:
		return nil, fmt.Errorf("if_else action %s has unsupported operator %q", action.ID, operator)
	}
	return &Result{
		Summary:   fmt.Sprintf("condition %s %s %q: %t", field, operator, expected, met),
		Condition: met,
	}, nil
}

// webhook posts the run context plus any configured custom body to an
// external URL. Delivery is best-effort by default: network errors and
// non-2xx responses are folded into a successful result carrying ok=false.
// Setting fail_on_error in the action config makes them handler failures
// instead.
func (r *Registry) webhook(action *models.Action, rc *RunContext) (*Result, error) {
	url := configString(action.Config, "url")
	if url == "" {
		return nil, fmt.Errorf("webhook action %s has no url configured", action.ID)
	}
	method := strings.ToUpper(configString(action.Config, "method"))
	if method == "" {
		method = http.MethodPost
	}
	failOnError := configBool(action.Config, "fail_on_error")

	body := map[string]interface{}{
		"contact_email": rc.ContactEmail,
		"contact_name":  rc.ContactName,
		"metadata":      rc.Metadata,
	}
	if rc.ContactID != nil {
		body["contact_id"] = rc.ContactID.String()
	}
	if custom, ok := action.Config["body"].(map[string]interface{}); ok {
		for k, v := range custom {
			body[k] = v
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	req, err := http.NewRequest(method, url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request to %s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if failOnError {
			return nil, fmt.Errorf("webhook call to %s failed: %w", url, err)
		}
		log.Printf("Webhook call to %s failed: %v", url, err)
		return &Result{Summary: fmt.Sprintf(`{"ok":false,"error":%q}`, err.Error())}, nil
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok && failOnError {
		return nil, fmt.Errorf("webhook %s returned status %d", url, resp.StatusCode)
	}
	return &Result{Summary: fmt.Sprintf(`{"ok":%t,"status":%d}`, ok, resp.StatusCode)}, nil
}

// internalNotification enqueues a message to the administrative address.
// Same queuing contract as sendEmail, different recipient.
func (r *Registry) internalNotification(action *models.Action, rc *RunContext) (*Result, error) {
	recipient := configString(action.Config, "recipient")
	if recipient == "" {
		recipient = r.cfg.AdminEmail
	}
	templateID := configString(action.Config, "template_id")
	if templateID == "" || recipient == "" {
		return &Result{Summary: "skipped: missing template_id or recipient"}, nil
	}
	tid, err := uuid.Parse(templateID)
	if err != nil {
		return nil, fmt.Errorf("invalid template_id %q: %w", templateID, err)
	}

	metadata := datatypes.JSONMap{
		"recipient_type": "admin",
		"contact_email":  rc.ContactEmail,
		"contact_name":   rc.ContactName,
	}
	if msg := configString(action.Config, "message"); msg != "" {
		metadata["message"] = msg
	}

	entry := models.QueueEntry{
		ID:             uuid.New(),
		RecipientEmail: recipient,
		RecipientName:  "Admin",
		TemplateID:     tid,
		ScheduledAt:    r.now(),
		Status:         models.QueuePending,
		Metadata:       metadata,
	}
	if err := r.db.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue notification for %s: %w", recipient, err)
	}
	return &Result{Summary: fmt.Sprintf("queued: entry %s", entry.ID)}, nil
}

func contactFieldValue(c *models.Contact, field string) string {
	switch field {
	case "email":
		return c.Email
	case "name":
		return c.Name
	case "tier":
		return c.Tier
	case "tag":
		return c.Tag
	case "backer_number":
		return fmt.Sprintf("%d", c.BackerNumber)
	default:
		if v, ok := c.CustomFields[field]; ok {
			return fmt.Sprintf("%v", v)
		}
		return ""
	}
}

func configString(cfg datatypes.JSONMap, key string) string {
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func configFloat(cfg datatypes.JSONMap, key string) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f
		}
	}
	return 0
}

func configBool(cfg datatypes.JSONMap, key string) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return false
}
