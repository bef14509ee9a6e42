package mailer

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/crowdreach/automation/internal/config"
	"github.com/crowdreach/automation/internal/models"
)

// buildVariables assembles the substitution context for one queue entry:
// system defaults first, then the entry's own metadata overlaid on top, so
// a workflow can override any default.
func buildVariables(cfg *config.Config, entry *models.QueueEntry, contact *models.Contact, now time.Time) map[string]string {
	name := entry.RecipientName
	if name == "" && contact != nil {
		name = contact.Name
	}
	first, last := splitName(name)

	vars := map[string]string{
		"name":            name,
		"first_name":      first,
		"last_name":       last,
		"email":           entry.RecipientEmail,
		"current_date":    now.Format("January 2, 2006"),
		"current_year":    fmt.Sprintf("%d", now.Year()),
		"site_url":        cfg.SiteURL,
		"unsubscribe_url": fmt.Sprintf("%s/unsubscribe?email=%s", cfg.SiteURL, url.QueryEscape(entry.RecipientEmail)),
	}
	if contact != nil {
		vars["tier"] = contact.Tier
		vars["backer_number"] = fmt.Sprintf("%04d", contact.BackerNumber)
	}
	if entry.SequenceStep > 0 {
		vars["sequence_step"] = fmt.Sprintf("%d", entry.SequenceStep)
	}

	for k, v := range entry.Metadata {
		if k == "recipient_type" {
			continue
		}
		vars[k] = fmt.Sprintf("%v", v)
	}
	return vars
}

func splitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.Fields(name)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
