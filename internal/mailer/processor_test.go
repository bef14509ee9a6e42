package mailer

import (
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/crowdreach/automation/internal/config"
	"github.com/crowdreach/automation/internal/database"
	"github.com/crowdreach/automation/internal/models"
)

var testDB *gorm.DB
var testCfg *config.Config

// fakeProvider records sends and fails on request.
type fakeProvider struct {
	configured bool
	sent       []string
	failFor    map[string]bool
}

func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) Send(from, to, subject, body string) (string, error) {
	if f.failFor[to] {
		return "", errors.New("mailbox unavailable")
	}
	f.sent = append(f.sent, to)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func TestMain(m *testing.M) {
	var err error
	testDB, err = gorm.Open(sqlite.Open("file::memory:?cache=private"), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := database.Migrate(testDB); err != nil {
		log.Fatalf("Failed to migrate test database schema: %v", err)
	}
	testCfg = &config.Config{
		DefaultFromEmail: "noreply@test.local",
		AdminEmail:       "admin@test.local",
		SiteURL:          "https://test.local",
		BatchSize:        config.QueueBatchSize,
	}

	exitCode := m.Run()

	sqlDB, err := testDB.DB()
	if err == nil {
		sqlDB.Close()
	}
	os.Exit(exitCode)
}

func clearTables(t *testing.T) {
	t.Helper()
	for _, table := range []string{"queue_entries", "templates", "contacts", "email_logs"} {
		require.NoError(t, testDB.Exec("DELETE FROM "+table).Error)
	}
}

func createTemplate(t *testing.T) *models.Template {
	t.Helper()
	tmpl := &models.Template{
		ID:      uuid.New(),
		Name:    "welcome",
		Subject: "Hello {{name}}",
		Body:    "Hi {{first_name}}, see {{site_url}}.",
		Active:  true,
	}
	require.NoError(t, testDB.Create(tmpl).Error)
	return tmpl
}

func createEntry(t *testing.T, templateID uuid.UUID, email string, scheduledAt time.Time) *models.QueueEntry {
	t.Helper()
	entry := &models.QueueEntry{
		ID:             uuid.New(),
		RecipientEmail: email,
		RecipientName:  "Queue Tester",
		TemplateID:     templateID,
		ScheduledAt:    scheduledAt,
		Status:         models.QueuePending,
		Metadata:       datatypes.JSONMap{"recipient_type": "contact"},
	}
	require.NoError(t, testDB.Create(entry).Error)
	return entry
}

func newProcessor(provider Provider) *Processor {
	return NewProcessor(testDB, testCfg, provider)
}

func TestProcessDueEmptyQueue(t *testing.T) {
	clearTables(t)
	provider := &fakeProvider{configured: true}
	resp, err := newProcessor(provider).ProcessDue()
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Processed)
	assert.Empty(t, provider.sent)
}

func TestProcessDueSendsOldestFirst(t *testing.T) {
	clearTables(t)
	tmpl := createTemplate(t)
	now := time.Now()
	createEntry(t, tmpl.ID, "third@test.local", now.Add(-1*time.Minute))
	createEntry(t, tmpl.ID, "first@test.local", now.Add(-3*time.Hour))
	createEntry(t, tmpl.ID, "second@test.local", now.Add(-1*time.Hour))
	// Not yet due: must not be selected.
	createEntry(t, tmpl.ID, "future@test.local", now.Add(time.Hour))

	provider := &fakeProvider{configured: true}
	resp, err := newProcessor(provider).ProcessDue()
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Processed)
	assert.Equal(t, 3, resp.Sent)
	assert.Equal(t, []string{"first@test.local", "second@test.local", "third@test.local"}, provider.sent)

	var future models.QueueEntry
	require.NoError(t, testDB.First(&future, "recipient_email = ?", "future@test.local").Error)
	assert.Equal(t, models.QueuePending, future.Status)
}

func TestProcessDueRespectsBatchSize(t *testing.T) {
	clearTables(t)
	tmpl := createTemplate(t)
	now := time.Now()
	for i := 0; i < config.QueueBatchSize+10; i++ {
		createEntry(t, tmpl.ID, fmt.Sprintf("bulk%03d@test.local", i), now.Add(-time.Duration(i)*time.Second))
	}

	provider := &fakeProvider{configured: true}
	resp, err := newProcessor(provider).ProcessDue()
	require.NoError(t, err)
	assert.Equal(t, config.QueueBatchSize, resp.Processed)
	assert.Len(t, provider.sent, config.QueueBatchSize)

	var pending int64
	testDB.Model(&models.QueueEntry{}).Where("status = ?", models.QueuePending).Count(&pending)
	assert.EqualValues(t, 10, pending)
}

func TestProcessDueFailsFastWithoutCredential(t *testing.T) {
	clearTables(t)
	tmpl := createTemplate(t)
	now := time.Now()
	for i := 0; i < 3; i++ {
		createEntry(t, tmpl.ID, fmt.Sprintf("nocred%d@test.local", i), now.Add(-time.Minute))
	}

	provider := &fakeProvider{configured: false}
	resp, err := newProcessor(provider).ProcessDue()
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Processed)
	assert.Equal(t, 3, resp.Failed)
	assert.Empty(t, provider.sent)

	var entries []models.QueueEntry
	require.NoError(t, testDB.Find(&entries).Error)
	for _, e := range entries {
		assert.Equal(t, models.QueueFailed, e.Status)
		assert.Equal(t, ErrMsgProviderNotConfigured, e.ErrorMessage)
	}
}

func TestProcessDueContinuesPastFailure(t *testing.T) {
	clearTables(t)
	tmpl := createTemplate(t)
	now := time.Now()
	createEntry(t, tmpl.ID, "bad@test.local", now.Add(-2*time.Hour))
	createEntry(t, tmpl.ID, "good@test.local", now.Add(-1*time.Hour))

	provider := &fakeProvider{configured: true, failFor: map[string]bool{"bad@test.local": true}}
	resp, err := newProcessor(provider).ProcessDue()
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Processed)
	assert.Equal(t, 1, resp.Sent)
	assert.Equal(t, 1, resp.Failed)

	var bad, good models.QueueEntry
	require.NoError(t, testDB.First(&bad, "recipient_email = ?", "bad@test.local").Error)
	require.NoError(t, testDB.First(&good, "recipient_email = ?", "good@test.local").Error)
	assert.Equal(t, models.QueueFailed, bad.Status)
	assert.Equal(t, "mailbox unavailable", bad.ErrorMessage)
	assert.Nil(t, bad.SentAt)
	assert.Equal(t, models.QueueSent, good.Status)
	assert.NotNil(t, good.SentAt)

	var logs []models.EmailLog
	require.NoError(t, testDB.Order("id asc").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, models.QueueFailed, logs[0].Status)
	assert.Equal(t, models.QueueSent, logs[1].Status)
}

func TestProcessDueUpdatesContactBookkeeping(t *testing.T) {
	clearTables(t)
	tmpl := createTemplate(t)
	contact := &models.Contact{
		ID:           uuid.New(),
		Email:        "backer@test.local",
		Name:         "Tracked Backer",
		BackerNumber: 7,
		SequenceStep: 2,
	}
	require.NoError(t, testDB.Create(contact).Error)
	createEntry(t, tmpl.ID, contact.Email, time.Now().Add(-time.Minute))

	provider := &fakeProvider{configured: true}
	resp, err := newProcessor(provider).ProcessDue()
	require.NoError(t, err)
	require.Equal(t, 1, resp.Sent)

	var updated models.Contact
	require.NoError(t, testDB.First(&updated, "id = ?", contact.ID).Error)
	assert.NotNil(t, updated.LastEmailSentAt)
	assert.Equal(t, 3, updated.SequenceStep)
}

func TestProcessDueSkipsAlreadyClaimedEntries(t *testing.T) {
	clearTables(t)
	tmpl := createTemplate(t)
	entry := createEntry(t, tmpl.ID, "claimed@test.local", time.Now().Add(-time.Minute))

	provider := &fakeProvider{configured: true}
	processor := newProcessor(provider)

	// A concurrent run already moved the entry out of pending.
	require.NoError(t, testDB.Model(&models.QueueEntry{}).
		Where("id = ?", entry.ID).
		Update("status", models.QueueProcessing).Error)

	resp, err := processor.ProcessDue()
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Processed)
	assert.Empty(t, provider.sent)
}

func TestProcessDueFailsEntryWithMissingTemplate(t *testing.T) {
	clearTables(t)
	createEntry(t, uuid.New(), "notmpl@test.local", time.Now().Add(-time.Minute))

	provider := &fakeProvider{configured: true}
	resp, err := newProcessor(provider).ProcessDue()
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Failed)
	assert.Empty(t, provider.sent)

	var entry models.QueueEntry
	require.NoError(t, testDB.First(&entry, "recipient_email = ?", "notmpl@test.local").Error)
	assert.Equal(t, models.QueueFailed, entry.Status)
	assert.Contains(t, entry.ErrorMessage, "not found")
}
