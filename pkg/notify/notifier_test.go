package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// memNotificationStore is an in-memory NotificationStore for tests.
type memNotificationStore struct {
	byFingerprint map[string]*models.AdminNotification
	nextID        uint
}

func newMemNotificationStore() *memNotificationStore {
	return &memNotificationStore{byFingerprint: map[string]*models.AdminNotification{}}
}

func (m *memNotificationStore) GetNotificationByFingerprint(_ context.Context, fp string) (*models.AdminNotification, error) {
	if n, ok := m.byFingerprint[fp]; ok {
		cp := *n
		return &cp, nil
	}
	return nil, models.ErrNotificationNotFound
}

func (m *memNotificationStore) CreateNotification(_ context.Context, n *models.AdminNotification) error {
	if _, ok := m.byFingerprint[n.Fingerprint]; ok {
		return errors.New("UNIQUE constraint failed: admin_notifications.fingerprint")
	}
	m.nextID++
	n.ID = m.nextID
	cp := *n
	m.byFingerprint[n.Fingerprint] = &cp
	return nil
}

func (m *memNotificationStore) SaveNotification(_ context.Context, n *models.AdminNotification) error {
	cp := *n
	m.byFingerprint[n.Fingerprint] = &cp
	return nil
}

func (m *memNotificationStore) ListNotifications(_ context.Context, unresolvedOnly bool) ([]*models.AdminNotification, error) {
	var out []*models.AdminNotification
	for _, n := range m.byFingerprint {
		if unresolvedOnly && n.Resolved {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memNotificationStore) PurgeResolvedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	for fp, n := range m.byFingerprint {
		if n.Resolved && n.LastOccurrence.Before(cutoff) {
			delete(m.byFingerprint, fp)
			purged++
		}
	}
	return purged, nil
}

// recordingSender captures sent messages.
type recordingSender struct {
	sent []string
	fail error
}

func (r *recordingSender) Send(_ context.Context, recipient, subject, body string) error {
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, recipient+"|"+subject)
	return nil
}

func newTestNotifier(st *memNotificationStore, sender Sender) *Notifier {
	return New(Config{Enabled: true, AdminEmail: "ops@corp.example"}, st, sender)
}

func TestFingerprintStability(t *testing.T) {
	a := Fingerprint("DAG_EXECUTION_FAILED_AFTER_RETRIES", "airflow", "boom")
	b := Fingerprint("DAG_EXECUTION_FAILED_AFTER_RETRIES", "airflow", "boom")
	c := Fingerprint("DAG_EXECUTION_FAILED_AFTER_RETRIES", "airflow", "other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestFingerprintTruncatesMessage(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	longer := append(append([]byte{}, long...), []byte("tail")...)

	assert.Equal(t,
		Fingerprint("E", "svc", string(long)),
		Fingerprint("E", "svc", string(longer)),
		"only the first 500 characters participate")
}

func TestFirstAlertIsEmitted(t *testing.T) {
	st := newMemNotificationStore()
	sender := &recordingSender{}
	n := newTestNotifier(st, sender)

	emitted, err := n.NotifyAdmin(t.Context(), ErrorTypeDagExecutionFailed, "airflow", "boom")
	require.NoError(t, err)
	assert.True(t, emitted)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0], "ops@corp.example")

	rec, err := st.GetNotificationByFingerprint(t.Context(), Fingerprint(ErrorTypeDagExecutionFailed, "airflow", "boom"))
	require.NoError(t, err)
	assert.True(t, rec.Sent)
	assert.NotNil(t, rec.SentAt)
	assert.Equal(t, 1, rec.Count)
}

func TestRepeatWithinCooldownIsSuppressed(t *testing.T) {
	st := newMemNotificationStore()
	sender := &recordingSender{}
	n := newTestNotifier(st, sender)

	_, err := n.NotifyAdmin(t.Context(), ErrorTypeDagExecutionFailed, "airflow", "boom")
	require.NoError(t, err)

	emitted, err := n.NotifyAdmin(t.Context(), ErrorTypeDagExecutionFailed, "airflow", "boom")
	require.NoError(t, err)
	assert.False(t, emitted)
	assert.Len(t, sender.sent, 1)

	rec, _ := st.GetNotificationByFingerprint(t.Context(), Fingerprint(ErrorTypeDagExecutionFailed, "airflow", "boom"))
	assert.Equal(t, 2, rec.Count, "suppressed occurrences still count")
}

func TestRepeatAfterCooldownIsEmitted(t *testing.T) {
	st := newMemNotificationStore()
	sender := &recordingSender{}
	n := newTestNotifier(st, sender)

	_, err := n.NotifyAdmin(t.Context(), ErrorTypeDagExecutionFailed, "airflow", "boom")
	require.NoError(t, err)

	// Age the sent timestamp past the cooldown.
	fp := Fingerprint(ErrorTypeDagExecutionFailed, "airflow", "boom")
	rec := st.byFingerprint[fp]
	old := time.Now().UTC().Add(-25 * time.Hour)
	rec.SentAt = &old

	emitted, err := n.NotifyAdmin(t.Context(), ErrorTypeDagExecutionFailed, "airflow", "boom")
	require.NoError(t, err)
	assert.True(t, emitted)
	assert.Len(t, sender.sent, 2)
}

func TestResolvedFingerprintStaysSilent(t *testing.T) {
	st := newMemNotificationStore()
	sender := &recordingSender{}
	n := newTestNotifier(st, sender)

	_, err := n.NotifyAdmin(t.Context(), ErrorTypeDirectoryDown, "ldap", "down")
	require.NoError(t, err)

	fp := Fingerprint(ErrorTypeDirectoryDown, "ldap", "down")
	require.NoError(t, n.MarkResolved(t.Context(), fp))

	// Even past the cooldown, resolved records are silent.
	old := time.Now().UTC().Add(-48 * time.Hour)
	st.byFingerprint[fp].SentAt = &old

	emitted, err := n.NotifyAdmin(t.Context(), ErrorTypeDirectoryDown, "ldap", "down")
	require.NoError(t, err)
	assert.False(t, emitted)
	assert.Len(t, sender.sent, 1)
}

func TestDeliveryFailureLeavesUnsent(t *testing.T) {
	st := newMemNotificationStore()
	sender := &recordingSender{fail: errors.New("smtp down")}
	n := newTestNotifier(st, sender)

	_, err := n.NotifyAdmin(t.Context(), ErrorTypeSyncFailed, "syncer", "boom")
	require.Error(t, err)

	rec, _ := st.GetNotificationByFingerprint(t.Context(), Fingerprint(ErrorTypeSyncFailed, "syncer", "boom"))
	require.NotNil(t, rec)
	assert.False(t, rec.Sent)

	// Next occurrence retries immediately because nothing ever went out.
	sender.fail = nil
	emitted, err := n.NotifyAdmin(t.Context(), ErrorTypeSyncFailed, "syncer", "boom")
	require.NoError(t, err)
	assert.True(t, emitted)
}

func TestDisabledNotifierIsSilent(t *testing.T) {
	st := newMemNotificationStore()
	sender := &recordingSender{}
	n := New(Config{Enabled: false, AdminEmail: "ops@corp.example"}, st, sender)

	emitted, err := n.NotifyAdmin(t.Context(), ErrorTypeSyncFailed, "syncer", "boom")
	require.NoError(t, err)
	assert.False(t, emitted)
	assert.Empty(t, sender.sent)
	assert.Empty(t, st.byFingerprint, "disabled notifier records nothing")
}

func TestPurgeResolvedOlderThan(t *testing.T) {
	st := newMemNotificationStore()
	n := newTestNotifier(st, &recordingSender{})

	_, err := n.NotifyAdmin(t.Context(), ErrorTypeSyncFailed, "syncer", "boom")
	require.NoError(t, err)

	fp := Fingerprint(ErrorTypeSyncFailed, "syncer", "boom")
	require.NoError(t, n.MarkResolved(t.Context(), fp))
	st.byFingerprint[fp].LastOccurrence = time.Now().UTC().Add(-40 * 24 * time.Hour)

	purged, err := n.PurgeResolvedOlderThan(t.Context(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.Empty(t, st.byFingerprint)
}

func TestNotifyRequesterSkipsMissingEmail(t *testing.T) {
	n := newTestNotifier(newMemNotificationStore(), &recordingSender{})
	req := &models.PermissionRequest{ID: 1, Requester: &models.User{Username: "jdoe"}}

	assert.NoError(t, n.NotifyRequester(t.Context(), req, "subject", "body"))
}

func TestNotifyRequesterSends(t *testing.T) {
	sender := &recordingSender{}
	n := newTestNotifier(newMemNotificationStore(), sender)
	req := &models.PermissionRequest{ID: 1, Requester: &models.User{Username: "jdoe", Email: "jdoe@corp.example"}}

	require.NoError(t, n.NotifyRequester(t.Context(), req, "Request approved", "body"))
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0], "jdoe@corp.example")
}
