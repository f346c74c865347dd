// Package notify delivers operator alerts and requester mails.
//
// Operator alerts are deduplicated: every alert is fingerprinted and the
// fingerprint table decides whether an outbound message is actually sent.
// A repeating failure produces one message per cooldown window instead of
// one per retry.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/lliwi/sar-v3-sub000/internal/logger"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
	"github.com/lliwi/sar-v3-sub000/pkg/store"
)

// Well-known error types reported to operators.
const (
	ErrorTypeDagExecutionFailed = "DAG_EXECUTION_FAILED_AFTER_RETRIES"
	ErrorTypeVerificationFailed = "VERIFICATION_FAILED_AFTER_RETRIES"
	ErrorTypeDirectoryDown      = "LDAP_CONNECTION_FAILED"
	ErrorTypeSyncFailed         = "CATALOGUE_SYNC_FAILED"
)

// DefaultCooldown is the minimum spacing between two outbound messages for
// the same fingerprint.
const DefaultCooldown = 24 * time.Hour

// fingerprintMessageLimit caps how much of the message participates in the
// fingerprint, so variable suffixes (ids, timestamps) do not defeat
// deduplication entirely while still separating distinct failures.
const fingerprintMessageLimit = 500

// Sender delivers a composed message. Implementations exist for SMTP and
// for plain logging; which one is wired is a deployment choice.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Config contains notifier configuration.
type Config struct {
	// Enabled gates operator alerts entirely. Requester mails are gated
	// separately by having a sender configured.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// AdminEmail receives deduplicated operator alerts.
	AdminEmail string `mapstructure:"admin_email" yaml:"admin_email"`

	// CooldownHours between repeated alerts for one fingerprint.
	// Default: 24.
	CooldownHours int `mapstructure:"cooldown_hours" yaml:"cooldown_hours"`

	// SMTP credentials. When Host is empty the log sender is used.
	SMTP SMTPConfig `mapstructure:"smtp" yaml:"smtp"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.CooldownHours == 0 {
		c.CooldownHours = int(DefaultCooldown / time.Hour)
	}
}

// Notifier deduplicates and delivers alerts. Safe for concurrent use; the
// dedup decision rides on the store's uniqueness constraint.
type Notifier struct {
	cfg    Config
	store  store.NotificationStore
	sender Sender
}

// New creates a Notifier backed by the given store and sender.
func New(cfg Config, st store.NotificationStore, sender Sender) *Notifier {
	cfg.ApplyDefaults()
	return &Notifier{cfg: cfg, store: st, sender: sender}
}

// Fingerprint computes the deduplication key for an alert.
func Fingerprint(errorType, serviceName, message string) string {
	if len(message) > fingerprintMessageLimit {
		message = message[:fingerprintMessageLimit]
	}
	sum := sha256.Sum256([]byte(errorType + ":" + serviceName + ":" + message))
	return hex.EncodeToString(sum[:])
}

// NotifyAdmin records the alert and emits it to the admin recipient unless
// an identical alert was already sent within the cooldown window or the
// record was marked resolved. Returns whether a message went out.
func (n *Notifier) NotifyAdmin(ctx context.Context, errorType, serviceName, message string) (bool, error) {
	if !n.cfg.Enabled {
		return false, nil
	}

	fp := Fingerprint(errorType, serviceName, message)
	now := time.Now().UTC()

	rec, err := n.store.GetNotificationByFingerprint(ctx, fp)
	switch {
	case err == nil:
		rec.Count++
		rec.LastOccurrence = now
		if !n.shouldEmit(rec, now) {
			if err := n.store.SaveNotification(ctx, rec); err != nil {
				return false, err
			}
			logger.Debug("Alert suppressed by cooldown",
				logger.KeyOperation, errorType,
				logger.KeyCount, rec.Count)
			return false, nil
		}
	case isNotFound(err):
		rec = &models.AdminNotification{
			Fingerprint:     fp,
			ErrorType:       errorType,
			ServiceName:     serviceName,
			Message:         message,
			Count:           1,
			FirstOccurrence: now,
			LastOccurrence:  now,
		}
		if err := n.store.CreateNotification(ctx, rec); err != nil {
			// A concurrent worker may have created the row first; that
			// worker also owns the emission.
			return false, err
		}
	default:
		return false, err
	}

	subject, body := n.composeAdminAlert(rec)
	if err := n.sender.Send(ctx, n.cfg.AdminEmail, subject, body); err != nil {
		// Delivery failure keeps sent=false so the next occurrence tries
		// again immediately.
		if serr := n.store.SaveNotification(ctx, rec); serr != nil {
			logger.Error("Failed to persist alert record", logger.KeyError, serr)
		}
		return false, fmt.Errorf("failed to deliver admin alert: %w", err)
	}

	rec.Sent = true
	rec.SentAt = &now
	if err := n.store.SaveNotification(ctx, rec); err != nil {
		return true, err
	}
	logger.Info("Admin alert sent",
		logger.KeyOperation, errorType,
		logger.KeyRecipient, n.cfg.AdminEmail,
		logger.KeyCount, rec.Count)
	return true, nil
}

// shouldEmit applies the dedup rule to an existing record: never for
// resolved records, always when no message ever went out, otherwise only
// after the cooldown has elapsed.
func (n *Notifier) shouldEmit(rec *models.AdminNotification, now time.Time) bool {
	if rec.Resolved {
		return false
	}
	if !rec.Sent || rec.SentAt == nil {
		return true
	}
	cooldown := time.Duration(n.cfg.CooldownHours) * time.Hour
	return !rec.SentAt.Add(cooldown).After(now)
}

// MarkResolved silences future emissions for the fingerprint until it is
// purged. The record keeps counting occurrences.
func (n *Notifier) MarkResolved(ctx context.Context, fingerprint string) error {
	rec, err := n.store.GetNotificationByFingerprint(ctx, fingerprint)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.Resolved = true
	rec.ResolvedAt = &now
	return n.store.SaveNotification(ctx, rec)
}

// PurgeResolvedOlderThan removes resolved records older than the given
// number of days. Returns the number of rows removed.
func (n *Notifier) PurgeResolvedOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	return n.store.PurgeResolvedBefore(ctx, cutoff)
}

// NotifyRequester sends a plain mail to the requester about their request.
// Requester mails are not deduplicated; each state change is worth a mail.
func (n *Notifier) NotifyRequester(ctx context.Context, req *models.PermissionRequest, subject, body string) error {
	if req.Requester == nil || req.Requester.Email == "" {
		logger.Warn("Requester has no email, skipping notification", logger.KeyRequestID, req.ID)
		return nil
	}
	if err := n.sender.Send(ctx, req.Requester.Email, subject, body); err != nil {
		return fmt.Errorf("failed to notify requester: %w", err)
	}
	logger.Debug("Requester notified",
		logger.KeyRequestID, req.ID,
		logger.KeyRecipient, req.Requester.Email)
	return nil
}

func (n *Notifier) composeAdminAlert(rec *models.AdminNotification) (subject, body string) {
	subject = fmt.Sprintf("[SAR] %s in %s", rec.ErrorType, rec.ServiceName)
	body = fmt.Sprintf(
		"Error type: %s\nService: %s\nOccurrences: %d\nFirst seen: %s\nLast seen: %s\n\n%s\n",
		rec.ErrorType,
		rec.ServiceName,
		rec.Count,
		rec.FirstOccurrence.Format(time.RFC3339),
		rec.LastOccurrence.Format(time.RFC3339),
		rec.Message,
	)
	return subject, body
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotificationNotFound)
}
