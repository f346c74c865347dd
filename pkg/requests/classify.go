// Package requests implements the permission request lifecycle: submission,
// classification, validation decisions and revocation.
//
// Classification is a pure function over a snapshot of the catalogue so it
// can be tested without a database and reasoned about without following the
// call graph into the stores.
package requests

import (
	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// Class is the outcome of classifying a would-be request against the
// current catalogue state.
type Class string

const (
	// ClassNew means nothing stands in the way of a fresh request.
	ClassNew Class = "new"

	// ClassDuplicate means the requester already holds, or has an approved
	// request for, exactly this (folder, mode).
	ClassDuplicate Class = "duplicate"

	// ClassChange means the requester holds or has in flight a different
	// mode on the same folder; approval swaps modes instead of adding one.
	ClassChange Class = "change"

	// ClassRetry means the most recent attempt at this triple ended in
	// failed or rejected; a new attempt is legitimate.
	ClassRetry Class = "retry"
)

// Snapshot is the catalogue state a classification decision depends on.
// History must contain all requests for (requester, folder) regardless of
// mode, newest first. HeldModes are the modes the requester currently holds
// on the folder through active group memberships.
type Snapshot struct {
	Mode      models.PermissionMode
	History   []*models.PermissionRequest
	HeldModes map[models.PermissionMode]bool
}

// Classify decides how a request for Snapshot.Mode relates to what already
// exists. Precedence: duplicate beats change beats retry.
func Classify(s Snapshot) Class {
	var (
		approvedSame  bool
		otherModeLive bool
		newestSame    *models.PermissionRequest
	)

	for _, req := range s.History {
		if req.Mode == s.Mode {
			if req.Status == models.RequestApproved {
				approvedSame = true
			}
			if newestSame == nil {
				newestSame = req
			}
		} else if req.Status == models.RequestApproved || req.Status == models.RequestPending {
			otherModeLive = true
		}
	}

	holdsSame := s.HeldModes[s.Mode]
	holdsOther := false
	for mode, held := range s.HeldModes {
		if held && mode != s.Mode {
			holdsOther = true
		}
	}

	switch {
	case approvedSame || holdsSame:
		return ClassDuplicate
	case otherModeLive || holdsOther:
		return ClassChange
	case newestSame != nil && (newestSame.Status == models.RequestFailed || newestSame.Status == models.RequestRejected):
		return ClassRetry
	default:
		return ClassNew
	}
}

// PendingSame returns the pending request for (requester, folder, mode) from
// the history, or nil. Used to block duplicate submissions before approval.
func PendingSame(s Snapshot) *models.PermissionRequest {
	for _, req := range s.History {
		if req.Mode == s.Mode && req.Status == models.RequestPending {
			return req
		}
	}
	return nil
}

// PendingOthers returns every pending request for the folder with a
// different mode. The change path cancels these before approving.
func PendingOthers(s Snapshot) []*models.PermissionRequest {
	var out []*models.PermissionRequest
	for _, req := range s.History {
		if req.Mode != s.Mode && req.Status == models.RequestPending {
			out = append(out, req)
		}
	}
	return out
}
