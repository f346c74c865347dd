package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lliwi/sar-v3-sub000/internal/logger"
	"github.com/lliwi/sar-v3-sub000/pkg/artefact"
	"github.com/lliwi/sar-v3-sub000/pkg/audit"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
	"github.com/lliwi/sar-v3-sub000/pkg/notify"
	"github.com/lliwi/sar-v3-sub000/pkg/store"
)

// Service drives the request state machine. All state changes to
// PermissionRequest rows go through it.
type Service struct {
	store     store.Store
	artefacts *artefact.Writer
	notifier  *notify.Notifier
	recorder  *audit.Recorder
	executor  Executor
}

// NewService wires the state machine to its collaborators.
func NewService(st store.Store, w *artefact.Writer, n *notify.Notifier, rec *audit.Recorder, ex Executor) *Service {
	return &Service{store: st, artefacts: w, notifier: n, recorder: rec, executor: ex}
}

// Snapshot assembles the classification input for (requester, folder, mode).
func (s *Service) Snapshot(ctx context.Context, requester *models.User, folder *models.Folder, mode models.PermissionMode) (Snapshot, error) {
	history, err := s.store.ListRequestsForUserFolder(ctx, requester.ID, folder.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading request history: %w", err)
	}

	memberships, err := s.store.ListMembershipsForUser(ctx, requester.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading memberships: %w", err)
	}
	memberOf := make(map[uint]bool, len(memberships))
	for _, m := range memberships {
		if m.IsActive {
			memberOf[m.GroupID] = true
		}
	}

	held := map[models.PermissionMode]bool{}
	for _, perm := range folder.Permissions {
		if perm.IsActive && memberOf[perm.GroupID] {
			held[perm.Mode] = true
		}
	}

	return Snapshot{Mode: mode, History: history, HeldModes: held}, nil
}

// Submit records a new pending request. Duplicates are refused before any
// row is written; everything else (new, change, retry) produces a pending
// request whose handling is decided at approval time.
func (s *Service) Submit(ctx context.Context, requesterID, folderID uint, mode models.PermissionMode, businessNeed string, validatorID *uint) (*models.PermissionRequest, Class, error) {
	if !mode.IsValid() {
		return nil, "", models.Permanent("invalid permission mode "+mode.String(), nil)
	}

	requester, err := s.store.GetUserByID(ctx, requesterID)
	if err != nil {
		return nil, "", err
	}
	folder, err := s.store.GetFolderByID(ctx, folderID)
	if err != nil {
		return nil, "", err
	}

	snap, err := s.Snapshot(ctx, requester, folder, mode)
	if err != nil {
		return nil, "", err
	}
	class := Classify(snap)
	if class == ClassDuplicate {
		return nil, class, models.ErrDuplicateRequest
	}
	if pending := PendingSame(snap); pending != nil {
		return nil, class, models.ErrDuplicateRequest
	}

	req := &models.PermissionRequest{
		RequesterID:  requesterID,
		FolderID:     folderID,
		ValidatorID:  validatorID,
		Mode:         mode,
		BusinessNeed: businessNeed,
		Status:       models.RequestPending,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, class, err
	}
	req.Requester = requester
	req.Folder = folder

	s.recorder.Record(ctx, audit.Entry{
		Actor:        requester.Username,
		EventType:    audit.EventRequest,
		Action:       "submit",
		ResourceType: audit.ResourceRequest,
		ResourceID:   fmt.Sprintf("%d", req.ID),
		Description:  fmt.Sprintf("requested %s on %s", mode, folder.SanitizedPath()),
		Metadata:     map[string]any{"class": string(class)},
	})
	logger.Info("Request submitted",
		logger.KeyRequestID, req.ID,
		logger.KeyActor, requester.Username,
		logger.KeyFolder, folder.Path,
		logger.KeyMode, mode.String(),
		logger.KeyOperation, string(class))
	return req, class, nil
}

// Approve transitions a pending request to approved, binds the target group
// and hands the resulting task plan to the executor. A mode change on the
// same folder produces the three-step change chain instead of the plain
// add chain.
func (s *Service) Approve(ctx context.Context, requestID uint, validator *models.User, comment string) (*models.PermissionRequest, error) {
	req, folder, err := s.loadForDecision(ctx, requestID, validator)
	if err != nil {
		return nil, err
	}

	snap, err := s.Snapshot(ctx, req.Requester, folder, req.Mode)
	if err != nil {
		return nil, err
	}
	class := Classify(snap)
	if class == ClassDuplicate {
		s.recorder.RecordError(ctx, s.entryFor(req, validator, "approve"), models.ErrDuplicateRequest)
		return nil, models.ErrDuplicateRequest
	}

	// The group binding is what makes the approval actionable; without a
	// matching linkage the approval is refused with a user-visible reason.
	perm, err := s.store.FirstPermissionForMode(ctx, req.FolderID, req.Mode)
	if err != nil {
		if errors.Is(err, models.ErrPermissionNotFound) {
			s.recorder.RecordError(ctx, s.entryFor(req, validator, "approve"), models.ErrNoMatchingGroup)
			return nil, models.ErrNoMatchingGroup
		}
		return nil, err
	}
	group, err := s.store.GetGroupByID(ctx, perm.GroupID)
	if err != nil {
		return nil, err
	}

	if !req.Status.CanTransitionTo(models.RequestApproved) {
		return nil, fmt.Errorf("%w: %s -> approved", models.ErrInvalidTransition, req.Status)
	}
	now := time.Now().UTC()
	req.Status = models.RequestApproved
	req.GroupID = &perm.GroupID
	req.Group = group
	req.ValidatorID = &validator.ID
	req.ValidationComment = comment
	req.ValidatedAt = &now
	if err := s.store.SaveRequest(ctx, req); err != nil {
		return nil, err
	}

	var plan TaskPlan
	if class == ClassChange {
		plan, err = s.planChange(ctx, req, folder, snap, validator)
	} else {
		plan, err = s.planAdd(req)
	}
	if err != nil {
		return nil, err
	}
	if err := s.executor.ExecutePlan(ctx, req, plan); err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Entry{
		Actor:        validator.Username,
		EventType:    audit.EventRequest,
		Action:       "approve",
		ResourceType: audit.ResourceRequest,
		ResourceID:   fmt.Sprintf("%d", req.ID),
		Description:  fmt.Sprintf("approved %s on %s via %s", req.Mode, folder.SanitizedPath(), group.Name),
		Metadata:     map[string]any{"class": string(class), "group_id": perm.GroupID},
	})
	if err := s.notifier.NotifyRequester(ctx, req, "Access request approved",
		fmt.Sprintf("Your request for %s access to %s was approved. The change is being applied.", req.Mode, folder.SanitizedPath())); err != nil {
		logger.Warn("Requester notification failed", logger.KeyRequestID, req.ID, logger.KeyError, err)
	}

	logger.Info("Request approved",
		logger.KeyRequestID, req.ID,
		logger.KeyActor, validator.Username,
		logger.KeyGroup, group.Name,
		logger.KeyOperation, string(class))
	return req, nil
}

func (s *Service) planAdd(req *models.PermissionRequest) (TaskPlan, error) {
	csvPath, err := s.artefacts.WriteSingle(req, models.ActionAdd)
	if err != nil {
		return TaskPlan{}, fmt.Errorf("writing add artefact: %w", err)
	}
	return addChain(req, csvPath, true), nil
}

// planChange cancels competing pending requests and plans the
// remove-old / add-new / verify chain.
func (s *Service) planChange(ctx context.Context, req *models.PermissionRequest, folder *models.Folder, snap Snapshot, validator *models.User) (TaskPlan, error) {
	for _, other := range PendingOthers(snap) {
		other.Status = models.RequestCanceled
		other.ValidationComment = fmt.Sprintf("superseded by request %d (%s)", req.ID, req.Mode)
		if err := s.store.SaveRequest(ctx, other); err != nil {
			return TaskPlan{}, fmt.Errorf("cancelling superseded request %d: %w", other.ID, err)
		}
		if err := s.executor.CancelSiblings(ctx, other.ID, validator.Username, "superseded by mode change"); err != nil {
			logger.Warn("Failed to cancel tasks of superseded request",
				logger.KeyRequestID, other.ID, logger.KeyError, err)
		}
	}

	oldGroup, oldMode, err := s.currentHolding(ctx, req, folder, snap)
	if err != nil {
		return TaskPlan{}, err
	}

	removeReq := *req
	removeReq.Mode = oldMode
	removeReq.Group = oldGroup
	removeCSV, err := s.artefacts.WriteSingle(&removeReq, models.ActionRemove)
	if err != nil {
		return TaskPlan{}, fmt.Errorf("writing remove artefact: %w", err)
	}
	addCSV, err := s.artefacts.WriteSingle(req, models.ActionAdd)
	if err != nil {
		return TaskPlan{}, fmt.Errorf("writing add artefact: %w", err)
	}
	return changeChain(req, oldGroup, oldMode, removeCSV, addCSV), nil
}

// currentHolding determines which (group, mode) the requester holds on the
// folder today: first via the membership cache, then via the newest approved
// request with a different mode.
func (s *Service) currentHolding(ctx context.Context, req *models.PermissionRequest, folder *models.Folder, snap Snapshot) (*models.Group, models.PermissionMode, error) {
	memberships, err := s.store.ListMembershipsForUser(ctx, req.RequesterID)
	if err != nil {
		return nil, "", err
	}
	memberOf := make(map[uint]bool, len(memberships))
	for _, m := range memberships {
		if m.IsActive {
			memberOf[m.GroupID] = true
		}
	}
	for _, perm := range folder.Permissions {
		if perm.IsActive && perm.Mode != req.Mode && memberOf[perm.GroupID] {
			group := perm.Group
			if group == nil {
				group, err = s.store.GetGroupByID(ctx, perm.GroupID)
				if err != nil {
					return nil, "", err
				}
			}
			return group, perm.Mode, nil
		}
	}

	for _, old := range snap.History {
		if old.Status == models.RequestApproved && old.Mode != req.Mode && old.Group != nil {
			return old.Group, old.Mode, nil
		}
	}
	return nil, "", models.Permanent(
		fmt.Sprintf("request %d classified as change but no current holding found", req.ID), nil)
}

// Reject transitions a pending request to rejected and tells the requester.
func (s *Service) Reject(ctx context.Context, requestID uint, validator *models.User, comment string) (*models.PermissionRequest, error) {
	req, folder, err := s.loadForDecision(ctx, requestID, validator)
	if err != nil {
		return nil, err
	}
	if !req.Status.CanTransitionTo(models.RequestRejected) {
		return nil, fmt.Errorf("%w: %s -> rejected", models.ErrInvalidTransition, req.Status)
	}

	now := time.Now().UTC()
	req.Status = models.RequestRejected
	req.ValidatorID = &validator.ID
	req.ValidationComment = comment
	req.ValidatedAt = &now
	if err := s.store.SaveRequest(ctx, req); err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Entry{
		Actor:        validator.Username,
		EventType:    audit.EventRequest,
		Action:       "reject",
		ResourceType: audit.ResourceRequest,
		ResourceID:   fmt.Sprintf("%d", req.ID),
		Description:  fmt.Sprintf("rejected %s on %s", req.Mode, folder.SanitizedPath()),
	})
	if err := s.notifier.NotifyRequester(ctx, req, "Access request rejected",
		fmt.Sprintf("Your request for %s access to %s was rejected.\n\n%s", req.Mode, folder.SanitizedPath(), comment)); err != nil {
		logger.Warn("Requester notification failed", logger.KeyRequestID, req.ID, logger.KeyError, err)
	}
	return req, nil
}

// Cancel withdraws a pending request. Permitted to the requester themself
// and to admins.
func (s *Service) Cancel(ctx context.Context, requestID uint, actor *models.User, reason string) (*models.PermissionRequest, error) {
	req, err := s.store.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actor.ID != req.RequesterID && !actor.IsAdmin {
		return nil, models.ErrNotAuthorised
	}
	if !req.Status.CanTransitionTo(models.RequestCanceled) {
		return nil, fmt.Errorf("%w: %s -> canceled", models.ErrInvalidTransition, req.Status)
	}

	req.Status = models.RequestCanceled
	req.ValidationComment = reason
	if err := s.store.SaveRequest(ctx, req); err != nil {
		return nil, err
	}
	if err := s.executor.CancelSiblings(ctx, req.ID, actor.Username, reason); err != nil {
		logger.Warn("Failed to cancel request tasks", logger.KeyRequestID, req.ID, logger.KeyError, err)
	}

	s.recorder.Record(ctx, audit.Entry{
		Actor:        actor.Username,
		EventType:    audit.EventRequest,
		Action:       "cancel",
		ResourceType: audit.ResourceRequest,
		ResourceID:   fmt.Sprintf("%d", req.ID),
		Description:  reason,
	})
	return req, nil
}

// Revoke withdraws an approved permission. The bound linkage is flagged
// deletion_in_progress while the removal is verified; the verification
// outcome decides whether it is retired or restored.
func (s *Service) Revoke(ctx context.Context, requestID uint, actor *models.User, reason string) (*models.PermissionRequest, error) {
	req, err := s.store.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	folder, err := s.store.GetFolderByID(ctx, req.FolderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorise(req, folder, actor); err != nil {
		return nil, err
	}
	if !req.Status.CanTransitionTo(models.RequestRevoked) {
		return nil, fmt.Errorf("%w: %s -> revoked", models.ErrInvalidTransition, req.Status)
	}
	if req.GroupID == nil || req.Group == nil {
		return nil, models.Permanent(fmt.Sprintf("approved request %d has no bound group", req.ID), nil)
	}

	var permissionID *uint
	perm, err := s.store.FindPermission(ctx, req.FolderID, *req.GroupID, req.Mode)
	if err == nil {
		permissionID = &perm.ID
		if err := s.store.SetPermissionDeletionInProgress(ctx, perm.ID, true); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, models.ErrPermissionNotFound) {
		return nil, err
	}

	var membershipID *uint
	if m, err := s.store.GetMembership(ctx, req.RequesterID, *req.GroupID); err == nil {
		membershipID = &m.ID
	}

	req.Status = models.RequestRevoked
	req.ValidationComment = reason
	if err := s.store.SaveRequest(ctx, req); err != nil {
		return nil, err
	}

	csvPath, err := s.artefacts.WriteSingle(req, models.ActionRemove)
	if err != nil {
		return nil, fmt.Errorf("writing remove artefact: %w", err)
	}
	if err := s.executor.ExecutePlan(ctx, req, revokeChain(req, csvPath, permissionID, membershipID)); err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Entry{
		Actor:        actor.Username,
		EventType:    audit.EventRequest,
		Action:       "revoke",
		ResourceType: audit.ResourceRequest,
		ResourceID:   fmt.Sprintf("%d", req.ID),
		Description:  fmt.Sprintf("revoked %s on %s", req.Mode, folder.SanitizedPath()),
	})
	if err := s.notifier.NotifyRequester(ctx, req, "Access revoked",
		fmt.Sprintf("Your %s access to %s is being removed.\n\n%s", req.Mode, folder.SanitizedPath(), reason)); err != nil {
		logger.Warn("Requester notification failed", logger.KeyRequestID, req.ID, logger.KeyError, err)
	}
	return req, nil
}

// loadForDecision loads a request plus its folder and checks that the actor
// may decide on it.
func (s *Service) loadForDecision(ctx context.Context, requestID uint, validator *models.User) (*models.PermissionRequest, *models.Folder, error) {
	req, err := s.store.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	folder, err := s.store.GetFolderByID(ctx, req.FolderID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.authorise(req, folder, validator); err != nil {
		return nil, nil, err
	}
	return req, folder, nil
}

// authorise implements the who-may-validate rule: admins always; a request
// created for a specific validator binds the decision to that validator (or
// an admin); otherwise owners and explicit validators of the folder.
func (s *Service) authorise(req *models.PermissionRequest, folder *models.Folder, user *models.User) error {
	if user.IsAdmin {
		return nil
	}
	if req.ValidatorID != nil {
		if *req.ValidatorID == user.ID {
			return nil
		}
		return models.ErrNotAuthorised
	}
	if folder.CanValidate(user.ID) {
		return nil
	}
	return models.ErrNotAuthorised
}

func (s *Service) entryFor(req *models.PermissionRequest, actor *models.User, action string) audit.Entry {
	return audit.Entry{
		Actor:        actor.Username,
		EventType:    audit.EventRequest,
		Action:       action,
		ResourceType: audit.ResourceRequest,
		ResourceID:   fmt.Sprintf("%d", req.ID),
	}
}
