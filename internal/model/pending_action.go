package model

import "time"

// ActionKind is the remote operation a pending action stands for.
type ActionKind string

const (
	KindReserve      ActionKind = "RESERVE"
	KindUnreserve    ActionKind = "UNRESERVE"
	KindPublishMajor ActionKind = "PUBLISH_MAJOR"
	KindPublishMinor ActionKind = "PUBLISH_MINOR"
	KindUploadData   ActionKind = "UPLOAD_DATA"
)

// Priority controls how aggressively the result log is polled.  It only
// ever moves from HIGH to LOW.
type Priority string

const (
	PriorityHigh Priority = "HIGH"
	PriorityLow  Priority = "LOW"
)

// ActionStatus is the orchestrator state of a pending action.
type ActionStatus string

const (
	StatusStarted               ActionStatus = "STARTED"
	StatusCheckingVersion       ActionStatus = "CHECKING_VERSION"
	StatusRejectedPrecheck      ActionStatus = "REJECTED_PRECHECK"
	StatusImportingNewerVersion ActionStatus = "IMPORTING_NEWER_VERSION"
	StatusSending               ActionStatus = "SENDING"
	StatusWaitingForLog         ActionStatus = "WAITING_FOR_LOG"
	StatusQueuedLowPriority     ActionStatus = "QUEUED_LOW_PRIORITY"
	StatusResolved              ActionStatus = "RESOLVED"
	StatusCompleted             ActionStatus = "COMPLETED"
	StatusError                 ActionStatus = "ERROR"
)

// Terminal reports whether no further transition follows s.
func (s ActionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusRejectedPrecheck
}

// RemoteOutcome is the authority's judgement on a submitted action, or the
// reason no judgement could be obtained.
type RemoteOutcome string

const (
	OutcomeOK             RemoteOutcome = "OK"
	OutcomeRejected       RemoteOutcome = "REJECTED"
	OutcomeBusy           RemoteOutcome = "BUSY"
	OutcomeForbidden      RemoteOutcome = "FORBIDDEN"
	OutcomeTransportError RemoteOutcome = "TRANSPORT_ERROR"
)

// PendingAction records a remote operation that has been requested but
// whose authoritative outcome is not yet known.  Once the authority has
// acknowledged the request the record is persisted so that polling can
// resume after a restart.  Removing the record is what completes it.
//
// Fields:
//
//	ID          – store-assigned identifier.
//	Kind        – operation requested from the authority.
//	RemoteLogID – log identifier returned by the authority (nil before
//	              the submission is acknowledged).
//	Level       – requested reserve/publish level.
//	Catalogue   – target catalogue version.
//	Requester   – user who asked for the operation.
//	Priority    – polling priority.
//	Note        – free-text justification; required for reservations.
//	Status      – orchestrator state.
type PendingAction struct {
	ID          int64         // pending_actions.id
	Kind        ActionKind    // pending_actions.kind
	RemoteLogID *string       // pending_actions.remote_log_id (nullable)
	Level       Level         // pending_actions.level
	Catalogue   CatalogueRef  // pending_actions.catalogue_code/version_*
	Requester   string        // pending_actions.requester
	Priority    Priority      // pending_actions.priority
	Note        string        // pending_actions.note
	Status      ActionStatus  // pending_actions.status
	CreatedAt   time.Time     // pending_actions.created_at
	UpdatedAt   time.Time     // pending_actions.updated_at
}

// LogID returns the remote log id or an empty string.
func (a *PendingAction) LogID() string {
	if a.RemoteLogID == nil {
		return ""
	}
	return *a.RemoteLogID
}

// Clone returns a copy that shares no pointers with a.
func (a *PendingAction) Clone() *PendingAction {
	c := *a
	if a.RemoteLogID != nil {
		id := *a.RemoteLogID
		c.RemoteLogID = &id
	}
	return &c
}
