package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the compliance verdict derived for one rule.
type Status string

const (
	StatusNotEvaluated Status = "NOT_EVALUATED"
	StatusCompliant    Status = "COMPLIANT"
	StatusNonCompliant Status = "NON_COMPLIANT"
	StatusPartial      Status = "PARTIAL"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotEvaluated, StatusCompliant, StatusNonCompliant, StatusPartial:
		return true
	}
	return false
}

// EmailStatus tracks the deliverability verification of an answer's email.
// Transitions: none → pending → {valid, bounced}. A terminal state re-enters
// pending only when the email value changes or verification is re-requested.
type EmailStatus string

const (
	EmailStatusNone    EmailStatus = "none"
	EmailStatusPending EmailStatus = "pending"
	EmailStatusValid   EmailStatus = "valid"
	EmailStatusBounced EmailStatus = "bounced"
)

// Terminal reports whether the email verification has reached a verdict.
func (s EmailStatus) Terminal() bool {
	return s == EmailStatusValid || s == EmailStatusBounced
}

// FileVerificationStatus tracks the recency verification of one evidence
// file. Transitions: none → pending → terminal. Presence-only files
// (recency window zero) stay at none forever.
type FileVerificationStatus string

const (
	FileVerificationNone         FileVerificationStatus = "none"
	FileVerificationPending      FileVerificationStatus = "pending"
	FileVerificationUpToDate     FileVerificationStatus = "up_to_date"
	FileVerificationOutdated     FileVerificationStatus = "outdated"
	FileVerificationVeryOutdated FileVerificationStatus = "very_outdated"
	FileVerificationError        FileVerificationStatus = "error"
)

// Terminal reports whether the file verification has reached a verdict.
func (s FileVerificationStatus) Terminal() bool {
	switch s {
	case FileVerificationUpToDate, FileVerificationOutdated,
		FileVerificationVeryOutdated, FileVerificationError:
		return true
	}
	return false
}

// FileEvidence is one uploaded file attached to an answer. At most one
// evidence item exists per file type; re-upload replaces and bumps Version so
// verdicts for the replaced file can be recognized and discarded.
type FileEvidence struct {
	FileType            string                 `json:"file_type"`
	Locator             string                 `json:"locator"`
	Version             int                    `json:"version"`
	VerificationStatus  FileVerificationStatus `json:"verification_status"`
	VerificationMessage string                 `json:"verification_message"`
	UploadedAt          time.Time              `json:"uploaded_at"`
}

// Answer is the evidence one subject has submitted against one rule.
//
// Invariants:
//   - ID is the zero uuid until the first successful save (draft state).
//   - Status is engine-owned: it is always a pure function of the rule's
//     requirement set and the current evidence. Callers cannot set it while
//     derivation is active; manual judgement goes through Override.
//   - Files holds at most one FileEvidence per file type, ordered by type.
//   - EmailVersion increments whenever the email value changes; email
//     verdicts carrying an older version are discarded.
type Answer struct {
	ID           uuid.UUID      `json:"id"`
	RuleID       uuid.UUID      `json:"rule_id"`
	Subject      string         `json:"subject"`
	Status       Status         `json:"status"`
	Override     *Status        `json:"override,omitempty"`
	Notes        string         `json:"notes"`
	Name         string         `json:"name"`
	Email        string         `json:"email"`
	EmailStatus  EmailStatus    `json:"email_status"`
	EmailVersion int            `json:"email_version"`
	Phone        string         `json:"phone"`
	Files        []FileEvidence `json:"files"`
	LastUpdated  time.Time      `json:"last_updated"`
}

// Draft reports whether the answer has not been persisted yet.
func (a *Answer) Draft() bool {
	return a.ID == uuid.Nil
}

// EffectiveStatus returns the manual override when present, else the derived
// status. Overrides surface with distinct provenance; they never overwrite
// the derived value in storage.
func (a *Answer) EffectiveStatus() Status {
	if a.Override != nil {
		return *a.Override
	}
	return a.Status
}

// FileByType returns the evidence item for a file type, if any.
func (a *Answer) FileByType(fileType string) (FileEvidence, bool) {
	for _, f := range a.Files {
		if f.FileType == fileType {
			return f, true
		}
	}
	return FileEvidence{}, false
}

// HasPendingVerification reports whether any evidence on the answer is
// awaiting a verification verdict. The poller runs only while this holds for
// at least one answer.
func (a *Answer) HasPendingVerification() bool {
	if a.EmailStatus == EmailStatusPending {
		return true
	}
	for _, f := range a.Files {
		if f.VerificationStatus == FileVerificationPending {
			return true
		}
	}
	return false
}
