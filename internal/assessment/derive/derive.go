// Package derive computes a rule's compliance status from its current
// evidence. The goal is to keep the rules centralized and testable: the
// engine is a pure function of (rule requirements, answer evidence) and every
// write of the status field goes through the reconciliation loop.
package derive

import (
	"corecompliance/internal/assessment/models"
	"corecompliance/internal/catalog"
)

// Derive maps the rule's requirement set and the answer's evidence to a
// compliance status. Branches are mutually exclusive and checked in priority
// order: identity+contact, phone, dated document, plain document, manual.
// The second return is false when the rule declares no requirement
// categories; the caller then retains whatever status is already stored.
func Derive(rule catalog.Rule, answer *models.Answer) (models.Status, bool) {
	switch {
	case rule.RequiresName && rule.RequiresEmail && !rule.RequiresPhone:
		return deriveNameEmail(answer), true
	case rule.RequiresPhone && !rule.RequiresName && !rule.RequiresEmail:
		return derivePhone(answer), true
	}

	if req, ok := rule.FirstDatedRequirement(); ok {
		return deriveDatedFile(req, answer), true
	}
	if len(rule.RequiredFiles) > 0 {
		return derivePresenceFiles(rule, answer), true
	}
	if !rule.DeclaresRequirements() {
		return models.StatusNotEvaluated, false
	}
	// Requirement combinations the catalog does not author (e.g. name
	// without email) fall back to not-evaluated rather than guessing.
	return models.StatusNotEvaluated, true
}

func deriveNameEmail(answer *models.Answer) models.Status {
	namePresent := answer.Name != ""
	// A format-invalid email never reaches verification, so its status can
	// only be none; it contributes as absent here.
	emailStatus := answer.EmailStatus

	switch {
	case namePresent && emailStatus == models.EmailStatusValid:
		return models.StatusCompliant
	case namePresent && (emailStatus == models.EmailStatusPending || emailStatus == models.EmailStatusBounced):
		return models.StatusPartial
	case !namePresent && (emailStatus == models.EmailStatusPending || emailStatus == models.EmailStatusBounced):
		return models.StatusNonCompliant
	default:
		return models.StatusNotEvaluated
	}
}

func derivePhone(answer *models.Answer) models.Status {
	switch {
	case models.PhoneValid(answer.Phone):
		return models.StatusCompliant
	case answer.Phone != "":
		return models.StatusNonCompliant
	default:
		return models.StatusNotEvaluated
	}
}

// deriveDatedFile evaluates only the first dated requirement in declaration
// order; the catalog never authors a rule with two dated files.
func deriveDatedFile(req catalog.FileRequirement, answer *models.Answer) models.Status {
	evidence, ok := answer.FileByType(req.FileType)
	if !ok {
		return models.StatusNotEvaluated
	}
	switch evidence.VerificationStatus {
	case models.FileVerificationUpToDate:
		return models.StatusCompliant
	case models.FileVerificationOutdated:
		return models.StatusPartial
	case models.FileVerificationVeryOutdated, models.FileVerificationError:
		return models.StatusNonCompliant
	default:
		// none or pending: no verdict yet.
		return models.StatusNotEvaluated
	}
}

func derivePresenceFiles(rule catalog.Rule, answer *models.Answer) models.Status {
	uploaded := 0
	for _, req := range rule.RequiredFiles {
		if _, ok := answer.FileByType(req.FileType); ok {
			uploaded++
		}
	}
	switch {
	case uploaded == 0:
		return models.StatusNotEvaluated
	case uploaded == len(rule.RequiredFiles):
		return models.StatusCompliant
	default:
		return models.StatusPartial
	}
}
