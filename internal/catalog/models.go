package catalog

import "github.com/google/uuid"

// Domain groups control rules under one regulatory area, e.g. governance,
// risk management, protection. Domains and rules are read-only from the
// core's point of view: an external catalog supplies them.
type Domain struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Rules       []Rule    `json:"rules"`
}

// Rule is a single regulatory requirement with a declared evidence shape.
//
// Invariants:
//   - Immutable once loaded; the assessment core never writes rules.
//   - RequiredFiles preserves declaration order. Derivation inspects the
//     first dated requirement only, so order is semantic, not cosmetic.
//   - A rule never declares two dated-file requirements.
type Rule struct {
	ID              uuid.UUID         `json:"id"`
	Reference       string            `json:"reference"`
	Text            string            `json:"text"`
	SuggestedAction string            `json:"suggested_action"`
	RequiresName    bool              `json:"requires_name"`
	RequiresEmail   bool              `json:"requires_email"`
	RequiresPhone   bool              `json:"requires_phone"`
	RequiredFiles   []FileRequirement `json:"required_files"`
}

// FileRequirement declares one required evidence file. RecencyMonths of zero
// means presence-only; a positive value is the maximum age in months for the
// file's content to count as current.
type FileRequirement struct {
	FileType      string `json:"file_type"`
	RecencyMonths int    `json:"recency_months"`
}

// FirstDatedRequirement returns the first required file carrying a recency
// window, in declaration order. The second return is false when the rule has
// no dated requirements.
func (r Rule) FirstDatedRequirement() (FileRequirement, bool) {
	for _, req := range r.RequiredFiles {
		if req.RecencyMonths > 0 {
			return req, true
		}
	}
	return FileRequirement{}, false
}

// RequirementFor looks up the recency window declared for a file type.
func (r Rule) RequirementFor(fileType string) (FileRequirement, bool) {
	for _, req := range r.RequiredFiles {
		if req.FileType == fileType {
			return req, true
		}
	}
	return FileRequirement{}, false
}

// DeclaresRequirements reports whether the rule declares any evidence
// category at all. Rules without requirements are evaluated manually and the
// engine leaves their stored status alone.
func (r Rule) DeclaresRequirements() bool {
	return r.RequiresName || r.RequiresEmail || r.RequiresPhone || len(r.RequiredFiles) > 0
}
