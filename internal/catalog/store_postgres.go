package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"corecompliance/pkg/platform/sentinel"
)

// PostgresStore loads the catalog from PostgreSQL. Rules and their file
// requirements are ordered by an explicit position column so declaration
// order survives storage.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ListDomains(ctx context.Context) ([]Domain, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description
		FROM compliance_domains
		ORDER BY position, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var domains []Domain
	for rows.Next() {
		var d Domain
		if err := rows.Scan(&d.ID, &d.Name, &d.Description); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}

	for i := range domains {
		rules, err := s.rulesForDomain(ctx, domains[i].ID)
		if err != nil {
			return nil, err
		}
		domains[i].Rules = rules
	}
	return domains, nil
}

func (s *PostgresStore) rulesForDomain(ctx context.Context, domainID uuid.UUID) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reference, text, suggested_action,
		       requires_name, requires_email, requires_phone
		FROM control_rules
		WHERE domain_id = $1
		ORDER BY position, reference
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list rules for domain %s: %w", domainID, err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.Reference, &r.Text, &r.SuggestedAction,
			&r.RequiresName, &r.RequiresEmail, &r.RequiresPhone); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules for domain %s: %w", domainID, err)
	}

	for i := range rules {
		reqs, err := s.fileRequirements(ctx, rules[i].ID)
		if err != nil {
			return nil, err
		}
		rules[i].RequiredFiles = reqs
	}
	return rules, nil
}

func (s *PostgresStore) fileRequirements(ctx context.Context, ruleID uuid.UUID) ([]FileRequirement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_type, recency_months
		FROM rule_file_requirements
		WHERE rule_id = $1
		ORDER BY position, file_type
	`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("list file requirements for rule %s: %w", ruleID, err)
	}
	defer rows.Close()

	var reqs []FileRequirement
	for rows.Next() {
		var fr FileRequirement
		if err := rows.Scan(&fr.FileType, &fr.RecencyMonths); err != nil {
			return nil, fmt.Errorf("scan file requirement: %w", err)
		}
		reqs = append(reqs, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list file requirements for rule %s: %w", ruleID, err)
	}
	return reqs, nil
}

func (s *PostgresStore) FindRule(ctx context.Context, ruleID uuid.UUID) (Rule, error) {
	var r Rule
	err := s.db.QueryRowContext(ctx, `
		SELECT id, reference, text, suggested_action,
		       requires_name, requires_email, requires_phone
		FROM control_rules
		WHERE id = $1
	`, ruleID).Scan(&r.ID, &r.Reference, &r.Text, &r.SuggestedAction,
		&r.RequiresName, &r.RequiresEmail, &r.RequiresPhone)
	if err != nil {
		if err == sql.ErrNoRows {
			return Rule{}, fmt.Errorf("find rule %s: %w", ruleID, sentinel.ErrNotFound)
		}
		return Rule{}, fmt.Errorf("find rule %s: %w", ruleID, err)
	}
	reqs, err := s.fileRequirements(ctx, r.ID)
	if err != nil {
		return Rule{}, err
	}
	r.RequiredFiles = reqs
	return r, nil
}

func (s *PostgresStore) CountRules(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM control_rules`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rules: %w", err)
	}
	return n, nil
}
