package config

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/meshwarden/warden/internal/model"
)

// ---------------------------------------------------------------------------
// AccessRule CRUD
// ---------------------------------------------------------------------------

// CreateRule inserts a new access rule. The caller must have validated
// the rule's value against its type; this method only persists. The
// ID, Version, CreatedAt, and UpdatedAt fields are populated.
func (s *Store) CreateRule(ctx context.Context, rule *model.AccessRule) error {
	ts := now()
	rule.ID = uuid.NewString()
	rule.Version = 1
	rule.CreatedAt = ts
	rule.UpdatedAt = ts

	const q = `INSERT INTO access_rules
		(id, name, type, value, port_range, protocol, network_scope, is_active, description, version, created_at, updated_at)
		VALUES
		(:id, :name, :type, :value, :port_range, :protocol, :network_scope, :is_active, :description, :version, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, rule); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert rule: %w", err)
	}
	s.bumpGeneration()
	return nil
}

// GetRule returns a rule by ID.
func (s *Store) GetRule(ctx context.Context, id string) (*model.AccessRule, error) {
	var rule model.AccessRule
	if err := s.db.GetContext(ctx, &rule, "SELECT * FROM access_rules WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return &rule, nil
}

// GetRuleByName returns a rule by its unique name.
func (s *Store) GetRuleByName(ctx context.Context, name string) (*model.AccessRule, error) {
	var rule model.AccessRule
	if err := s.db.GetContext(ctx, &rule, "SELECT * FROM access_rules WHERE name = ?", name); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get rule by name: %w", err)
	}
	return &rule, nil
}

// ListRules returns all access rules ordered by name.
func (s *Store) ListRules(ctx context.Context) ([]model.AccessRule, error) {
	var rules []model.AccessRule
	if err := s.db.SelectContext(ctx, &rules, "SELECT * FROM access_rules ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// UpdateRule updates an existing rule, guarded by its version for
// optimistic concurrency: if another write changed the rule since the
// caller read it, ErrConflict is returned and nothing is modified. On
// success the rule's Version and UpdatedAt are advanced in place.
func (s *Store) UpdateRule(ctx context.Context, rule *model.AccessRule) error {
	expected := rule.Version
	rule.Version = expected + 1
	rule.UpdatedAt = now()

	const q = `UPDATE access_rules SET
		name = :name, type = :type, value = :value, port_range = :port_range,
		protocol = :protocol, network_scope = :network_scope, is_active = :is_active,
		description = :description, version = :version, updated_at = :updated_at
		WHERE id = :id AND version = :expected_version`

	arg := struct {
		model.AccessRule
		ExpectedVersion int64 `db:"expected_version"`
	}{*rule, expected}

	result, err := s.db.NamedExecContext(ctx, q, arg)
	if err != nil {
		rule.Version = expected
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update rule: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rule rows affected: %w", err)
	}
	if n == 0 {
		rule.Version = expected
		// Distinguish a missing row from a lost race.
		if _, getErr := s.GetRule(ctx, rule.ID); getErr != nil {
			return getErr
		}
		return ErrConflict
	}
	s.bumpGeneration()
	return nil
}

// DeleteRule removes a rule by ID. Its assignments are cascade deleted
// by the foreign key constraint.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM access_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rule rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.bumpGeneration()
	return nil
}

// ---------------------------------------------------------------------------
// RuleAssignments
// ---------------------------------------------------------------------------

// CreateAssignment binds a rule to a user or group. Duplicate
// assignments return ErrDuplicate; an unknown rule ID returns
// ErrNotFound.
func (s *Store) CreateAssignment(ctx context.Context, a *model.RuleAssignment) error {
	if _, err := s.GetRule(ctx, a.RuleID); err != nil {
		return err
	}

	a.ID = uuid.NewString()
	a.CreatedAt = now()

	const q = `INSERT INTO rule_assignments (id, rule_id, subject_type, subject, created_at)
		VALUES (:id, :rule_id, :subject_type, :subject, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, a); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	s.bumpGeneration()
	return nil
}

// DeleteAssignment removes a single assignment by ID.
func (s *Store) DeleteAssignment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM rule_assignments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete assignment rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.bumpGeneration()
	return nil
}

// ListAssignmentsForRule returns all assignments of one rule.
func (s *Store) ListAssignmentsForRule(ctx context.Context, ruleID string) ([]model.RuleAssignment, error) {
	var out []model.RuleAssignment
	const q = `SELECT * FROM rule_assignments WHERE rule_id = ? ORDER BY subject_type, subject`
	if err := s.db.SelectContext(ctx, &out, q, ruleID); err != nil {
		return nil, fmt.Errorf("list assignments for rule: %w", err)
	}
	return out, nil
}

// ListAssignments returns every rule assignment.
func (s *Store) ListAssignments(ctx context.Context) ([]model.RuleAssignment, error) {
	var out []model.RuleAssignment
	if err := s.db.SelectContext(ctx, &out, "SELECT * FROM rule_assignments ORDER BY rule_id"); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return out, nil
}

// RuleSnapshot is a consistent view of all rules and assignments, read
// in a single transaction so resolution never observes a half-applied
// write. Generation records the store generation the snapshot was
// taken at.
type RuleSnapshot struct {
	Rules       []model.AccessRule
	Assignments []model.RuleAssignment
	Generation  int64
}

// LoadRuleSnapshot reads all rules and assignments transactionally.
func (s *Store) LoadRuleSnapshot(ctx context.Context) (*RuleSnapshot, error) {
	gen := s.Generation()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	snap := &RuleSnapshot{Generation: gen}
	if err := tx.SelectContext(ctx, &snap.Rules, "SELECT * FROM access_rules ORDER BY name"); err != nil {
		return nil, fmt.Errorf("snapshot rules: %w", err)
	}
	if err := tx.SelectContext(ctx, &snap.Assignments, "SELECT * FROM rule_assignments"); err != nil {
		return nil, fmt.Errorf("snapshot assignments: %w", err)
	}
	return snap, nil
}
