package config

import (
	"context"
	"errors"
	"testing"

	"github.com/meshwarden/warden/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRuleCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := &model.AccessRule{
		Name:      "prod-db",
		Type:      model.RuleTypeCIDR,
		Value:     "10.0.5.0/24",
		PortRange: "5432",
		Protocol:  "tcp",
		IsActive:  true,
	}
	if err := s.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if rule.ID == "" {
		t.Fatal("expected non-empty ID after create")
	}
	if rule.Version != 1 {
		t.Errorf("got version %d, want 1", rule.Version)
	}

	got, err := s.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.Value != "10.0.5.0/24" {
		t.Errorf("got value %q, want %q", got.Value, "10.0.5.0/24")
	}

	got2, err := s.GetRuleByName(ctx, "prod-db")
	if err != nil {
		t.Fatalf("GetRuleByName: %v", err)
	}
	if got2.ID != rule.ID {
		t.Errorf("got ID %s, want %s", got2.ID, rule.ID)
	}

	list, err := s.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d rules, want 1", len(list))
	}

	if err := s.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if _, err := s.GetRule(ctx, rule.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRuleNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetRule(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRule: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteRule(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteRule: expected ErrNotFound, got %v", err)
	}
}

func TestRuleDuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &model.AccessRule{Name: "dup", Type: model.RuleTypeIP, Value: "10.0.0.1", IsActive: true}
	if err := s.CreateRule(ctx, a); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	b := &model.AccessRule{Name: "dup", Type: model.RuleTypeIP, Value: "10.0.0.2", IsActive: true}
	if err := s.CreateRule(ctx, b); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestUpdateRuleOptimisticVersioning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := &model.AccessRule{Name: "versioned", Type: model.RuleTypeIP, Value: "10.0.0.1", IsActive: true}
	if err := s.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	rule.Value = "10.0.0.2"
	if err := s.UpdateRule(ctx, rule); err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if rule.Version != 2 {
		t.Errorf("got version %d after update, want 2", rule.Version)
	}

	// A writer holding the old version must be rejected, not silently
	// overwrite the newer row.
	stale := *rule
	stale.Version = 1
	stale.Value = "10.0.0.3"
	if err := s.UpdateRule(ctx, &stale); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for stale version, got %v", err)
	}

	got, err := s.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.Value != "10.0.0.2" {
		t.Errorf("stale write leaked through: value = %q", got.Value)
	}
}

func TestAssignments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := &model.AccessRule{Name: "assigned", Type: model.RuleTypeIP, Value: "10.0.0.1", IsActive: true}
	if err := s.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	a := &model.RuleAssignment{RuleID: rule.ID, SubjectType: model.SubjectUser, Subject: "alice"}
	if err := s.CreateAssignment(ctx, a); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	// Same (rule, subject) pair twice is a duplicate.
	again := &model.RuleAssignment{RuleID: rule.ID, SubjectType: model.SubjectUser, Subject: "alice"}
	if err := s.CreateAssignment(ctx, again); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	// Unknown rule.
	bad := &model.RuleAssignment{RuleID: "nope", SubjectType: model.SubjectUser, Subject: "alice"}
	if err := s.CreateAssignment(ctx, bad); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown rule, got %v", err)
	}

	list, err := s.ListAssignmentsForRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("ListAssignmentsForRule: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d assignments, want 1", len(list))
	}

	if err := s.DeleteAssignment(ctx, a.ID); err != nil {
		t.Fatalf("DeleteAssignment: %v", err)
	}
	if err := s.DeleteAssignment(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteRuleCascadesAssignments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := &model.AccessRule{Name: "cascade", Type: model.RuleTypeIP, Value: "10.0.0.1", IsActive: true}
	if err := s.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	a := &model.RuleAssignment{RuleID: rule.ID, SubjectType: model.SubjectGroup, Subject: "eng"}
	if err := s.CreateAssignment(ctx, a); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	if err := s.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	all, err := s.ListAssignments(ctx)
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("assignments survived rule deletion: %+v", all)
	}
}

func TestGenerationBumpsOnWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g0 := s.Generation()
	rule := &model.AccessRule{Name: "gen", Type: model.RuleTypeIP, Value: "10.0.0.1", IsActive: true}
	if err := s.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if s.Generation() <= g0 {
		t.Error("generation did not advance on rule create")
	}

	g1 := s.Generation()
	rule.Value = "10.0.0.2"
	if err := s.UpdateRule(ctx, rule); err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if s.Generation() <= g1 {
		t.Error("generation did not advance on rule update")
	}
}

func TestLoadRuleSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := &model.AccessRule{Name: "snap", Type: model.RuleTypeIP, Value: "10.0.0.1", IsActive: true}
	if err := s.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	a := &model.RuleAssignment{RuleID: rule.ID, SubjectType: model.SubjectUser, Subject: "alice"}
	if err := s.CreateAssignment(ctx, a); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	snap, err := s.LoadRuleSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadRuleSnapshot: %v", err)
	}
	if len(snap.Rules) != 1 || len(snap.Assignments) != 1 {
		t.Errorf("got %d rules / %d assignments, want 1/1", len(snap.Rules), len(snap.Assignments))
	}
	if snap.Generation != s.Generation() {
		t.Errorf("snapshot generation %d != store generation %d", snap.Generation, s.Generation())
	}
}
