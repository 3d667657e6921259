package config

import (
	"context"
	"strings"
	"testing"

	"github.com/meshwarden/warden/internal/model"
)

func TestBundleExportImportRoundTrip(t *testing.T) {
	src := newTestStore(t)
	ctx := context.Background()

	rule := &model.AccessRule{
		Name:      "db-access",
		Type:      model.RuleTypeCIDR,
		Value:     "10.0.5.0/24",
		PortRange: "5432",
		Protocol:  "tcp",
		IsActive:  true,
	}
	if err := src.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	for _, a := range []*model.RuleAssignment{
		{RuleID: rule.ID, SubjectType: model.SubjectUser, Subject: "alice"},
		{RuleID: rule.ID, SubjectType: model.SubjectGroup, Subject: "dba"},
	} {
		if err := src.CreateAssignment(ctx, a); err != nil {
			t.Fatalf("CreateAssignment: %v", err)
		}
	}
	if err := src.CreateNetwork(ctx, &model.Network{Name: "prod", CIDR: "10.0.0.0/16", IsActive: true}); err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}

	data, err := src.ExportBundle(ctx)
	if err != nil {
		t.Fatalf("ExportBundle: %v", err)
	}
	for _, want := range []string{"db-access", "10.0.5.0/24", "alice", "dba", "prod"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("bundle missing %q:\n%s", want, data)
		}
	}

	dst := newTestStore(t)
	if err := dst.ImportBundle(ctx, data); err != nil {
		t.Fatalf("ImportBundle: %v", err)
	}

	snap, err := dst.LoadRuleSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadRuleSnapshot: %v", err)
	}
	if len(snap.Rules) != 1 || len(snap.Assignments) != 2 {
		t.Fatalf("imported %d rules, %d assignments; want 1, 2", len(snap.Rules), len(snap.Assignments))
	}
	got := snap.Rules[0]
	if got.Name != "db-access" || got.Value != "10.0.5.0/24" || got.PortRange != "5432" {
		t.Errorf("imported rule = %+v", got)
	}

	networks, err := dst.ListNetworks(ctx)
	if err != nil {
		t.Fatalf("ListNetworks: %v", err)
	}
	if len(networks) != 1 || networks[0].CIDR != "10.0.0.0/16" {
		t.Errorf("imported networks = %+v", networks)
	}
}

func TestBundleImportReplacesByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := &model.AccessRule{Name: "web", Type: model.RuleTypeIP, Value: "10.0.0.1", IsActive: true}
	if err := s.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := s.CreateAssignment(ctx, &model.RuleAssignment{
		RuleID: rule.ID, SubjectType: model.SubjectUser, Subject: "bob",
	}); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	bundle := `
rules:
  - name: web
    type: ip
    value: 10.0.0.2
    active: true
    users: [alice]
`
	if err := s.ImportBundle(ctx, []byte(bundle)); err != nil {
		t.Fatalf("ImportBundle: %v", err)
	}

	got, err := s.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.Value != "10.0.0.2" {
		t.Errorf("value = %s, want 10.0.0.2", got.Value)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2 after replace", got.Version)
	}

	// Assignments are replaced wholesale, not merged.
	assignments, err := s.ListAssignmentsForRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("ListAssignmentsForRule: %v", err)
	}
	if len(assignments) != 1 || assignments[0].Subject != "alice" {
		t.Errorf("assignments after import = %+v", assignments)
	}
}

func TestBundleImportAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// The second rule is invalid; nothing from the bundle may land.
	bundle := `
rules:
  - name: good
    type: ip
    value: 10.0.0.1
    active: true
  - name: bad
    type: cidr
    value: not-a-cidr
    active: true
`
	if err := s.ImportBundle(ctx, []byte(bundle)); err == nil {
		t.Fatal("expected validation error")
	}

	snap, err := s.LoadRuleSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadRuleSnapshot: %v", err)
	}
	if len(snap.Rules) != 0 {
		t.Errorf("partial import: %+v", snap.Rules)
	}
}

func TestBundleImportRejectsDuplicateNames(t *testing.T) {
	s := newTestStore(t)

	bundle := `
rules:
  - name: twin
    type: ip
    value: 10.0.0.1
  - name: twin
    type: ip
    value: 10.0.0.2
`
	if err := s.ImportBundle(context.Background(), []byte(bundle)); err == nil {
		t.Fatal("expected duplicate-name error")
	}
}

func TestBundleImportMalformedYAML(t *testing.T) {
	s := newTestStore(t)
	if err := s.ImportBundle(context.Background(), []byte("rules: [")); err == nil {
		t.Fatal("expected parse error")
	}
}
