package config

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/meshwarden/warden/internal/match"
	"github.com/meshwarden/warden/internal/model"
)

// Bundle is the declarative YAML form of the policy surface: access
// rules with their assignments, and network definitions. It supports
// versioning rule sets in source control and seeding new deployments.
type Bundle struct {
	Rules    []BundleRule    `yaml:"rules"`
	Networks []BundleNetwork `yaml:"networks"`
}

// BundleRule is one access rule plus its subjects in YAML form.
type BundleRule struct {
	Name         string   `yaml:"name"`
	Type         string   `yaml:"type"`
	Value        string   `yaml:"value"`
	PortRange    string   `yaml:"port_range,omitempty"`
	Protocol     string   `yaml:"protocol,omitempty"`
	NetworkScope string   `yaml:"network_scope,omitempty"`
	Active       bool     `yaml:"active"`
	Description  string   `yaml:"description,omitempty"`
	Users        []string `yaml:"users,omitempty"`
	Groups       []string `yaml:"groups,omitempty"`
}

// BundleNetwork is one network definition in YAML form.
type BundleNetwork struct {
	Name   string `yaml:"name"`
	CIDR   string `yaml:"cidr"`
	Active bool   `yaml:"active"`
}

// ExportBundle serializes the current rules, assignments, and networks
// as YAML.
func (s *Store) ExportBundle(ctx context.Context) ([]byte, error) {
	snap, err := s.LoadRuleSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	networks, err := s.ListNetworks(ctx)
	if err != nil {
		return nil, err
	}

	byRule := make(map[string][]model.RuleAssignment)
	for _, a := range snap.Assignments {
		byRule[a.RuleID] = append(byRule[a.RuleID], a)
	}

	var b Bundle
	for _, r := range snap.Rules {
		br := BundleRule{
			Name:         r.Name,
			Type:         string(r.Type),
			Value:        r.Value,
			PortRange:    r.PortRange,
			Protocol:     r.Protocol,
			NetworkScope: r.NetworkScope,
			Active:       r.IsActive,
			Description:  r.Description,
		}
		for _, a := range byRule[r.ID] {
			switch a.SubjectType {
			case model.SubjectUser:
				br.Users = append(br.Users, a.Subject)
			case model.SubjectGroup:
				br.Groups = append(br.Groups, a.Subject)
			}
		}
		b.Rules = append(b.Rules, br)
	}
	for _, n := range networks {
		b.Networks = append(b.Networks, BundleNetwork{Name: n.Name, CIDR: n.CIDR, Active: n.IsActive})
	}

	return yaml.Marshal(&b)
}

// ImportBundle parses and applies a YAML bundle in a single
// transaction. Every rule and network is validated before anything is
// written, so a malformed bundle changes nothing. Rules and networks
// are matched by name: existing ones are replaced, new ones created.
func (s *Store) ImportBundle(ctx context.Context, data []byte) error {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("parse bundle: %w", err)
	}

	// Validate everything up front.
	seen := make(map[string]bool, len(b.Rules))
	for i := range b.Rules {
		br := &b.Rules[i]
		if br.Name == "" {
			return fmt.Errorf("bundle rule %d: name is required", i)
		}
		if seen[br.Name] {
			return fmt.Errorf("bundle rule %q: duplicate name", br.Name)
		}
		seen[br.Name] = true
		rule := bundleRuleToModel(br)
		if err := match.ValidateRule(rule); err != nil {
			return fmt.Errorf("bundle rule %q: %w", br.Name, err)
		}
	}
	for i, bn := range b.Networks {
		if bn.Name == "" {
			return fmt.Errorf("bundle network %d: name is required", i)
		}
		probe := &model.AccessRule{Type: model.RuleTypeCIDR, Value: bn.CIDR}
		if err := match.ValidateRule(probe); err != nil {
			return fmt.Errorf("bundle network %q: %w", bn.Name, err)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bundle tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ts := now()
	for i := range b.Rules {
		br := &b.Rules[i]
		rule := bundleRuleToModel(br)

		var existingID string
		err := tx.GetContext(ctx, &existingID, "SELECT id FROM access_rules WHERE name = ?", br.Name)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("bundle lookup rule %q: %w", br.Name, err)
		}
		switch {
		case err == nil:
			rule.ID = existingID
			const uq = `UPDATE access_rules SET type = :type, value = :value, port_range = :port_range,
				protocol = :protocol, network_scope = :network_scope, is_active = :is_active,
				description = :description, version = version + 1, updated_at = :updated_at
				WHERE id = :id`
			rule.UpdatedAt = ts
			if _, err := tx.NamedExecContext(ctx, uq, rule); err != nil {
				return fmt.Errorf("bundle update rule %q: %w", br.Name, err)
			}
			// Assignments are replaced wholesale for imported rules.
			if _, err := tx.ExecContext(ctx, "DELETE FROM rule_assignments WHERE rule_id = ?", rule.ID); err != nil {
				return fmt.Errorf("bundle clear assignments %q: %w", br.Name, err)
			}
		default:
			rule.ID = uuid.NewString()
			rule.Version = 1
			rule.CreatedAt = ts
			rule.UpdatedAt = ts
			const iq = `INSERT INTO access_rules
				(id, name, type, value, port_range, protocol, network_scope, is_active, description, version, created_at, updated_at)
				VALUES
				(:id, :name, :type, :value, :port_range, :protocol, :network_scope, :is_active, :description, :version, :created_at, :updated_at)`
			if _, err := tx.NamedExecContext(ctx, iq, rule); err != nil {
				return fmt.Errorf("bundle insert rule %q: %w", br.Name, err)
			}
		}

		const aq = `INSERT INTO rule_assignments (id, rule_id, subject_type, subject, created_at)
			VALUES (?, ?, ?, ?, ?)`
		for _, u := range br.Users {
			if _, err := tx.ExecContext(ctx, aq, uuid.NewString(), rule.ID, model.SubjectUser, u, ts); err != nil {
				return fmt.Errorf("bundle assign user %q to %q: %w", u, br.Name, err)
			}
		}
		for _, g := range br.Groups {
			if _, err := tx.ExecContext(ctx, aq, uuid.NewString(), rule.ID, model.SubjectGroup, g, ts); err != nil {
				return fmt.Errorf("bundle assign group %q to %q: %w", g, br.Name, err)
			}
		}
	}

	for _, bn := range b.Networks {
		var existingID string
		err := tx.GetContext(ctx, &existingID, "SELECT id FROM networks WHERE name = ?", bn.Name)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("bundle lookup network %q: %w", bn.Name, err)
		}
		if err == nil {
			if _, err := tx.ExecContext(ctx,
				"UPDATE networks SET cidr = ?, is_active = ?, updated_at = ? WHERE id = ?",
				bn.CIDR, bn.Active, ts, existingID); err != nil {
				return fmt.Errorf("bundle update network %q: %w", bn.Name, err)
			}
		} else {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO networks (id, name, cidr, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
				uuid.NewString(), bn.Name, bn.CIDR, bn.Active, ts, ts); err != nil {
				return fmt.Errorf("bundle insert network %q: %w", bn.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bundle: %w", err)
	}
	s.bumpGeneration()
	return nil
}

func bundleRuleToModel(br *BundleRule) *model.AccessRule {
	return &model.AccessRule{
		Name:         br.Name,
		Type:         model.RuleType(br.Type),
		Value:        br.Value,
		PortRange:    br.PortRange,
		Protocol:     br.Protocol,
		NetworkScope: br.NetworkScope,
		IsActive:     br.Active,
		Description:  br.Description,
	}
}
