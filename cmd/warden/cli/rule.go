package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/model"
)

func newRuleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage access rules",
		Long:  "Create, list, delete, and assign the access rules that gate resolution.",
	}

	cmd.AddCommand(newRuleListCmd())
	cmd.AddCommand(newRuleCreateCmd())
	cmd.AddCommand(newRuleDeleteCmd())
	cmd.AddCommand(newRuleAssignCmd())

	return cmd
}

// ---------- rule list ----------

func newRuleListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all access rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuleList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runRuleList(jsonOutput bool) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	rules, err := store.ListRules(context.Background())
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rules)
	}

	if len(rules) == 0 {
		fmt.Println("No access rules configured. Use 'warden rule create' to create one.")
		return nil
	}

	fmt.Printf("%-20s %-18s %-24s %-10s %-8s\n", "NAME", "TYPE", "VALUE", "PORTS", "ACTIVE")
	fmt.Printf("%-20s %-18s %-24s %-10s %-8s\n", "----", "----", "-----", "-----", "------")
	for _, r := range rules {
		ports := r.PortRange
		if ports == "" {
			ports = "any"
		}
		active := "yes"
		if !r.IsActive {
			active = "no"
		}
		fmt.Printf("%-20s %-18s %-24s %-10s %-8s\n", r.Name, r.Type, r.Value, ports, active)
	}

	return nil
}

// ---------- rule create ----------

func newRuleCreateCmd() *cobra.Command {
	var (
		name      string
		ruleType  string
		value     string
		portRange string
		protocol  string
		scope     string
		inactive  bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new access rule",
		Example: `  warden rule create --name prod-db --type cidr --value 10.0.5.0/24 --ports 5432 --protocol tcp
  warden rule create --name intranet --type hostname_wildcard --value "*.corp.example.com"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open config store: %w", err)
			}
			defer store.Close()

			rule := &model.AccessRule{
				Name:         name,
				Type:         model.RuleType(ruleType),
				Value:        value,
				PortRange:    portRange,
				Protocol:     protocol,
				NetworkScope: scope,
				IsActive:     !inactive,
			}
			if err := store.CreateRule(context.Background(), rule); err != nil {
				return fmt.Errorf("create rule: %w", err)
			}
			fmt.Printf("Created rule %q (%s %s)\n", rule.Name, rule.Type, rule.Value)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Rule name (required)")
	cmd.Flags().StringVar(&ruleType, "type", "", "Rule type: ip, cidr, hostname, hostname_wildcard (required)")
	cmd.Flags().StringVar(&value, "value", "", "Rule value: address, prefix, or hostname pattern (required)")
	cmd.Flags().StringVar(&portRange, "ports", "", "Port or range, e.g. 443 or 8000-8080 (default: any)")
	cmd.Flags().StringVar(&protocol, "protocol", "", "Protocol: tcp or udp (default: any)")
	cmd.Flags().StringVar(&scope, "scope", "", "Network CIDR the rule is confined to")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Create the rule disabled")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("value")

	return cmd
}

// ---------- rule delete ----------

func newRuleDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete an access rule and its assignments",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open config store: %w", err)
			}
			defer store.Close()

			ctx := context.Background()
			rule, err := store.GetRuleByName(ctx, args[0])
			if err != nil {
				return fmt.Errorf("rule %q: %w", args[0], err)
			}
			if err := store.DeleteRule(ctx, rule.ID); err != nil {
				return fmt.Errorf("delete rule: %w", err)
			}
			fmt.Printf("Deleted rule %q\n", args[0])
			return nil
		},
	}

	return cmd
}

// ---------- rule assign ----------

func newRuleAssignCmd() *cobra.Command {
	var (
		user  string
		group string
	)

	cmd := &cobra.Command{
		Use:   "assign <rule-name>",
		Short: "Grant a rule to a user or group",
		Example: `  warden rule assign prod-db --user alice
  warden rule assign prod-db --group dba`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (user == "") == (group == "") {
				return fmt.Errorf("exactly one of --user or --group is required")
			}

			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open config store: %w", err)
			}
			defer store.Close()

			ctx := context.Background()
			rule, err := store.GetRuleByName(ctx, args[0])
			if err != nil {
				return fmt.Errorf("rule %q: %w", args[0], err)
			}

			a := &model.RuleAssignment{RuleID: rule.ID}
			if user != "" {
				a.SubjectType = model.SubjectUser
				a.Subject = user
			} else {
				a.SubjectType = model.SubjectGroup
				a.Subject = group
			}

			if err := store.CreateAssignment(ctx, a); err != nil {
				if errors.Is(err, config.ErrDuplicate) {
					return fmt.Errorf("%s %q already has rule %q", a.SubjectType, a.Subject, args[0])
				}
				return fmt.Errorf("create assignment: %w", err)
			}
			fmt.Printf("Granted rule %q to %s %q\n", args[0], a.SubjectType, a.Subject)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User to grant the rule to")
	cmd.Flags().StringVar(&group, "group", "", "Group to grant the rule to")

	return cmd
}
