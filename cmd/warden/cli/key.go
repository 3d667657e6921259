package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshwarden/warden/internal/model"
	"github.com/meshwarden/warden/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke API keys used to authenticate against the Warden API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		userID      string
		name        string
		description string
		expiry      string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key for a user. The raw key is shown once and cannot be retrieved again.",
		Example: `  warden key create --user alice --name "CI pipeline"
  warden key create --user alice --name deploy --expiry never`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(userID, name, description, expiry)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User the key authenticates as (required)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().StringVar(&description, "description", "", "Optional description")
	cmd.Flags().StringVar(&expiry, "expiry", "90d", "Key lifetime: 30d, 90d, 365d, or never")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(userID, name, description, expiry string) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	jwtSecret := os.Getenv("WARDEN_AUTH_JWT_SECRET")
	creds := service.NewCredentialService(store, service.NewAuthService(store, jwtSecret))

	key, raw, err := creds.CreateAPIKey(context.Background(), userID, name, description, service.ExpiryPreset(expiry))
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:  %s\n", raw)
	fmt.Printf("  User: %s\n", userID)
	fmt.Printf("  Name: %s\n", name)
	if key.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	keys, err := store.ListAPIKeys(context.Background())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	type keyRow struct {
		Prefix  string `json:"prefix"`
		User    string `json:"user"`
		Name    string `json:"name"`
		Revoked bool   `json:"revoked"`
		Expires string `json:"expires,omitempty"`
	}

	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		row := keyRow{Prefix: k.KeyPrefix, User: k.UserID, Name: k.Name, Revoked: k.IsRevoked}
		if k.ExpiresAt != nil {
			row.Expires = k.ExpiresAt.Format(time.RFC3339)
		}
		rows[i] = row
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys configured. Use 'warden key create' to create one.")
		return nil
	}

	fmt.Printf("%-16s %-16s %-24s %-8s\n", "PREFIX", "USER", "NAME", "REVOKED")
	fmt.Printf("%-16s %-16s %-24s %-8s\n", "------", "----", "----", "-------")
	for _, k := range rows {
		revoked := "no"
		if k.Revoked {
			revoked = "yes"
		}
		fmt.Printf("%-16s %-16s %-24s %-8s\n", k.Prefix, k.User, k.Name, revoked)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long:  "Permanently revoke an API key. Revocation cannot be undone.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(prefix string) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	// Find key whose prefix starts with the given prefix
	var matched *model.APIKey
	for i := range keys {
		if strings.HasPrefix(keys[i].KeyPrefix, prefix) {
			matched = &keys[i]
			break
		}
	}
	if matched == nil {
		return fmt.Errorf("no API key found with prefix %q", prefix)
	}

	if err := store.RevokeAPIKey(ctx, matched.ID); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key with prefix %q\n", matched.KeyPrefix)
	return nil
}
