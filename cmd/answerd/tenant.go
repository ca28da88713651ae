package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/config"
	"github.com/fyrsmithlabs/answerd/internal/tenant"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants directly against the store",
	Long: `Manage tenants directly against the local store, without going
through the admin HTTP API. The server must not be running concurrently
when using these commands.`,
}

var (
	tenantSlug       string
	tenantName       string
	tenantAPIKey     string
	tenantLLM        string
	tenantLLMKey     string
	tenantEmbedKey   string
)

var tenantAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new tenant",
	Long: `Register a new tenant.

Examples:
  # Minimal tenant using the deployment's default providers
  answerd tenant add --slug acme --name "Acme Corp" --api-key sk-acme-...

  # Tenant with its own completion provider credentials
  answerd tenant add --slug acme --name "Acme Corp" --api-key sk-acme-... \
    --llm-provider anthropic --llm-api-key sk-ant-...`,
	RunE: runTenantAdd,
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tenants",
	RunE:  runTenantList,
}

var tenantDeleteCmd = &cobra.Command{
	Use:   "delete <slug>",
	Short: "Delete a tenant's registration",
	Args:  cobra.ExactArgs(1),
	RunE:  runTenantDelete,
}

func init() {
	tenantAddCmd.Flags().StringVar(&tenantSlug, "slug", "", "tenant slug (lowercase letters, digits, underscores)")
	tenantAddCmd.Flags().StringVar(&tenantName, "name", "", "tenant display name")
	tenantAddCmd.Flags().StringVar(&tenantAPIKey, "api-key", "", "API key the tenant will authenticate with")
	tenantAddCmd.Flags().StringVar(&tenantLLM, "llm-provider", "", "tenant-specific completion provider (anthropic, openai)")
	tenantAddCmd.Flags().StringVar(&tenantLLMKey, "llm-api-key", "", "tenant-specific completion provider key")
	tenantAddCmd.Flags().StringVar(&tenantEmbedKey, "embedding-api-key", "", "tenant-specific embedding provider key")
	_ = tenantAddCmd.MarkFlagRequired("slug")
	_ = tenantAddCmd.MarkFlagRequired("api-key")

	tenantCmd.AddCommand(tenantAddCmd)
	tenantCmd.AddCommand(tenantListCmd)
	tenantCmd.AddCommand(tenantDeleteCmd)
}

// openRegistry opens the tenant registry from local configuration.
func openRegistry() (*tenant.Registry, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	if !cfg.Vault.MasterKey.IsSet() {
		return nil, nil, fmt.Errorf("vault master key is required (set VAULT_MASTER_KEY)")
	}

	vault, err := tenant.NewVault(cfg.Vault.MasterKey.Value())
	if err != nil {
		return nil, nil, fmt.Errorf("opening credential vault: %w", err)
	}

	storeDir, err := config.ExpandPath(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving store path: %w", err)
	}
	if err := os.MkdirAll(storeDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(storeDir, "tenants.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening tenant database: %w", err)
	}
	db.SetMaxOpenConns(1)

	registry, err := tenant.NewRegistry(db, vault, zap.NewNop())
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("initializing tenant registry: %w", err)
	}
	return registry, func() { _ = db.Close() }, nil
}

func runTenantAdd(cmd *cobra.Command, args []string) error {
	registry, closeFn, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	name := tenantName
	if name == "" {
		name = tenantSlug
	}

	t, err := registry.Create(context.Background(), name, tenantSlug, tenantAPIKey, tenant.Credentials{
		LLMProvider:     tenantLLM,
		LLMAPIKey:       tenantLLMKey,
		EmbeddingAPIKey: tenantEmbedKey,
	})
	if err != nil {
		return fmt.Errorf("creating tenant: %w", err)
	}

	fmt.Printf("Created tenant %q (id %s)\n", t.Slug, t.ID)
	return nil
}

func runTenantList(cmd *cobra.Command, args []string) error {
	registry, closeFn, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	tenants, err := registry.List(context.Background())
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}
	if len(tenants) == 0 {
		fmt.Println("No tenants registered.")
		return nil
	}

	fmt.Printf("%-20s %-30s %s\n", "SLUG", "NAME", "CREATED")
	for _, t := range tenants {
		fmt.Printf("%-20s %-30s %s\n", t.Slug, t.Name, t.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runTenantDelete(cmd *cobra.Command, args []string) error {
	registry, closeFn, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := registry.Delete(context.Background(), args[0]); err != nil {
		return fmt.Errorf("deleting tenant: %w", err)
	}
	fmt.Printf("Deleted tenant %q\n", args[0])
	return nil
}
