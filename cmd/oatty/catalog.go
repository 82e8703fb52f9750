package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"oatty/internal/catalog"
	"oatty/internal/openapi"
	"oatty/internal/provider"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage command catalogs",
	Long:  "List registered catalogs and commands, and import OpenAPI documents as new catalogs.",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalogs and their commands",
	RunE:  runCatalogList,
}

var catalogImportCmd = &cobra.Command{
	Use:   "import-openapi <title> <file>",
	Short: "Import an OpenAPI document as a catalog",
	Long:  "Parse a local OpenAPI 3.x document and replace (or create) the named catalog with the commands it derives.",
	Args:  cobra.ExactArgs(2),
	RunE:  runCatalogImportOpenAPI,
}

var catalogEnableCmd = &cobra.Command{
	Use:   "enable <title>",
	Short: "Enable a disabled catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogEnable,
}

var catalogDisableCmd = &cobra.Command{
	Use:   "disable <title>",
	Short: "Disable a catalog without removing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogDisable,
}

func init() {
	catalogImportCmd.Flags().String("base-url", "", "Base URL for the catalog; replaces the document's declared servers when set")
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	catalogs := a.registry.Catalogs()
	commands := a.registry.Commands()
	byCatalog := map[int][]string{}
	for _, c := range commands {
		byCatalog[c.CatalogIndex] = append(byCatalog[c.CatalogIndex], c.ID())
	}

	if len(catalogs) == 0 {
		fmt.Println("No catalogs registered.")
		return nil
	}
	for i, c := range catalogs {
		state := "enabled"
		if !c.Enabled {
			state = "disabled"
		}
		fmt.Printf("%s (%s, base=%s)\n", c.Title, state, c.BaseURL())
		ids := byCatalog[i]
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Printf("  %s\n", id)
		}
	}
	return nil
}

func runCatalogImportOpenAPI(cmd *cobra.Command, args []string) error {
	title, path := args[0], args[1]
	baseURL, _ := cmd.Flags().GetString("base-url")

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	result, err := openapi.Import(data, title, baseURL)
	if err != nil {
		return fmt.Errorf("import openapi document: %w", err)
	}

	a, err := newApp()
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	manifest := catalog.Manifest{Catalog: result.Catalog, Commands: result.Commands}
	if err := a.catalogs.ReplaceCatalog(title, manifest); err != nil {
		return fmt.Errorf("replace catalog %q: %w", title, err)
	}
	a.registry.RegisterProviderContracts(result.ProviderContracts)

	fmt.Printf("Imported %d commands into catalog %q\n", len(result.Commands), title)
	return nil
}

func runCatalogEnable(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := a.registry.EnableCatalog(args[0]); err != nil {
		return err
	}
	return persistCatalogState(a, args[0], true)
}

func runCatalogDisable(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := a.registry.DisableCatalog(args[0]); err != nil {
		return err
	}
	return persistCatalogState(a, args[0], false)
}

// persistCatalogState updates the enabled flag of a catalog's config
// index entry to match the in-memory registry change just applied.
func persistCatalogState(a *app, title string, enabled bool) error {
	idx, err := a.catalogs.Store.Load()
	if err != nil {
		return err
	}
	found := false
	for i := range idx.Catalogs {
		if idx.Catalogs[i].Title == title {
			idx.Catalogs[i].Enabled = enabled
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("catalog %q not found in config index", title)
	}
	if err := a.catalogs.Store.Save(idx); err != nil {
		return err
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Printf("Catalog %q %s\n", title, state)
	return nil
}

// providersLookupCmd exercises the value-provider cache directly, ahead
// of any interactive arg-completion UI (explicitly out of scope): given
// a provider command id and its argument values, it prints the
// resolved suggestions.
var providersLookupCmd = &cobra.Command{
	Use:   "providers-lookup <command-id> [key=value...]",
	Short: "Resolve a provider command's candidate values",
	Long:  "Fetch (or serve from cache) the candidate values a provider-backed command returns, printing value/display pairs derived from its declared contract.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runProvidersLookup,
}

func runProvidersLookup(cmd *cobra.Command, args []string) error {
	providerID := args[0]
	fsArgs, err := parseKeyValueArgs(args[1:])
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	items, err := a.provider.FetchValues(cmd.Context(), providerID, fsArgs)
	if err != nil {
		return fmt.Errorf("fetch provider values: %w", err)
	}

	contract, _ := a.registry.ProviderContract(providerID)
	sel := provider.InferFieldSelection(nil, contract)

	suggestions := provider.BuildSuggestionsFromRaw(items, sel)
	for _, s := range suggestions {
		fmt.Printf("%v\t%v\n", s.Value, s.Display)
	}
	return nil
}

func parseKeyValueArgs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, ok := splitKV(p)
		if !ok {
			return nil, fmt.Errorf("malformed argument %q, expected key=value", p)
		}
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			out[key] = n
			continue
		}
		out[key] = value
	}
	return out, nil
}

func splitKV(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
