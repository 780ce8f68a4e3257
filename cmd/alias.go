package cmd

import (
	"fmt"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"dispatch/internal/format"
)

func init() {
	aliasCmd := &cobra.Command{
		Use:     "alias",
		Aliases: []string{"a"},
		Short:   "Name base URLs for use in requests",
		Long: heredoc.Doc(`
			An alias names a base URL. A request URL whose first path segment is
			an alias name has that segment replaced by the base URL before it is
			sent, in one-off commands, in the shell and in collection runs.

			Collections store the URL as written, so changing an alias retargets
			every saved request that uses it.
		`),
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List aliases and their base URLs",
		Args:  cobra.NoArgs,
		Run:   runAliasList,
	}

	createCmd := &cobra.Command{
		Use:   "create <name> <base-url>",
		Short: "Point an alias at a base URL",
		Long: heredoc.Doc(`
			Point an alias at a base URL, replacing any previous target.

			Example:
			  dispatch alias create local http://localhost:8080/api
			  dispatch get local/health
		`),
		Args: cobra.ExactArgs(2),
		Run:  runAliasCreate,
	}

	showCmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Print the base URL of an alias",
		Args:  cobra.ExactArgs(1),
		Run:   runAliasShow,
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove an alias",
		Long: heredoc.Doc(`
			Remove an alias. Saved requests that use it are kept and will be sent
			with the name left as written.
		`),
		Args: cobra.ExactArgs(1),
		Run:  runAliasDelete,
	}

	aliasCmd.AddCommand(listCmd, createCmd, showCmd, deleteCmd)
	rootCmd.AddCommand(aliasCmd)
}

func runAliasList(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd, "read aliases")
	defer a.Close()

	aliases, err := a.store.ListAliases()
	if err != nil {
		a.fail("read aliases", err)
	}

	format.PrintAliasList(aliases)
}

func runAliasCreate(cmd *cobra.Command, args []string) {
	name, baseURL := args[0], args[1]

	a := mustOpenApp(cmd, "set alias")
	defer a.Close()

	if err := a.store.CreateAlias(name, baseURL); err != nil {
		a.fail("set alias", err)
	}

	format.PrintSuccess(fmt.Sprintf("%s now expands to %s", name, baseURL))
}

func runAliasShow(cmd *cobra.Command, args []string) {
	name := args[0]

	a := mustOpenApp(cmd, "read alias")
	defer a.Close()

	baseURL, exists, err := a.store.GetAlias(name)
	if err != nil {
		a.fail("read alias", err)
	}
	if !exists {
		a.fail("read alias", fmt.Errorf("no alias named %q", name))
	}

	format.PrintAlias(name, baseURL)
}

func runAliasDelete(cmd *cobra.Command, args []string) {
	name := args[0]

	a := mustOpenApp(cmd, "remove alias")
	defer a.Close()

	if _, exists, err := a.store.GetAlias(name); err == nil && !exists {
		a.fail("remove alias", fmt.Errorf("no alias named %q", name))
	}
	if err := a.store.DeleteAlias(name); err != nil {
		a.fail("remove alias", err)
	}

	format.PrintSuccess(fmt.Sprintf("Alias %s removed", name))
}
