package cmd

import (
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"dispatch/internal/core"
	"dispatch/internal/format"
	"dispatch/internal/model"
)

func init() {
	collectionCmd := &cobra.Command{
		Use:     "collection",
		Aliases: []string{"col"},
		Short:   "Manage request collections",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all collections",
		Run:   runCollectionList,
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new collection",
		Args:  cobra.ExactArgs(1),
		Run:   runCollectionCreate,
	}

	showCmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show requests in a collection",
		Args:  cobra.ExactArgs(1),
		Run:   runCollectionShow,
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a collection and its requests",
		Args:  cobra.ExactArgs(1),
		Run:   runCollectionDelete,
	}

	addCmd := &cobra.Command{
		Use:   "add <collection> <name> <method> <url>",
		Short: "Add a request to a collection",
		Long: heredoc.Doc(`
			Add a request to a collection without sending it.

			Example:
			  dispatch collection add my-api "Get Users" GET https://api.example.com/users
		`),
		Args: cobra.ExactArgs(4),
		Run:  runCollectionAdd,
	}
	addCmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "Add header")
	addCmd.Flags().StringVarP(&data, "data", "d", "", "Request body (JSON string or @filename)")

	runCmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Run all requests in a collection",
		Args:  cobra.ExactArgs(1),
		Run:   runCollectionRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Export a collection as JSON",
		Args:  cobra.ExactArgs(1),
		Run:   runCollectionExport,
	}
	exportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a collection from JSON",
		Long: heredoc.Doc(`
			Import a collection exported with 'collection export'.

			Requests are appended when a collection of the same name exists.
		`),
		Args: cobra.ExactArgs(1),
		Run:  runCollectionImport,
	}

	collectionCmd.AddCommand(listCmd, createCmd, showCmd, deleteCmd, addCmd, runCmd, exportCmd, importCmd)
	rootCmd.AddCommand(collectionCmd)
}

func runCollectionList(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd, "load collections")
	defer a.Close()

	collections := a.loop.Snapshot().Collections
	counts := make(map[int64]int, len(collections))
	for _, col := range collections {
		items, err := a.store.GetCollectionItems(col.ID)
		if err != nil {
			a.logger.Warn("failed to count collection items", "collection", col.Name, "error", err)
			continue
		}
		counts[col.ID] = len(items)
	}

	format.PrintCollectionList(collections, counts)
}

func runCollectionCreate(cmd *cobra.Command, args []string) {
	name := args[0]

	a := mustOpenApp(cmd, "create collection")
	defer a.Close()

	if _, err := a.collectionByName(cmd.Context(), name, false); err == nil {
		a.fail("create collection", fmt.Errorf("collection '%s' already exists", name))
	}
	if _, err := a.collectionByName(cmd.Context(), name, true); err != nil {
		a.fail("create collection", err)
	}

	format.PrintSuccess(fmt.Sprintf("Collection '%s' created", name))
}

// selectCollection makes the named collection current and returns its items.
func (a *app) selectCollection(cmd *cobra.Command, name string) (model.Collection, []model.CollectionItem) {
	col, err := a.collectionByName(cmd.Context(), name, false)
	if err != nil {
		a.fail("load collection", err)
	}

	a.loop.Dispatch(core.SelectCollection{ID: col.ID})
	if err := a.loop.Sync(cmd.Context()); err != nil {
		a.fail("load collection", err)
	}

	snap := a.loop.Snapshot()
	if snap.SelectedCollection != col.ID {
		a.fail("load collection", fmt.Errorf("collection '%s' could not be read", name))
	}
	return col, snap.CollectionItems
}

func runCollectionShow(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd, "load collection")
	defer a.Close()

	col, items := a.selectCollection(cmd, args[0])
	format.PrintCollectionItems(col.Name, items)
}

func runCollectionDelete(cmd *cobra.Command, args []string) {
	name := args[0]

	a := mustOpenApp(cmd, "delete collection")
	defer a.Close()

	col, err := a.collectionByName(cmd.Context(), name, false)
	if err != nil {
		a.fail("delete collection", err)
	}

	a.loop.Dispatch(core.DeleteCollection{ID: col.ID})
	if err := a.loop.Sync(cmd.Context()); err != nil {
		a.fail("delete collection", err)
	}
	if _, err := a.collectionByName(cmd.Context(), name, false); err == nil {
		a.fail("delete collection", fmt.Errorf("collection '%s' is still present", name))
	}

	format.PrintSuccess(fmt.Sprintf("Collection '%s' deleted", name))
}

func runCollectionAdd(cmd *cobra.Command, args []string) {
	collectionName, requestName, methodArg, rawURL := args[0], args[1], args[2], args[3]

	method, err := model.ParseMethod(methodArg)
	if err != nil {
		exitWithError("add request", err)
	}
	body, err := readBodyArg(data)
	if err != nil {
		exitWithError("read file", err)
	}

	a := mustOpenApp(cmd, "add request")
	defer a.Close()

	draft := model.RequestDraft{
		Method:  method,
		URL:     rawURL,
		Body:    body,
		Headers: model.ParseHeaderLines(headers),
	}
	for _, edit := range core.DraftEdits(draft) {
		a.loop.Dispatch(edit)
	}

	if err := a.saveDraft(cmd.Context(), collectionName, requestName); err != nil {
		a.fail("add request", err)
	}

	format.PrintSuccess(fmt.Sprintf("Request '%s' added to collection '%s'", requestName, collectionName))
}

func runCollectionRun(cmd *cobra.Command, args []string) {
	name := args[0]
	verbose, _ := cmd.Flags().GetBool("verbose")

	a := mustOpenApp(cmd, "load collection")
	defer a.Close()

	_, items := a.selectCollection(cmd, name)
	if len(items) == 0 {
		a.fail("run collection", fmt.Errorf("collection '%s' is empty", name))
	}

	fmt.Fprintf(format.Out, "Running %d requests from collection '%s'\n\n", len(items), name)

	failed := 0
	for i, item := range items {
		a.loop.Dispatch(core.LoadCollectionItem{ID: item.ID})
		if err := a.loop.Sync(cmd.Context()); err != nil {
			a.fail("run collection", err)
		}

		// Aliases are stored unexpanded.
		resolved := resolveAlias(a.store, item.URL)
		a.loop.Dispatch(core.SetURL{URL: resolved})

		if item.Name != "" {
			fmt.Fprintf(format.Out, "[%d/%d] %s\n", i+1, len(items), item.Name)
		} else {
			fmt.Fprintf(format.Out, "[%d/%d] %s %s\n", i+1, len(items), item.Method, resolved)
		}

		view, err := a.sendCurrent(cmd.Context())
		if err != nil {
			a.fail("run collection", err)
		}
		if view.Marker != core.MarkerSuccess {
			failed++
		}

		format.PrintResponse(view, verbose)
		fmt.Fprintln(format.Out)
	}

	if failed > 0 {
		format.PrintError(fmt.Sprintf("%d of %d requests in '%s' did not succeed", failed, len(items), name))
		a.Close()
		os.Exit(1)
	}
	format.PrintSuccess(fmt.Sprintf("Completed running collection '%s'", name))
}

func runCollectionExport(cmd *cobra.Command, args []string) {
	name := args[0]
	output, _ := cmd.Flags().GetString("output")

	a := mustOpenApp(cmd, "export collection")
	defer a.Close()

	if output == "" {
		if err := a.store.ExportCollection(name, cmd.OutOrStdout()); err != nil {
			a.fail("export collection", err)
		}
		return
	}

	if err := a.store.ExportCollectionFile(name, output); err != nil {
		a.fail("export collection", err)
	}
	format.PrintSuccess(fmt.Sprintf("Collection '%s' exported to %s", name, output))
}

func runCollectionImport(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd, "import collection")
	defer a.Close()

	col, n, err := a.store.ImportCollectionFile(args[0])
	if err != nil {
		a.fail("import collection", err)
	}

	// The store was written directly; reload the visible lists.
	a.loop.Dispatch(core.Hydrate{})
	if err := a.loop.Sync(cmd.Context()); err != nil {
		a.fail("import collection", err)
	}

	format.PrintSuccess(fmt.Sprintf("Imported %d requests into collection '%s'", n, col.Name))
}
