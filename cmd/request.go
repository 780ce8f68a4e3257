package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"dispatch/internal/core"
	"dispatch/internal/format"
	"dispatch/internal/model"
	"dispatch/internal/storage"
)

var (
	headers          []string
	data             string
	saveToCollection string
	saveAs           string
)

func init() {
	for _, m := range model.Methods() {
		name := strings.ToLower(m.String())
		cmd := &cobra.Command{
			Use:   name + " <url>",
			Short: fmt.Sprintf("Send a %s request", m),
			Long: heredoc.Docf(`
				Send a %s request and print the response.

				The url may start with an alias name, e.g. 'starwars/people/1'.
				Successful exchanges are recorded in history.
			`, m),
			Args: cobra.ExactArgs(1),
			Run:  runRequest(m),
		}
		addRequestFlags(cmd)
		rootCmd.AddCommand(cmd)
	}
}

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "Add header (can be used multiple times)")
	cmd.Flags().StringVarP(&data, "data", "d", "", "Request body (JSON string or @filename)")
	cmd.Flags().StringVarP(&saveToCollection, "collection", "c", "", "Save to collection (created if missing)")
	cmd.Flags().StringVar(&saveAs, "name", "", "Name of the request when saved to a collection")
}

func runRequest(method model.Method) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")

		body, err := readBodyArg(data)
		if err != nil {
			exitWithError("read file", err)
		}

		a := mustOpenApp(cmd, "send request")
		defer a.Close()

		warnIfSensitiveBody(a, body)

		draft := model.RequestDraft{
			Method:  method,
			URL:     resolveAlias(a.store, args[0]),
			Body:    body,
			Headers: model.ParseHeaderLines(headers),
		}

		view, err := a.send(cmd.Context(), draft)
		if err != nil {
			a.fail("send request", err)
		}
		format.PrintResponse(view, verbose)

		if saveToCollection != "" {
			if err := a.saveDraft(cmd.Context(), saveToCollection, saveAs); err != nil {
				a.fail("save to collection", err)
			}
			format.PrintSuccess(fmt.Sprintf("Saved to collection '%s'", saveToCollection))
		}

		if view.Status == core.StatusError {
			a.Close()
			os.Exit(1)
		}
	}
}

// send replaces the draft, sends it and waits until the exchange has been
// applied and recorded.
func (a *app) send(ctx context.Context, draft model.RequestDraft) (core.ResponseView, error) {
	for _, edit := range core.DraftEdits(draft) {
		a.loop.Dispatch(edit)
	}
	return a.sendCurrent(ctx)
}

// sendCurrent sends whatever the draft holds.
func (a *app) sendCurrent(ctx context.Context) (core.ResponseView, error) {
	a.loop.Dispatch(core.Send{})
	if err := a.loop.Settle(ctx); err != nil {
		return core.ResponseView{}, err
	}
	return a.loop.Snapshot().Response, nil
}

// saveDraft stores the current draft in the named collection, creating the
// collection first when needed.
func (a *app) saveDraft(ctx context.Context, collection, name string) error {
	col, err := a.collectionByName(ctx, collection, true)
	if err != nil {
		return err
	}

	// With the collection selected, a successful save shows up as a new item.
	a.loop.Dispatch(core.SelectCollection{ID: col.ID})
	if err := a.loop.Sync(ctx); err != nil {
		return err
	}
	before := len(a.loop.Snapshot().CollectionItems)

	a.loop.Dispatch(core.SaveDraftToCollection{CollectionID: col.ID, Name: name})
	if err := a.loop.Sync(ctx); err != nil {
		return err
	}
	if len(a.loop.Snapshot().CollectionItems) != before+1 {
		return errors.New("request was not saved, see log for details")
	}
	return nil
}

// collectionByName finds a collection by name among the loaded ones,
// optionally creating it.
func (a *app) collectionByName(ctx context.Context, name string, create bool) (model.Collection, error) {
	find := func() (model.Collection, bool) {
		for _, c := range a.loop.Snapshot().Collections {
			if c.Name == name {
				return c, true
			}
		}
		return model.Collection{}, false
	}

	if c, ok := find(); ok {
		return c, nil
	}
	if !create {
		return model.Collection{}, fmt.Errorf("collection '%s': %w", name, storage.ErrNotFound)
	}

	a.loop.Dispatch(core.CreateCollection{Name: name})
	if err := a.loop.Sync(ctx); err != nil {
		return model.Collection{}, err
	}
	if c, ok := find(); ok {
		return c, nil
	}
	return model.Collection{}, fmt.Errorf("could not create collection '%s'", name)
}

func readBodyArg(arg string) (string, error) {
	if !strings.HasPrefix(arg, "@") {
		return arg, nil
	}
	return readBodyFromFile(strings.TrimPrefix(arg, "@"))
}

// resolveAlias resolves URL aliases to their full URLs.
// If the URL starts with http:// or https://, it's returned as-is.
// Otherwise, it checks if the first path segment is a known alias.
func resolveAlias(store *storage.SQLiteStorage, rawURL string) string {
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}

	aliasName, path, _ := strings.Cut(rawURL, "/")

	baseURL, exists, err := store.GetAlias(aliasName)
	if err != nil || !exists {
		return rawURL
	}

	// Combine base URL with path (auto-normalize trailing slashes)
	baseURL = strings.TrimSuffix(baseURL, "/")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		return baseURL
	}
	return baseURL + "/" + path
}

// readBodyFromFile reads file content with path validation to prevent directory traversal
func readBodyFromFile(filename string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return "", fmt.Errorf("invalid file path: %w", err)
	}

	cleanPath := filepath.Clean(absPath)

	// Ensure file is within working directory (prevent path traversal)
	if !withinDir(cleanPath, wd) {
		return "", fmt.Errorf("access denied: file must be within current directory")
	}

	realPath, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
		realPath = cleanPath
	} else if !withinDir(realPath, wd) {
		return "", fmt.Errorf("access denied: symlink target must be within current directory")
	}

	content, err := os.ReadFile(realPath)
	if err != nil {
		return "", err
	}

	return string(content), nil
}

func withinDir(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

// sensitiveBodyPatterns contains patterns that suggest sensitive data in request bodies
var sensitiveBodyPatterns = []string{
	"password", "passwd", "pwd",
	"secret", "token", "api_key", "apikey",
	"private_key", "privatekey",
	"credit_card", "creditcard", "card_number",
	"ssn", "social_security",
	"access_token", "refresh_token",
	"client_secret", "auth",
}

// warnIfSensitiveBody warns when a body that looks like it carries
// credentials is about to be written to history. Bodies are never redacted.
func warnIfSensitiveBody(a *app, body string) {
	if body == "" {
		return
	}

	lowerBody := strings.ToLower(body)
	for _, pattern := range sensitiveBodyPatterns {
		if strings.Contains(lowerBody, pattern) {
			a.logger.Warn("request body may contain sensitive data and will be stored in history",
				"pattern", pattern,
				"database", a.cfg.Database.Path,
			)
			return
		}
	}
}
