package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"dispatch/internal/core"
	"dispatch/internal/format"
	"dispatch/internal/model"
)

var shellHelp = heredoc.Doc(`
	Commands:
	  method <GET|POST|PUT|PATCH|DELETE>   set the method
	  url <url>                            set the url (aliases are expanded)
	  body <text|@file>                    set the body
	  header <Name: value>                 add a header
	  headers-clear                        remove all headers
	  send                                 send the request in the background
	  wait                                 wait for requests in flight
	  reset                                clear the request and response
	  show                                 print the request and response
	  history [n]                          list recent requests
	  load <id>                            load a request from history
	  clear-history                        delete all history
	  collections                          list collections
	  create <collection>                  create a collection
	  save <collection> [name]             save the request to a collection
	  select <collection>                  list the requests in a collection
	  open <id>                            load a saved request
	  drop <collection>                    delete a collection
	  quit                                 leave the shell
`)

func init() {
	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Edit and send requests interactively",
		Long: heredoc.Doc(`
			Start an interactive session.

			Requests are sent in the background; the response is printed when
			it arrives and editing can continue in the meantime.
		`),
		Args: cobra.NoArgs,
		Run:  runShell,
	}
	shellCmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")
	rootCmd.AddCommand(shellCmd)
}

// shell is a line-oriented front end over one long-lived loop.
type shell struct {
	app     *app
	verbose bool

	// mu keeps background response printing from interleaving with
	// command output.
	mu sync.Mutex
}

func runShell(cmd *cobra.Command, args []string) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	a := mustOpenApp(cmd, "start shell")
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if metricsAddr != "" {
		stop := serveMetrics(a, metricsAddr)
		defer stop()
	}

	sh := &shell{app: a, verbose: verbose}
	go sh.watch(ctx)

	fmt.Fprintln(format.Out, shellHelp)
	sh.run(ctx, cmd.InOrStdin())
}

func serveMetrics(a *app, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// watch prints each response as it is applied.
func (s *shell) watch(ctx context.Context) {
	updates, unsubscribe := s.app.loop.Subscribe()
	defer unsubscribe()

	var last core.ResponseView
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			if snap.Cause != core.KindSendCompleted || snap.Response == last {
				continue
			}
			last = snap.Response
			s.mu.Lock()
			fmt.Fprintln(format.Out)
			format.PrintResponse(snap.Response, s.verbose)
			s.mu.Unlock()
		}
	}
}

func (s *shell) run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		s.mu.Lock()
		fmt.Fprint(format.Out, "dispatch> ")
		s.mu.Unlock()

		if !scanner.Scan() {
			return
		}

		quit, err := s.exec(ctx, scanner.Text())
		if err != nil {
			s.mu.Lock()
			format.PrintError(err.Error())
			s.mu.Unlock()
		}
		if quit || ctx.Err() != nil {
			return
		}
	}
}

// exec runs one command line and waits until its effects are visible.
func (s *shell) exec(ctx context.Context, line string) (bool, error) {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	loop := s.app.loop

	switch verb {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "help":
		s.print(func() { fmt.Fprint(format.Out, shellHelp) })
		return false, nil

	case "method":
		m, err := model.ParseMethod(arg)
		if err != nil {
			return false, err
		}
		loop.Dispatch(core.SetMethod{Method: m})
	case "url":
		loop.Dispatch(core.SetURL{URL: resolveAlias(s.app.store, arg)})
	case "body":
		body, err := readBodyArg(arg)
		if err != nil {
			return false, err
		}
		loop.Dispatch(core.SetBody{Body: body})
	case "header":
		h := model.ParseHeaderLines([]string{arg})
		if len(h) == 0 {
			return false, fmt.Errorf("expected 'Name: value', got %q", arg)
		}
		current := loop.Snapshot().Draft.Headers
		loop.Dispatch(core.SetHeaders{Headers: append(current, h...)})
	case "headers-clear":
		loop.Dispatch(core.SetHeaders{})

	case "send":
		if !loop.Snapshot().Draft.Sendable() {
			return false, errors.New("set a url first")
		}
		loop.Dispatch(core.Send{})
	case "wait":
		return false, loop.Settle(ctx)
	case "reset":
		loop.Dispatch(core.Reset{})
	case "show":
		snap := loop.Snapshot()
		s.print(func() {
			format.PrintDraft(snap.Draft)
			fmt.Fprintln(format.Out)
			format.PrintResponse(snap.Response, s.verbose)
		})
		return false, nil

	case "history":
		limit := 0
		if arg != "" {
			n, err := strconv.Atoi(arg)
			if err != nil {
				return false, fmt.Errorf("invalid count: %s", arg)
			}
			limit = n
		}
		rows := loop.Snapshot().History
		s.print(func() { format.PrintHistoryList(rows, limit) })
		return false, nil
	case "load":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return false, fmt.Errorf("invalid id: %s", arg)
		}
		loop.Dispatch(core.LoadHistoryItem{ID: id})
	case "clear-history":
		loop.Dispatch(core.ClearHistory{})

	case "collections":
		cols := loop.Snapshot().Collections
		s.print(func() { format.PrintCollectionList(cols, nil) })
		return false, nil
	case "create":
		loop.Dispatch(core.CreateCollection{Name: arg})
	case "save":
		collection, name, _ := strings.Cut(arg, " ")
		col, err := s.app.collectionByName(ctx, collection, false)
		if err != nil {
			return false, err
		}
		loop.Dispatch(core.SaveDraftToCollection{CollectionID: col.ID, Name: strings.TrimSpace(name)})
	case "select":
		col, err := s.app.collectionByName(ctx, arg, false)
		if err != nil {
			return false, err
		}
		loop.Dispatch(core.SelectCollection{ID: col.ID})
		if err := loop.Sync(ctx); err != nil {
			return false, err
		}
		items := loop.Snapshot().CollectionItems
		s.print(func() { format.PrintCollectionItems(col.Name, items) })
		return false, nil
	case "open":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return false, fmt.Errorf("invalid id: %s", arg)
		}
		loop.Dispatch(core.LoadCollectionItem{ID: id})
	case "drop":
		col, err := s.app.collectionByName(ctx, arg, false)
		if err != nil {
			return false, err
		}
		loop.Dispatch(core.DeleteCollection{ID: col.ID})

	default:
		return false, fmt.Errorf("unknown command %q, try 'help'", verb)
	}

	return false, loop.Sync(ctx)
}

func (s *shell) print(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f()
}
