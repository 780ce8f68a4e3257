package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"dispatch/internal/core"
	"dispatch/internal/format"
)

func init() {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "View request history",
		Run:   runHistoryList,
	}

	historyCmd.Flags().IntP("limit", "n", 10, "Number of requests to show")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show full details of a request",
		Args:  cobra.ExactArgs(1),
		Run:   runHistoryShow,
	}

	rerunCmd := &cobra.Command{
		Use:   "rerun <id>",
		Short: "Load a request from history and send it again",
		Args:  cobra.ExactArgs(1),
		Run:   runHistoryRerun,
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear all history",
		Run:   runHistoryClear,
	}

	historyCmd.AddCommand(showCmd, rerunCmd, clearCmd)
	rootCmd.AddCommand(historyCmd)
}

func parseID(arg string) int64 {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		exitWithError("parse id", fmt.Errorf("invalid id: %s", arg))
	}
	return id
}

func runHistoryList(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd, "load history")
	defer a.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	format.PrintHistoryList(a.loop.Snapshot().History, limit)
}

func runHistoryShow(cmd *cobra.Command, args []string) {
	id := parseID(args[0])

	a := mustOpenApp(cmd, "load history")
	defer a.Close()

	item, err := a.store.GetHistoryItem(id)
	if err != nil {
		a.fail("load request", err)
	}

	format.PrintHistoryDetail(item)
}

func runHistoryRerun(cmd *cobra.Command, args []string) {
	id := parseID(args[0])
	verbose, _ := cmd.Flags().GetBool("verbose")

	a := mustOpenApp(cmd, "load history")
	defer a.Close()

	a.loop.Dispatch(core.LoadHistoryItem{ID: id})
	if err := a.loop.Sync(cmd.Context()); err != nil {
		a.fail("load request", err)
	}

	draft := a.loop.Snapshot().Draft
	if draft.URL == "" {
		a.fail("load request", fmt.Errorf("request not found: %d", id))
	}
	format.PrintDraft(draft)
	fmt.Fprintln(format.Out)

	view, err := a.sendCurrent(cmd.Context())
	if err != nil {
		a.fail("send request", err)
	}
	format.PrintResponse(view, verbose)

	if view.Status == core.StatusError {
		a.Close()
		os.Exit(1)
	}
}

func runHistoryClear(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd, "clear history")
	defer a.Close()

	a.loop.Dispatch(core.ClearHistory{})
	if err := a.loop.Sync(cmd.Context()); err != nil {
		a.fail("clear history", err)
	}

	// The visible list is always cleared; check the store itself.
	n, err := a.store.CountHistory()
	if err != nil {
		a.fail("clear history", err)
	}
	if n > 0 {
		a.fail("clear history", fmt.Errorf("%d requests remain", n))
	}

	format.PrintSuccess("History cleared")
}
