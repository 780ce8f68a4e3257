package format

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"dispatch/internal/core"
	"dispatch/internal/model"
)

// Out is where everything in this package is written.
var Out io.Writer = color.Output

// sanitizeOutput removes or escapes potentially dangerous control characters
// that could manipulate terminal display or execute commands
func sanitizeOutput(s string) string {
	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			result.WriteRune(r)
		case r == '\x1b':
			// Escape ANSI escape sequences - replace ESC with visible representation
			result.WriteString("\\x1b")
		case unicode.IsControl(r) && r < 0x20:
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		case r == 0x7F:
			result.WriteString("\\x7f")
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}

var (
	successColor   = color.New(color.FgGreen, color.Bold)
	redirectColor  = color.New(color.FgYellow, color.Bold)
	clientErrColor = color.New(color.FgRed, color.Bold)
	serverErrColor = color.New(color.FgRed, color.Bold, color.BgWhite)
	headerKeyColor = color.New(color.FgCyan)
	methodColor    = color.New(color.FgMagenta, color.Bold)
	urlColor       = color.New(color.FgBlue)
	dimColor       = color.New(color.Faint)
)

// PrintResponse prints the response pane.
func PrintResponse(view core.ResponseView, showHeaders bool) {
	markerColor(view.Marker, view.Status).Fprintf(Out, "%s\n", sanitizeOutput(view.Status))

	if view.Time != "" {
		dimColor.Fprintf(Out, "  Time: %s  Size: %s\n", view.Time, humanize.Bytes(uint64(max(view.Size, 0))))
	}
	fmt.Fprintln(Out)

	if showHeaders {
		printHeaderText(view.Headers)
	}

	printBody(view.Body)
}

// markerColor styles a status by its classification. Errors that carry a
// code keep the shade of their class; indicators without a marker are dimmed.
func markerColor(marker core.Marker, status string) *color.Color {
	switch marker {
	case core.MarkerSuccess:
		return successColor
	case core.MarkerError:
		codeText, _, _ := strings.Cut(status, " ")
		if code, err := strconv.Atoi(codeText); err == nil && code >= 300 {
			return getStatusColor(code)
		}
		return clientErrColor
	default:
		return dimColor
	}
}

func getStatusColor(code int) *color.Color {
	switch {
	case code >= 200 && code < 300:
		return successColor
	case code >= 300 && code < 400:
		return redirectColor
	case code >= 400 && code < 500:
		return clientErrColor
	default:
		return serverErrColor
	}
}

// printHeaderText prints "Name: value" lines with the names highlighted.
func printHeaderText(text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}

	fmt.Fprintln(Out, "Headers:")
	for _, line := range strings.Split(text, "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			fmt.Fprintf(Out, "  %s\n", sanitizeOutput(line))
			continue
		}
		headerKeyColor.Fprintf(Out, "  %s:", sanitizeOutput(name))
		fmt.Fprintln(Out, sanitizeOutput(value))
	}
	fmt.Fprintln(Out)
}

func printHeaderSet(headers model.HeaderSet) {
	if len(headers) == 0 {
		return
	}

	fmt.Fprintln(Out, "Headers:")
	for _, h := range headers {
		headerKeyColor.Fprintf(Out, "  %s: ", sanitizeOutput(h.Name))
		fmt.Fprintln(Out, sanitizeOutput(h.Value))
	}
	fmt.Fprintln(Out)
}

func printBody(body string) {
	if body == "" {
		dimColor.Fprintln(Out, "(empty body)")
		return
	}
	fmt.Fprintln(Out, sanitizeOutput(body))
}

// PrintDraft prints the request being edited.
func PrintDraft(d model.RequestDraft) {
	methodColor.Fprintf(Out, "%s ", d.Method)
	if d.URL == "" {
		dimColor.Fprintln(Out, "(no url)")
	} else {
		urlColor.Fprintln(Out, sanitizeOutput(d.URL))
	}
	printHeaderSet(d.Headers)
	if d.Body != "" {
		fmt.Fprintln(Out, "Body:")
		fmt.Fprintln(Out, sanitizeOutput(d.Body))
	}
}

// PrintHistoryList prints history rows, newest first, in a compact format.
func PrintHistoryList(rows []core.HistoryRow, limit int) {
	if len(rows) == 0 {
		dimColor.Fprintln(Out, "No requests in history")
		return
	}

	count := len(rows)
	if limit > 0 && limit < count {
		count = limit
	}

	for _, row := range rows[:count] {
		dimColor.Fprintf(Out, "[%d] ", row.ID)
		methodColor.Fprintf(Out, "%-7s ", row.Method)

		// Truncate URL if too long, then sanitize
		url := row.URL
		if len(url) > 60 {
			url = url[:57] + "..."
		}
		urlColor.Fprintf(Out, "%-60s ", sanitizeOutput(url))
		markerColor(row.Marker, row.Status).Fprintln(Out, sanitizeOutput(row.Status))
	}

	if limit > 0 && len(rows) > limit {
		dimColor.Fprintf(Out, "\n... and %d more requests\n", len(rows)-limit)
	}
}

// PrintHistoryDetail prints both sides of a stored exchange.
func PrintHistoryDetail(item model.HistoryItem) {
	fmt.Fprintln(Out, "Request:")
	fmt.Fprintln(Out, strings.Repeat("-", 40))
	methodColor.Fprintf(Out, "%s ", item.Method)
	urlColor.Fprintln(Out, sanitizeOutput(item.URL))
	dimColor.Fprintf(Out, "ID: %d\n", item.ID)
	if !item.Timestamp.IsZero() {
		dimColor.Fprintf(Out, "Time: %s (%s)\n", item.Timestamp.Local().Format("2006-01-02 15:04:05"), humanize.Time(item.Timestamp))
	}
	fmt.Fprintln(Out)

	if headers, err := model.DecodeHeaders(item.RequestHeaders); err == nil {
		printHeaderSet(headers)
	}

	if item.RequestBody != "" {
		fmt.Fprintln(Out, "Body:")
		fmt.Fprintln(Out, sanitizeOutput(item.RequestBody))
		fmt.Fprintln(Out)
	}

	fmt.Fprintln(Out, "\nResponse:")
	fmt.Fprintln(Out, strings.Repeat("-", 40))
	PrintResponse(core.ResponseView{
		Status:  item.Status,
		Marker:  core.ClassifyStatusLine(item.Status),
		Headers: item.ResponseHeaders,
		Body:    item.ResponseBody,
		Time:    item.Time,
		Size:    item.Size,
	}, true)
}

// PrintCollectionList prints collections with their item counts. A missing
// count is left out.
func PrintCollectionList(collections []model.Collection, counts map[int64]int) {
	if len(collections) == 0 {
		dimColor.Fprintln(Out, "No collections found")
		return
	}

	fmt.Fprintln(Out, "Collections:")
	for _, col := range collections {
		headerKeyColor.Fprintf(Out, "  %s ", sanitizeOutput(col.Name))
		if n, ok := counts[col.ID]; ok {
			dimColor.Fprintf(Out, "(%d requests)", n)
		}
		fmt.Fprintln(Out)
	}
}

// PrintCollectionItems prints the requests saved in a collection.
func PrintCollectionItems(name string, items []model.CollectionItem) {
	if len(items) == 0 {
		dimColor.Fprintf(Out, "Collection '%s' is empty\n", sanitizeOutput(name))
		return
	}

	headerKeyColor.Fprintf(Out, "Collection: %s\n", sanitizeOutput(name))
	fmt.Fprintln(Out, strings.Repeat("-", 40))

	for _, item := range items {
		dimColor.Fprintf(Out, "[%d] ", item.ID)
		if item.Name != "" {
			fmt.Fprintf(Out, "%s: ", sanitizeOutput(item.Name))
		}
		methodColor.Fprintf(Out, "%s ", item.Method)
		urlColor.Fprintln(Out, sanitizeOutput(item.URL))
	}
}

// PrintSuccess prints a success message
func PrintSuccess(msg string) {
	successColor.Fprintf(Out, "✓ %s\n", msg)
}

// PrintError prints an error message
func PrintError(msg string) {
	clientErrColor.Fprintf(Out, "✗ %s\n", msg)
}

// PrintAliasList prints a list of aliases
func PrintAliasList(aliases []model.Alias) {
	if len(aliases) == 0 {
		dimColor.Fprintln(Out, "No aliases found")
		return
	}

	fmt.Fprintln(Out, "Aliases:")
	for _, a := range aliases {
		headerKeyColor.Fprintf(Out, "  %s ", sanitizeOutput(a.Name))
		dimColor.Fprint(Out, "→ ")
		urlColor.Fprintln(Out, sanitizeOutput(a.URL))
	}
}

// PrintAlias prints a single alias
func PrintAlias(name, url string) {
	headerKeyColor.Fprintf(Out, "%s ", sanitizeOutput(name))
	dimColor.Fprint(Out, "→ ")
	urlColor.Fprintln(Out, sanitizeOutput(url))
}
