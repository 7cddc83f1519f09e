package printer

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)

	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr
)

// SetOutput redirects standard and error output, returning a restore func
func SetOutput(stdout, stderr io.Writer) func() {
	prevOut, prevErr := out, errOut
	out, errOut = stdout, stderr
	return func() { out, errOut = prevOut, prevErr }
}

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	green.Fprintf(out, "✓ %s\n", fmt.Sprintf(format, a...))
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(out, format+"\n", a...)
}

// Warning prints a warning in yellow
func Warning(format string, a ...any) {
	yellow.Fprintf(out, "! %s\n", fmt.Sprintf(format, a...))
}

// Step prints the start of one step of a multi-step operation
func Step(format string, a ...any) {
	cyan.Fprintf(out, "→ %s\n", fmt.Sprintf(format, a...))
}

// Detail prints indented key/value lines under a step, sorted by key
func Detail(fields map[string]string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		faint.Fprintf(out, "    %s: ", k)
		fmt.Fprintln(out, fields[k])
	}
}

// Error prints a formatted error with context to stderr and returns an
// error carrying only the title for cobra
func Error(title, explanation string, context map[string]string, suggestions ...string) error {
	red.Fprintf(errOut, "%s\n", title)
	if explanation != "" {
		fmt.Fprintf(errOut, "\n%s\n", explanation)
	}
	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(errOut)
		for _, k := range keys {
			fmt.Fprintf(errOut, "  %s: %s\n", k, context[k])
		}
	}
	if len(suggestions) > 0 {
		fmt.Fprintln(errOut)
		for _, s := range suggestions {
			fmt.Fprintf(errOut, "  - %s\n", s)
		}
	}
	return fmt.Errorf("%s", title)
}
