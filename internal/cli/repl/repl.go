package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/yndnr/querydeck-go/internal/cli/output"
	"github.com/yndnr/querydeck-go/internal/gateway"
)

// Executor runs shell input against the connected database.
type Executor interface {
	Query(ctx context.Context, query string) (*gateway.QueryResult, error)
	Schema(ctx context.Context) ([]gateway.Table, error)
}

// REPL represents the Read-Eval-Print Loop.
type REPL struct {
	input     io.Reader
	output    io.Writer
	prompt    string
	exec      Executor
	completer *Completer
	history   *History
}

// Option configures a REPL.
type Option func(*REPL)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(r *REPL) {
		r.input = in
		r.output = out
	}
}

// WithHistory sets the history store.
func WithHistory(h *History) Option {
	return func(r *REPL) { r.history = h }
}

// WithPrompt sets the prompt prefix, typically the profile name.
func WithPrompt(name string) Option {
	return func(r *REPL) { r.prompt = name }
}

// New creates a shell that runs queries through exec.
func New(exec Executor, opts ...Option) *REPL {
	r := &REPL{
		input:     os.Stdin,
		output:    os.Stdout,
		prompt:    "querydeck",
		exec:      exec,
		completer: NewCompleter(),
		history:   NewHistory(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var errQuit = errors.New("quit")

// Run reads lines until EOF, a quit command or ctx ends.
func (r *REPL) Run(ctx context.Context) error {
	if err := r.history.Load(); err != nil {
		fmt.Fprintf(r.output, "warning: history not loaded: %v\n", err)
	}
	defer func() {
		if err := r.history.Save(); err != nil {
			fmt.Fprintf(r.output, "warning: history not saved: %v\n", err)
		}
	}()
	r.refreshTables(ctx)

	reader := bufio.NewReader(r.input)
	var pending strings.Builder
	for {
		if ctx.Err() != nil {
			return nil
		}
		if pending.Len() == 0 {
			fmt.Fprintf(r.output, "%s> ", r.prompt)
		} else {
			fmt.Fprintf(r.output, "%s-> ", strings.Repeat(" ", max(len(r.prompt)-1, 0)))
		}

		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimSpace(line)

		switch {
		case line == "" && eof:
			fmt.Fprintln(r.output)
			return nil
		case line == "":
			continue
		case pending.Len() == 0 && (strings.HasPrefix(line, `\`) || line == "exit" || line == "quit"):
			r.history.Add(line)
			if err := r.meta(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(r.output, "Error: %v\n", err)
			}
		default:
			if pending.Len() > 0 {
				pending.WriteByte(' ')
			}
			pending.WriteString(line)
			if !strings.HasSuffix(line, ";") && !eof {
				continue
			}
			query := strings.TrimSuffix(pending.String(), ";")
			pending.Reset()
			r.history.Add(query + ";")
			if err := r.query(ctx, query); err != nil {
				fmt.Fprintf(r.output, "Error: %v\n", err)
			}
		}
		if eof {
			return nil
		}
	}
}

func (r *REPL) meta(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case `\q`, "exit", "quit":
		return errQuit
	case `\?`:
		r.help()
	case `\s`:
		for i, e := range r.history.Entries() {
			fmt.Fprintf(r.output, "%4d  %s\n", i+1, e)
		}
	case `\dt`:
		return r.listTables(ctx)
	case `\d`:
		if arg == "" {
			return r.listTables(ctx)
		}
		return r.describe(ctx, arg)
	default:
		prefix := cmd
		if len(prefix) > 2 {
			prefix = prefix[:2]
		}
		if s := r.completer.Commands(prefix); len(s) > 0 {
			return fmt.Errorf("unknown command %s (did you mean %s?)", cmd, strings.Join(s, ", "))
		}
		return fmt.Errorf(`unknown command %s, try \?`, cmd)
	}
	return nil
}

func (r *REPL) help() {
	fmt.Fprintln(r.output, `Queries end with ";" and may span lines.
  \dt        list tables
  \d TABLE   describe TABLE
  \s         show history
  \q         quit`)
}

func (r *REPL) query(ctx context.Context, q string) error {
	res, err := r.exec.Query(ctx, q)
	if err != nil {
		return err
	}
	t := &output.Table{Headers: res.Columns}
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = cell(v)
		}
		t.Rows = append(t.Rows, cells)
	}
	if len(t.Headers) > 0 {
		if err := t.Render(r.output); err != nil {
			return err
		}
	}
	suffix := ""
	if res.Truncated {
		suffix = ", truncated"
	}
	fmt.Fprintf(r.output, "(%s %s%s, %d ms)\n", humanize.Comma(int64(res.RowCount)), plural(res.RowCount, "row"), suffix, res.ElapsedMS)
	return nil
}

func (r *REPL) listTables(ctx context.Context) error {
	tables, err := r.exec.Schema(ctx)
	if err != nil {
		return err
	}
	r.setTables(tables)
	t := &output.Table{Headers: []string{"SCHEMA", "NAME", "COLUMNS"}}
	for _, tb := range tables {
		t.AddRow(dash(tb.Schema), tb.Name, fmt.Sprint(len(tb.Columns)))
	}
	return t.Render(r.output)
}

func (r *REPL) describe(ctx context.Context, name string) error {
	tables, err := r.exec.Schema(ctx)
	if err != nil {
		return err
	}
	r.setTables(tables)
	for _, tb := range tables {
		if !strings.EqualFold(tb.Name, name) {
			continue
		}
		t := &output.Table{Headers: []string{"COLUMN", "TYPE", "NULLABLE", "DEFAULT"}}
		for _, c := range tb.Columns {
			def := "-"
			if c.Default != nil {
				def = *c.Default
			}
			nullable := "no"
			if c.Nullable {
				nullable = "yes"
			}
			t.AddRow(c.Name, c.Type, nullable, def)
		}
		return t.Render(r.output)
	}
	if s := r.completer.Tables(name); len(s) > 0 {
		return fmt.Errorf("no table %q (candidates: %s)", name, strings.Join(s, ", "))
	}
	return fmt.Errorf("no table %q", name)
}

// refreshTables primes completion. Failures are ignored; the next \dt
// retries.
func (r *REPL) refreshTables(ctx context.Context) {
	if tables, err := r.exec.Schema(ctx); err == nil {
		r.setTables(tables)
	}
}

func (r *REPL) setTables(tables []gateway.Table) {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	r.completer.SetTables(names)
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprint(int64(x))
		}
		return fmt.Sprint(x)
	default:
		return fmt.Sprint(x)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
