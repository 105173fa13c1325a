package repl

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yndnr/querydeck-go/internal/gateway"
)

type fakeExecutor struct {
	queries []string
	result  *gateway.QueryResult
	err     error
	tables  []gateway.Table
}

func (f *fakeExecutor) Query(_ context.Context, q string) (*gateway.QueryResult, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeExecutor) Schema(context.Context) ([]gateway.Table, error) {
	return f.tables, nil
}

func newFake() *fakeExecutor {
	def := "now()"
	return &fakeExecutor{
		result: &gateway.QueryResult{
			Columns:   []string{"id", "email"},
			Rows:      [][]any{{float64(1), "a@example.com"}, {float64(2), nil}},
			RowCount:  2,
			ElapsedMS: 3,
		},
		tables: []gateway.Table{
			{Schema: "public", Name: "users", Columns: []gateway.Column{
				{Name: "id", Type: "integer"},
				{Name: "created_at", Type: "timestamp", Nullable: true, Default: &def},
			}},
			{Schema: "public", Name: "orders"},
		},
	}
}

func run(t *testing.T, exec Executor, input string) string {
	t.Helper()
	var out bytes.Buffer
	r := New(exec, WithIO(strings.NewReader(input), &out), WithPrompt("orders"))
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return out.String()
}

func TestREPL_Run_Exit(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"exit command", "exit\nselect 1;\n"},
		{"quit command", "quit\nselect 1;\n"},
		{"meta quit", "\\q\nselect 1;\n"},
		{"EOF", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newFake()
			run(t, exec, tt.input)
			if len(exec.queries) != 0 {
				t.Errorf("input after quit was executed: %v", exec.queries)
			}
		})
	}
}

func TestREPL_Query(t *testing.T) {
	exec := newFake()
	out := run(t, exec, "select id, email\nfrom users;\n")

	if len(exec.queries) != 1 || exec.queries[0] != "select id, email from users" {
		t.Fatalf("queries = %q", exec.queries)
	}
	for _, want := range []string{"orders> ", "-> ", "email", "a@example.com", "NULL", "(2 rows, 3 ms)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestREPL_QueryAtEOF(t *testing.T) {
	exec := newFake()
	run(t, exec, "select 1")
	if len(exec.queries) != 1 || exec.queries[0] != "select 1" {
		t.Errorf("unterminated final query should run, got %q", exec.queries)
	}
}

func TestREPL_QueryError(t *testing.T) {
	exec := newFake()
	exec.err = errors.New("query execution unavailable")
	out := run(t, exec, "select 1;\nselect 2;\n")

	if !strings.Contains(out, "Error: query execution unavailable") {
		t.Errorf("error not printed:\n%s", out)
	}
	if len(exec.queries) != 2 {
		t.Errorf("shell should continue after an error, ran %d queries", len(exec.queries))
	}
}

func TestREPL_Meta(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"list tables", "\\dt\n", []string{"SCHEMA", "users", "orders"}},
		{"describe", "\\d users\n", []string{"COLUMN", "created_at", "timestamp", "now()", "yes"}},
		{"describe candidates", "\\d use\n", []string{`no table "use" (candidates: users)`}},
		{"unknown with suggestion", "\\dx\n", []string{`unknown command \dx (did you mean \d, \dt?)`}},
		{"unknown", "\\x\n", []string{`unknown command \x, try \?`}},
		{"help", "\\?\n", []string{`\dt        list tables`}},
		{"history", "select 1;\n\\s\n", []string{"   1  select 1;", `   2  \s`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, newFake(), tt.input)
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestREPL_ContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec := newFake()
	var out bytes.Buffer
	if err := New(exec, WithIO(strings.NewReader("select 1;\n"), &out)).Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(exec.queries) != 0 {
		t.Error("query ran after context ended")
	}
}

func TestREPL_HistoryPersisted(t *testing.T) {
	file := t.TempDir() + "/history"
	var out bytes.Buffer
	r := New(newFake(), WithIO(strings.NewReader("select 1;\n"), &out), WithHistory(NewHistory(file)))
	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	h := NewHistory(file)
	if err := h.Load(); err != nil {
		t.Fatal(err)
	}
	if h.Get(0) != "select 1;" {
		t.Errorf("persisted history = %v", h.Entries())
	}
}
