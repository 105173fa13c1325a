package repl

import (
	"reflect"
	"testing"
)

func TestCompleter_Commands(t *testing.T) {
	c := NewCompleter()
	tests := []struct {
		prefix string
		want   []string
	}{
		{`\d`, []string{`\d`, `\dt`}},
		{`\q`, []string{`\q`}},
		{`\z`, nil},
	}
	for _, tt := range tests {
		if got := c.Commands(tt.prefix); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Commands(%q) = %v, want %v", tt.prefix, got, tt.want)
		}
	}
}

func TestCompleter_Tables(t *testing.T) {
	c := NewCompleter()
	c.SetTables([]string{"users", "Orders", "user_roles"})

	tests := []struct {
		prefix string
		want   []string
	}{
		{"user", []string{"user_roles", "users"}},
		{"or", []string{"Orders"}},
		{"", []string{"Orders", "user_roles", "users"}},
		{"x", nil},
	}
	for _, tt := range tests {
		if got := c.Tables(tt.prefix); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tables(%q) = %v, want %v", tt.prefix, got, tt.want)
		}
	}
}
