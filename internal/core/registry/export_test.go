package registry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yndnr/querydeck-go/internal/core/domain"
)

func TestExportImport_RoundTrip(t *testing.T) {
	src, _ := newTestRegistry(t)
	ctx := context.Background()

	id, _ := src.Create(ctx, pgProfile("orders"))
	src.SetHasStoredSecret(ctx, id, true)
	src.Create(ctx, domain.Profile{Name: "local", Kind: domain.KindSQLite, Endpoint: domain.Endpoint{Host: "localhost", Database: "a.db"}})

	var buf bytes.Buffer
	if err := src.Export(ctx, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	out := buf.String()
	if strings.Contains(out, id) {
		t.Error("export contains profile ids")
	}
	if strings.Contains(out, "has_stored_secret") || strings.Contains(out, "status") {
		t.Errorf("export carries runtime fields:\n%s", out)
	}

	dst, _ := newTestRegistry(t)
	res, err := dst.Import(ctx, &buf)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if len(res.Created) != 2 || len(res.Rejected) != 0 {
		t.Fatalf("Import() = %+v", res)
	}

	for _, newID := range res.Created {
		if newID == id {
			t.Error("import reused the exported id")
		}
		p, _ := dst.Get(ctx, newID)
		if p.Status != domain.StatusDisconnected || p.HasStoredSecret || p.LastConnectedAt != nil {
			t.Errorf("imported profile not fresh: %+v", p)
		}
	}
}

func TestImport_SkipsInvalidEntries(t *testing.T) {
	r, _ := newTestRegistry(t)
	doc := `
version: 1
connections:
  - name: good
    kind: mysql
    endpoint: {host: h, port: 3306, database: d, username: u}
  - name: no-host
    kind: mysql
    endpoint: {port: 3306, database: d, username: u}
  - name: weird
    kind: oracle
    endpoint: {host: h, port: 1521, database: d, username: u}
`
	res, err := r.Import(context.Background(), strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Created) != 1 {
		t.Errorf("created = %v", res.Created)
	}
	for _, i := range []int{1, 2} {
		if !errors.Is(res.Rejected[i], domain.ErrInvalidProfile) {
			t.Errorf("entry %d: %v", i, res.Rejected[i])
		}
	}
}

func TestImport_MalformedDocument(t *testing.T) {
	r, _ := newTestRegistry(t)
	for _, doc := range []string{"connections: [", "version: 99\nconnections: []\n", ""} {
		if _, err := r.Import(context.Background(), strings.NewReader(doc)); !errors.Is(err, domain.ErrInvalidDocument) {
			t.Errorf("Import(%q) error = %v, want ErrInvalidDocument", doc, err)
		}
	}
}
