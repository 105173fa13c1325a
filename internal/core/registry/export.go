package registry

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/querydeck-go/internal/core/domain"
)

// DocumentVersion is the export format version written by Export.
const DocumentVersion = 1

// Document is the portable export format. It never carries ids, status
// or secrets.
type Document struct {
	Version     int             `yaml:"version"`
	ExportedAt  time.Time       `yaml:"exported_at"`
	Connections []DocumentEntry `yaml:"connections"`
}

// DocumentEntry is one exported profile.
type DocumentEntry struct {
	Name     string          `yaml:"name"`
	Kind     domain.Kind     `yaml:"kind"`
	Endpoint domain.Endpoint `yaml:"endpoint"`
}

// Export writes every profile in the reconciled view to w as YAML.
func (r *Registry) Export(ctx context.Context, w io.Writer) error {
	profiles, err := r.List(ctx)
	if err != nil {
		return err
	}
	doc := Document{
		Version:     DocumentVersion,
		ExportedAt:  time.Now().UTC().Truncate(time.Second),
		Connections: make([]DocumentEntry, 0, len(profiles)),
	}
	for _, p := range profiles {
		doc.Connections = append(doc.Connections, DocumentEntry{
			Name:     p.Name,
			Kind:     p.Kind,
			Endpoint: p.Endpoint,
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	return enc.Close()
}

// ImportResult reports what Import did.
type ImportResult struct {
	Created []string
	// Rejected maps an entry's position in the document to its error.
	Rejected map[int]error
}

// Import creates one new profile per document entry. Every entry goes
// through Create: fresh id, disconnected, no stored secret. Invalid entries
// are reported and skipped; a malformed document fails entirely.
func (r *Registry) Import(ctx context.Context, src io.Reader) (*ImportResult, error) {
	var doc Document
	if err := yaml.NewDecoder(src).Decode(&doc); err != nil {
		return nil, domain.ErrInvalidDocument.WithCause(err)
	}
	if doc.Version > DocumentVersion {
		return nil, domain.ErrInvalidDocument.WithDetails(fmt.Sprintf("unsupported version %d", doc.Version))
	}

	res := &ImportResult{Rejected: make(map[int]error)}
	for i, e := range doc.Connections {
		kind, ok := domain.ParseKind(string(e.Kind))
		if !ok {
			res.Rejected[i] = domain.ErrInvalidProfile.WithDetails(fmt.Sprintf("unsupported kind %q", e.Kind))
			continue
		}
		id, err := r.Create(ctx, domain.Profile{Name: e.Name, Kind: kind, Endpoint: e.Endpoint})
		if err != nil {
			res.Rejected[i] = err
			continue
		}
		res.Created = append(res.Created, id)
	}
	return res, nil
}
