package mapping

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/leandrodaf/midimapper/sdk/contracts"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Format selects the document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the format from a file extension; JSON is the default.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Document is the saved form of a mapping table for one device and rig.
type Document struct {
	Device   string     `json:"device,omitempty" yaml:"device,omitempty"`
	Rig      string     `json:"rig,omitempty" yaml:"rig,omitempty"`
	Mappings []EntryDoc `json:"mappings" yaml:"mappings"`
}

// EntryDoc is one mapping row. Channels are 0-15 as on the wire.
type EntryDoc struct {
	Channel   int              `json:"channel" yaml:"channel"`
	Kind      string           `json:"kind" yaml:"kind"`
	ID        int              `json:"id" yaml:"id"`
	Target    string           `json:"target" yaml:"target"`
	Range     *contracts.Range `json:"range,omitempty" yaml:"range,omitempty"`
	Transform Transform        `json:"transform,omitempty" yaml:"transform,omitempty"`
	Enabled   *bool            `json:"enabled,omitempty" yaml:"enabled,omitempty"` // defaults to true
}

// NewDocument builds a document from table entries. Programmatic TransformFuncs
// cannot be saved; those entries keep only their Transform description.
func NewDocument(device, rig string, entries []Entry) Document {
	doc := Document{Device: device, Rig: rig, Mappings: make([]EntryDoc, 0, len(entries))}
	for _, e := range entries {
		enabled := e.Enabled
		r := e.rangeOrDefault()
		doc.Mappings = append(doc.Mappings, EntryDoc{
			Channel:   int(e.Key.Channel),
			Kind:      e.Key.Kind.String(),
			ID:        int(e.Key.ID),
			Target:    e.Target,
			Range:     &r,
			Transform: e.Transform,
			Enabled:   &enabled,
		})
	}
	return doc
}

// Entries converts and validates the rows. Every invalid row is reported, not just the first.
func (d Document) Entries() ([]Entry, error) {
	var (
		entries = make([]Entry, 0, len(d.Mappings))
		errs    error
	)
	for i, m := range d.Mappings {
		e, err := m.entry()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("mapping %d: %w", i, err))
			continue
		}
		if _, err := e.prepare(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("mapping %d: %w", i, err))
			continue
		}
		entries = append(entries, e)
	}
	if errs != nil {
		return nil, errs
	}
	return entries, nil
}

func (m EntryDoc) entry() (Entry, error) {
	kind, err := contracts.ParseKind(m.Kind)
	if err != nil {
		return Entry{}, err
	}
	if m.Channel < 0 || m.Channel > 15 {
		return Entry{}, fmt.Errorf("channel %d out of range 0-15", m.Channel)
	}
	if m.ID < 0 || m.ID > 127 {
		return Entry{}, fmt.Errorf("id %d out of range 0-127", m.ID)
	}
	e := Entry{
		Key:       contracts.Key{Channel: uint8(m.Channel), Kind: kind, ID: uint8(m.ID)},
		Target:    m.Target,
		Transform: m.Transform,
		Enabled:   m.Enabled == nil || *m.Enabled,
	}
	if m.Range != nil {
		e.Range = *m.Range
	}
	return e, nil
}

// Decode reads a document in the given format.
func Decode(r io.Reader, format Format) (Document, error) {
	var doc Document
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
			return Document{}, fmt.Errorf("decode yaml mapping: %w", err)
		}
	default:
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("decode json mapping: %w", err)
		}
	}
	return doc, nil
}

// Encode writes the document in the given format.
func (d Document) Encode(w io.Writer, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encode yaml mapping: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encode json mapping: %w", err)
		}
		return nil
	}
}

// LoadFile reads a document, choosing the format from the extension.
func LoadFile(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, err
	}
	defer f.Close()
	return Decode(f, FormatForPath(path))
}

// SaveFile writes a document, choosing the format from the extension.
func (d Document) SaveFile(path string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	return d.Encode(f, FormatForPath(path))
}
