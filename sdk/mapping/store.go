package mapping

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store keeps one mapping document per device and rig pair in a directory,
// named "<device>_<rig><ext>".
type Store struct {
	Dir string
	Ext string // ".json" when empty; ".yaml" selects YAML
}

// Path returns the file used for the pair.
func (s Store) Path(device, rig string) string {
	ext := s.Ext
	if ext == "" {
		ext = ".json"
	}
	return filepath.Join(s.Dir, fileSafe(device)+"_"+fileSafe(rig)+ext)
}

// Load returns the saved document for the pair. A missing file yields an
// empty document for that pair, not an error.
func (s Store) Load(device, rig string) (Document, error) {
	doc, err := LoadFile(s.Path(device, rig))
	if errors.Is(err, os.ErrNotExist) {
		return Document{Device: device, Rig: rig}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("load mapping for %s/%s: %w", device, rig, err)
	}
	if doc.Device == "" {
		doc.Device = device
	}
	if doc.Rig == "" {
		doc.Rig = rig
	}
	return doc, nil
}

// Save writes the document under its own device and rig names.
func (s Store) Save(doc Document) error {
	if doc.Device == "" || doc.Rig == "" {
		return fmt.Errorf("mapping document needs a device and a rig name")
	}
	if err := doc.SaveFile(s.Path(doc.Device, doc.Rig)); err != nil {
		return fmt.Errorf("save mapping for %s/%s: %w", doc.Device, doc.Rig, err)
	}
	return nil
}

// Remove deletes the saved document for the pair, if any.
func (s Store) Remove(device, rig string) error {
	err := os.Remove(s.Path(device, rig))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '-'
		}
		return r
	}, name)
}
