package timeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Export is the saved form of a timeline: its frame rate, play range and the
// keyframes of every non-empty track keyed by target.
type Export struct {
	FrameRate float64          `yaml:"frameRate"`
	Start     int64            `yaml:"start"`
	End       int64            `yaml:"end"`
	Tracks    map[string][]Key `yaml:"tracks"`
}

// Export snapshots the timeline.
func (t *Timeline) Export() Export {
	start, end := t.PlayRange()
	e := Export{
		FrameRate: t.FrameRate(),
		Start:     start,
		End:       end,
		Tracks:    make(map[string][]Key),
	}
	for _, target := range t.Targets() {
		if keys := t.Keys(target); len(keys) > 0 {
			e.Tracks[target] = keys
		}
	}
	return e
}

// Save writes the timeline as YAML.
func (t *Timeline) Save(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(t.Export()); err != nil {
		return fmt.Errorf("encode timeline: %w", err)
	}
	return enc.Close()
}

// SaveFile writes the timeline to path, creating its directory.
func (t *Timeline) SaveFile(path string) (err error) {
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
	return t.Save(f)
}

// Load rebuilds a timeline written by Save. Tracks are created in target order.
func Load(r io.Reader) (*Timeline, error) {
	var e Export
	if err := yaml.NewDecoder(r).Decode(&e); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode timeline: %w", err)
	}
	tl, err := New(WithFrameRate(e.FrameRate), WithPlayRange(e.Start, e.End))
	if err != nil {
		return nil, err
	}
	targets := make([]string, 0, len(e.Tracks))
	for target := range e.Tracks {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	for _, target := range targets {
		tr := tl.track(target)
		for _, k := range e.Tracks[target] {
			tr.SetKey(k.Frame, k.Value)
		}
	}
	return tl, nil
}

// LoadFile reads a timeline saved with SaveFile.
func LoadFile(path string) (*Timeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
