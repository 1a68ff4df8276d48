package loop

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"molt/internal/proxy/database"
)

type exportFile struct {
	Version int                  `yaml:"version"`
	Loops   []database.SavedLoop `yaml:"loops"`
}

const exportVersion = 1

// ExportLoops writes every saved loop as YAML
func (p *Player) ExportLoops(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(exportFile{Version: exportVersion, Loops: p.loops}); err != nil {
		return fmt.Errorf("export loops: %w", err)
	}
	return enc.Close()
}

// ImportLoops reads loops written by ExportLoops. Loops with a known id
// replace the saved copy; the rest are appended. Returns how many were read.
func (p *Player) ImportLoops(r io.Reader) (int, error) {
	var file exportFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return 0, fmt.Errorf("import loops: %w", err)
	}
	if file.Version > exportVersion {
		return 0, fmt.Errorf("import loops: unsupported version %d", file.Version)
	}
	for _, loop := range file.Loops {
		if loop.ID == "" {
			return 0, fmt.Errorf("import loops: loop %q has no id", loop.Name)
		}
	}
	p.Merge(file.Loops)
	return len(file.Loops), nil
}

// Merge folds loops into the saved set by id and persists the result
func (p *Player) Merge(loops []database.SavedLoop) {
	if len(loops) == 0 {
		return
	}
	for _, loop := range loops {
		if i := p.index(loop.ID); i >= 0 {
			p.loops[i] = loop
		} else {
			p.loops = append(p.loops, loop)
		}
	}
	p.persist()
}
