// Package serverconfig reads the Liberty server configuration and manages the
// features installed in the runtime.
package serverconfig

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// ServerXML is the name of the main configuration file.
const ServerXML = "server.xml"

type serverXML struct {
	XMLName  xml.Name     `xml:"server"`
	Features []string     `xml:"featureManager>feature"`
	Includes []includeXML `xml:"include"`
}

type includeXML struct {
	Location string `xml:"location,attr"`
	Optional bool   `xml:"optional,attr"`
}

// Parser collects the features required by a server configuration directory.
type Parser struct{}

// NewParser creates a server configuration parser.
func NewParser() *Parser {
	return &Parser{}
}

// RequiredFeatures returns the features named by server.xml, the files it
// includes and the defaults and overrides drop-ins of configDir. A directory
// without server.xml requires nothing.
func (p *Parser) RequiredFeatures(configDir string) (domain.FeatureSet, error) {
	features := domain.NewFeatureSet()
	w := &walker{configDir: configDir, features: features, seen: map[string]bool{}}

	files := dropins(filepath.Join(configDir, "configDropins", "defaults"))
	if _, err := os.Stat(filepath.Join(configDir, ServerXML)); err == nil {
		files = append(files, filepath.Join(configDir, ServerXML))
	}
	files = append(files, dropins(filepath.Join(configDir, "configDropins", "overrides"))...)

	for _, f := range files {
		if err := w.read(f); err != nil {
			return features, err
		}
	}
	return features, nil
}

func dropins(dir string) []string {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.xml"))
	sort.Strings(matches)
	return matches
}

type walker struct {
	configDir string
	features  domain.FeatureSet
	seen      map[string]bool
}

func (w *walker) read(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if w.seen[abs] {
		return nil
	}
	w.seen[abs] = true

	// #nosec G304 -- configuration files live in the project
	data, err := os.ReadFile(abs)
	if err != nil {
		return err
	}
	var doc serverXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, f := range doc.Features {
		w.features.Add(f)
	}

	for _, inc := range doc.Includes {
		target := w.resolve(filepath.Dir(abs), inc.Location)
		if target == "" {
			continue
		}
		if err := w.include(target); err != nil {
			if inc.Optional && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("include %s in %s: %w", inc.Location, path, err)
		}
	}
	return nil
}

// include reads one file, or every XML file of a directory.
func (w *walker) include(target string) error {
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.read(target)
	}
	for _, f := range dropins(target) {
		if err := w.read(f); err != nil {
			return err
		}
	}
	return nil
}

// resolve expands server.config.dir and makes relative locations relative to
// the including file. Remote locations are skipped.
func (w *walker) resolve(base, location string) string {
	location = strings.TrimSpace(location)
	if location == "" || strings.Contains(location, "://") {
		return ""
	}
	location = strings.ReplaceAll(location, "${server.config.dir}", w.configDir+"/")
	location = filepath.FromSlash(location)
	if !filepath.IsAbs(location) {
		location = filepath.Join(base, location)
	}
	return filepath.Clean(location)
}
