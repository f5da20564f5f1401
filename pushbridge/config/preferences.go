package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
)

// Preferences is the read-only preference store, loaded once at start.
type Preferences map[string]string

// Get returns the named preference. A nil map has no preferences.
func (p Preferences) Get(name string) (string, bool) {
	v, ok := p[name]
	return v, ok
}

// ParsePreferencesXML collects every <preference name="" value=""/> element of
// a cordova style config.xml, at any depth. Later duplicates win.
func ParsePreferencesXML(r io.Reader) (Preferences, error) {
	prefs := Preferences{}
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return prefs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse preferences xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "preference" {
			continue
		}
		var name, value string
		for _, attr := range start.Attr {
			switch attr.Name.Local {
			case "name":
				name = attr.Value
			case "value":
				value = attr.Value
			}
		}
		if name != "" {
			prefs[name] = value
		}
	}
}

// LoadPreferences merges the preferences file, if any, over the inline map.
// A missing file leaves only the inline preferences.
func LoadPreferences(inline map[string]string, path string, logger *slog.Logger) (Preferences, error) {
	prefs := Preferences(maps.Clone(inline))
	if prefs == nil {
		prefs = Preferences{}
	}
	if path == "" {
		return prefs, nil
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Preferences file not found, using inline preferences only", "path", path)
		return prefs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open preferences file: %w", err)
	}
	defer f.Close()

	fromFile, err := ParsePreferencesXML(f)
	if err != nil {
		return nil, err
	}
	maps.Copy(prefs, fromFile)
	logger.Debug("Loaded preferences file", "path", path, "count", len(fromFile))
	return prefs, nil
}
