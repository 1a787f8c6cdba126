package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// manifestFields are the recognized top-level manifest keys.
var manifestFields = map[string]bool{
	"name":         true,
	"version":      true,
	"type":         true,
	"main":         true,
	"description":  true,
	"author":       true,
	"dependencies": true,
	"config":       true,
	"permissions":  true,
}

// ManifestLoader discovers and loads plugin manifests from disk.
type ManifestLoader struct {
	discovery *Discovery
	schema    gojsonschema.JSONLoader
	logger    zerolog.Logger
}

// NewManifestLoader creates a loader that searches the discovery's roots.
func NewManifestLoader(discovery *Discovery, logger zerolog.Logger) *ManifestLoader {
	return &ManifestLoader{
		discovery: discovery,
		schema:    gojsonschema.NewStringLoader(manifestSchema),
		logger:    logger.With().Str("component", "manifest-loader").Logger(),
	}
}

// LoadManifest reads, parses and structurally validates a single manifest
// file. Parse and structural failures are returned as *ParseError.
func (l *ManifestLoader) LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	if err := l.checkSchema(data); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	// Record unrecognized top-level keys for advisory validation.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		for key := range raw {
			if !manifestFields[key] {
				manifest.unknownFields = append(manifest.unknownFields, key)
			}
		}
		sort.Strings(manifest.unknownFields)
	}

	manifest.Path = path
	manifest.Dir = filepath.Dir(path)
	manifest.LoadedAt = time.Now()

	l.logger.Debug().
		Str("name", manifest.Name).
		Str("version", manifest.Version).
		Str("type", string(manifest.Type)).
		Str("path", path).
		Msg("Loaded manifest")

	return &manifest, nil
}

// checkSchema validates raw manifest bytes against the structural schema.
func (l *ManifestLoader) checkSchema(data []byte) error {
	result, err := gojsonschema.Validate(l.schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}

	msg := "schema violation:"
	for _, desc := range result.Errors() {
		msg += " " + desc.String() + ";"
	}
	return &schemaViolation{detail: msg}
}

type schemaViolation struct {
	detail string
}

func (e *schemaViolation) Error() string { return e.detail }

// LoadAll discovers every manifest under the configured roots and loads them.
// Per-file parse or validation failures are logged and skipped, never fatal
// to the batch. Duplicate plugin names keep the first manifest discovered and
// warn about later ones. Only the discovery step itself can return an error.
func (l *ManifestLoader) LoadAll() (map[string]*Manifest, error) {
	paths, err := l.discovery.Discover()
	if err != nil {
		return nil, err
	}

	manifests := make(map[string]*Manifest)
	for _, path := range paths {
		manifest, err := l.LoadManifest(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping invalid manifest")
			continue
		}

		if existing, seen := manifests[manifest.Name]; seen {
			l.logger.Warn().
				Str("name", manifest.Name).
				Str("path", path).
				Str("kept", existing.Path).
				Msg("Duplicate plugin name, keeping first discovered")
			continue
		}

		manifests[manifest.Name] = manifest
	}

	l.logger.Info().Int("count", len(manifests)).Msg("Manifest loading completed")
	return manifests, nil
}
