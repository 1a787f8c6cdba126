package plugin

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	maxDescriptionLength = 500
	maxAuthorLength      = 100
	maxConfigSerialized  = 10000
)

var (
	// nameRegex: lowercase alphanumeric plus hyphen/underscore, 2-50 chars.
	nameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,49}$`)

	// versionRegex: semantic version with optional pre-release and build.
	versionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)

	// secretKeyTokens flag config keys that look like embedded credentials.
	secretKeyTokens = []string{"password", "secret", "key", "token", "api_key"}

	// nativeModuleDirs are path segments that suggest a plugin is reaching
	// into dependency or VCS directories for its entry point.
	nativeModuleDirs = map[string]bool{
		"node_modules": true,
		"vendor":       true,
		".git":         true,
	}
)

// SchemaValidator performs deep manifest validation: field rules, security
// constraints, type-specific recommendations and dependency well-formedness.
// It is pure and usable independently of loading or activation.
type SchemaValidator struct{}

// NewSchemaValidator creates a schema validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

// Validate checks one manifest against every rule group. Errors make the
// manifest unusable; warnings are advisory only.
func (v *SchemaValidator) Validate(m *Manifest) ValidationResult {
	result := ValidationResult{Valid: true}
	if m == nil {
		result.addError("manifest is nil")
		return result
	}

	v.checkFields(m, &result)
	v.checkTypeRecommendations(m, &result)
	v.checkSecurity(m, &result)
	v.checkPermissions(m, &result)
	v.checkDependencies(m, &result)
	v.checkConfig(m, &result)

	return result
}

func (v *SchemaValidator) checkFields(m *Manifest, result *ValidationResult) {
	if m.Name == "" {
		result.addError("missing required field: name")
	} else if !nameRegex.MatchString(m.Name) {
		result.addError("invalid name %q: must be 2-50 lowercase alphanumeric, hyphen or underscore characters", m.Name)
	}

	if m.Version == "" {
		result.addError("missing required field: version")
	} else if !versionRegex.MatchString(m.Version) {
		result.addError("invalid version %q: must be a semantic version (major.minor.patch)", m.Version)
	}

	if m.Type == "" {
		result.addError("missing required field: type")
	} else if !ValidTypes[m.Type] {
		result.addError("invalid type %q: must be one of theme, config-parser, ui-component, validator, exporter", m.Type)
	}

	if m.Main == "" {
		result.addError("missing required field: main")
	}

	if len(m.Description) > maxDescriptionLength {
		result.addError("description exceeds %d characters", maxDescriptionLength)
	}
	if len(m.Author) > maxAuthorLength {
		result.addError("author exceeds %d characters", maxAuthorLength)
	}

	for _, field := range m.UnknownFields() {
		result.addWarning("unknown field %q ignored", field)
	}
}

// checkTypeRecommendations emits advisory warnings when a plugin's config is
// missing keys its type is expected to provide. Never blocking.
func (v *SchemaValidator) checkTypeRecommendations(m *Manifest, result *ValidationResult) {
	recommended := map[PluginType][]string{
		TypeTheme:        {"primary_color", "secondary_color"},
		TypeConfigParser: {"extensions"},
		TypeUIComponent:  {"component_type"},
		TypeValidator:    {"rules"},
		TypeExporter:     {"formats"},
	}

	keys, ok := recommended[m.Type]
	if !ok {
		return
	}
	for _, key := range keys {
		if _, present := m.Config[key]; !present {
			result.addWarning("%s plugin should define config.%s", m.Type, key)
		}
	}
}

func (v *SchemaValidator) checkSecurity(m *Manifest, result *ValidationResult) {
	if m.Main == "" {
		return
	}

	if strings.HasPrefix(m.Main, "/") || filepath.IsAbs(m.Main) {
		result.addError("main must be a relative path, got %q", m.Main)
	}

	segments := strings.FieldsFunc(m.Main, func(r rune) bool {
		return r == '/' || r == '\\'
	})
	for _, segment := range segments {
		if segment == ".." {
			result.addError("main must not escape the plugin directory: %q", m.Main)
			break
		}
	}
	for _, segment := range segments {
		if nativeModuleDirs[segment] {
			result.addWarning("main references %s, which is usually unintended", segment)
			break
		}
	}
}

func (v *SchemaValidator) checkPermissions(m *Manifest, result *ValidationResult) {
	var dangerous []string
	for _, perm := range m.Permissions {
		if !ValidPermissions[perm] {
			result.addError("unknown permission %q", perm)
			continue
		}
		if DangerousPermissions[perm] {
			dangerous = append(dangerous, string(perm))
		}
	}
	if len(dangerous) > 0 {
		sort.Strings(dangerous)
		result.addWarning("requests potentially dangerous permissions: %s", strings.Join(dangerous, ", "))
	}
}

func (v *SchemaValidator) checkDependencies(m *Manifest, result *ValidationResult) {
	for _, dep := range m.Dependencies {
		if dep.Name == "" {
			result.addError("dependency name cannot be empty")
			continue
		}
		if !nameRegex.MatchString(dep.Name) {
			result.addError("invalid dependency name %q", dep.Name)
		}
		if dep.Name == m.Name {
			result.addError("Plugin cannot depend on itself")
		}
		if dep.Version != "" {
			if _, err := semver.NewConstraint(dep.Version); err != nil {
				result.addError("dependency %q has invalid version constraint %q", dep.Name, dep.Version)
			}
		}
	}
}

func (v *SchemaValidator) checkConfig(m *Manifest, result *ValidationResult) {
	if m.Config == nil {
		return
	}

	warnSecretKeys(m.Config, "", result)

	if data, err := json.Marshal(m.Config); err == nil && len(data) > maxConfigSerialized {
		result.addWarning("config is unusually large (%d characters, limit %d)", len(data), maxConfigSerialized)
	}
}

// warnSecretKeys walks the config mapping and flags keys that textually
// resemble credentials.
func warnSecretKeys(config map[string]any, prefix string, result *ValidationResult) {
	keys := make([]string, 0, len(config))
	for key := range config {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		lower := strings.ToLower(key)
		for _, token := range secretKeyTokens {
			if strings.Contains(lower, token) {
				result.addWarning("config key %q looks like a secret; plugins should not embed credentials", path)
				break
			}
		}

		if nested, ok := config[key].(map[string]any); ok {
			warnSecretKeys(nested, path, result)
		}
	}
}

// ValidateAll validates a batch of manifests and flags duplicate names across
// the batch.
func (v *SchemaValidator) ValidateAll(manifests []*Manifest) BatchResult {
	batch := BatchResult{Results: make(map[string]ValidationResult, len(manifests))}

	seen := make(map[string]bool)
	flagged := make(map[string]bool)
	for _, m := range manifests {
		result := v.Validate(m)
		if !result.Valid {
			batch.ErrorCount += len(result.Errors)
		}

		name := m.Name
		if name == "" {
			name = m.Path
		}
		if seen[name] && !flagged[name] {
			batch.Duplicates = append(batch.Duplicates, name)
			flagged[name] = true
		}
		seen[name] = true

		if _, exists := batch.Results[name]; !exists {
			batch.Results[name] = result
		}
	}

	sort.Strings(batch.Duplicates)
	return batch
}
