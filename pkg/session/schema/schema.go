package schema

import (
	"io"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

// Schema carries the static field policy for a session: which fields are
// always requested, which fields are links (and to which candidate types),
// and which field holds the logical parent of each type. It is consulted
// read-only; overrides are applied between sessions, never mid-traversal.
type Schema struct {
	// RootType terminates hierarchy walks. It has no parent field.
	RootType string `yaml:"rootType"`

	// ImportantFieldsForAll are requested for every type regardless of the
	// explicit field list of a query.
	ImportantFieldsForAll []string `yaml:"importantFieldsForAll"`

	// ImportantFields maps a type to additional always-requested fields.
	ImportantFields map[string][]string `yaml:"importantFields"`

	// ImportantLinks maps a type to its link fields and the candidate types
	// each link may resolve to.
	ImportantLinks map[string]map[string][]string `yaml:"importantLinks"`

	// ParentFields maps a type to the field holding its logical parent. The
	// root type maps to an empty field name.
	ParentFields map[string]string `yaml:"parentFields"`
}

// Default returns the process-wide default policy.
func Default() *Schema {
	return &Schema{
		RootType: "Project",

		ImportantFieldsForAll: []string{"updated_at"},

		ImportantFields: map[string][]string{
			"Asset":        {"code", "asset_type"},
			"HumanUser":    {"firstname", "lastname", "email", "login"},
			"Project":      {"name"},
			"PublishEvent": {"code", "publish_type", "version_number"},
			"Sequence":     {"code"},
			"Shot":         {"code"},
			"Step":         {"code", "short_name", "entity_type"},
			"Task":         {"step", "content"},
			"Version":      {"code", "task"},
		},

		ImportantLinks: map[string]map[string][]string{
			"Asset": {
				"project": {"Project"},
			},
			"Sequence": {
				"project": {"Project"},
			},
			"Shot": {
				"project":  {"Project"},
				"sequence": {"Sequence"},
			},
			"Task": {
				"project": {"Project"},
				"entity":  {"Asset", "Shot"},
				"step":    {"Step"},
			},
			"PublishEvent": {
				"project": {"Project"},
				"link":    {"Task"},
			},
		},

		ParentFields: map[string]string{
			"Asset":        "project",
			"Project":      "",
			"PublishEvent": "link",
			"Sequence":     "project",
			"Shot":         "sequence",
			"Task":         "entity",
			"Version":      "entity",
		},
	}
}

// LoadConfiguration reads a yaml policy document and merges it over the
// defaults. Lists and maps from the document replace the default entries for
// the keys they name and leave the rest untouched.
func LoadConfiguration(data io.Reader) (*Schema, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	override := &Schema{}
	err = yaml.Unmarshal(buf, override)
	if err != nil {
		return nil, err
	}

	cfg := Default()

	if override.RootType != "" {
		cfg.RootType = override.RootType
	}
	if override.ImportantFieldsForAll != nil {
		cfg.ImportantFieldsForAll = override.ImportantFieldsForAll
	}
	for entityType, fields := range override.ImportantFields {
		cfg.ImportantFields[entityType] = fields
	}
	for entityType, links := range override.ImportantLinks {
		cfg.ImportantLinks[entityType] = links
	}
	for entityType, field := range override.ParentFields {
		cfg.ParentFields[entityType] = field
	}

	return cfg, nil
}

// ParentField returns the name of the parent link field for a type. The
// second return value reports whether the type takes part in the hierarchy at
// all; the root type is declared with an empty field name.
func (s *Schema) ParentField(entityType string) (string, bool) {
	field, ok := s.ParentFields[entityType]
	return field, ok
}

// IsRoot reports whether a type terminates hierarchy walks.
func (s *Schema) IsRoot(entityType string) bool {
	return entityType == s.RootType
}

// ImportantFieldsFor returns every field the policy wants populated on an
// entity of the given type, including its link fields.
func (s *Schema) ImportantFieldsFor(entityType string) []string {
	fields := append([]string{}, s.ImportantFieldsForAll...)
	fields = append(fields, s.ImportantFields[entityType]...)

	for linkField := range s.ImportantLinks[entityType] {
		fields = append(fields, linkField)
	}

	sort.Strings(fields)
	return fields
}

// EffectiveFields computes the full field list for a query: the requested
// fields, the important fields for the type, its parent field, deep paths to
// the important fields of linked types (in compact multi-type notation), and
// the implied identity fields of every deep path owner. Compact notation is
// expanded before the result is returned.
func (s *Schema) EffectiveFields(entityType string, requested []string) []string {
	fields := map[string]struct{}{"id": {}}

	add := func(names ...string) {
		for _, name := range names {
			if name != "" {
				fields[name] = struct{}{}
			}
		}
	}

	add(requested...)
	add(s.ImportantFieldsForAll...)
	add(s.ImportantFields[entityType]...)

	if parentField, ok := s.ParentFields[entityType]; ok {
		add(parentField)
	}

	for linkField, linkTypes := range s.ImportantLinks[entityType] {
		add(linkField)

		typeSpec := linkTypes[0]
		if len(linkTypes) > 1 {
			typeSpec = "{" + strings.Join(linkTypes, ",") + "}"
		}

		for _, linkType := range linkTypes {
			remote := map[string]struct{}{}
			for _, f := range s.ImportantFieldsForAll {
				remote[f] = struct{}{}
			}
			for _, f := range s.ImportantFields[linkType] {
				remote[f] = struct{}{}
			}
			for f := range s.ImportantLinks[linkType] {
				remote[f] = struct{}{}
			}

			for remoteField := range remote {
				add(linkField + "." + typeSpec + "." + remoteField)
			}
		}
	}

	// Expand compact multi-type syntax into concrete dotted paths.
	expanded := map[string]struct{}{}
	for field := range fields {
		for _, concrete := range ExpandBraces(field) {
			expanded[concrete] = struct{}{}
		}
	}

	// Every owner of a deep path must come back with its identity so that
	// merged sub-records can be resolved.
	implied := []string{}
	for field := range expanded {
		parts := strings.Split(field, ".")
		for i := 2; i < len(parts)+1; i += 2 {
			implied = append(implied, strings.Join(parts[:i], ".")+".id")
		}
	}
	for _, field := range implied {
		expanded[field] = struct{}{}
	}

	result := make([]string, 0, len(expanded))
	for field := range expanded {
		result = append(result, field)
	}

	sort.Strings(result)
	return result
}
