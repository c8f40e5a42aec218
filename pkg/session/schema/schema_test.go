package schema

import (
	"slices"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestEffectiveFieldsAugmentsTheRequest(t *testing.T) {
	is := is.New(t)
	s := Default()

	fields := s.EffectiveFields("Task", []string{"content"})

	for _, expected := range []string{
		"id", "content", "updated_at", "step", "entity",
		"entity.Shot.code", "entity.Shot.id",
		"entity.Asset.code", "entity.Asset.id",
		"step.Step.short_name",
	} {
		is.True(slices.Contains(fields, expected)) // expected field missing
	}

	is.True(slices.IsSorted(fields))
}

func TestEffectiveFieldsImpliesDeepPathOwners(t *testing.T) {
	is := is.New(t)
	s := Default()

	fields := s.EffectiveFields("Version", []string{"entity.Shot.sequence.Sequence.code"})

	is.True(slices.Contains(fields, "entity.Shot.id"))
	is.True(slices.Contains(fields, "entity.Shot.sequence.Sequence.id"))
}

func TestEffectiveFieldsIncludesTheParentField(t *testing.T) {
	is := is.New(t)
	s := Default()

	is.True(slices.Contains(s.EffectiveFields("Shot", nil), "sequence"))
	is.True(!slices.Contains(s.EffectiveFields("Project", nil), ""))
}

func TestParentFieldDistinguishesRootFromUnknown(t *testing.T) {
	is := is.New(t)
	s := Default()

	field, ok := s.ParentField("Shot")
	is.True(ok)
	is.Equal(field, "sequence")

	field, ok = s.ParentField("Project")
	is.True(ok)
	is.Equal(field, "")

	_, ok = s.ParentField("CustomThing")
	is.True(!ok)

	is.True(s.IsRoot("Project"))
	is.True(!s.IsRoot("Shot"))
}

func TestLoadConfigurationMergesOverDefaults(t *testing.T) {
	is := is.New(t)

	doc := `
rootType: Show
parentFields:
  Shot: show
importantFields:
  Shot:
    - code
    - status
`

	s, err := LoadConfiguration(strings.NewReader(doc))
	is.NoErr(err)

	is.Equal(s.RootType, "Show")

	field, _ := s.ParentField("Shot")
	is.Equal(field, "show")

	// unnamed entries keep their defaults
	field, _ = s.ParentField("Task")
	is.Equal(field, "entity")
	is.Equal(s.ImportantFields["Shot"], []string{"code", "status"})
	is.Equal(s.ImportantFields["Sequence"], []string{"code"})
}

func TestLoadConfigurationRejectsMalformedDocuments(t *testing.T) {
	is := is.New(t)

	_, err := LoadConfiguration(strings.NewReader("rootType: [not, a, string]"))
	is.True(err != nil)
}
