package fluid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Note struct {
	ID        int
	Title     string
	Body      string
	Priority  int
	Archived  bool
	IsDeleted bool
	DeletedAt *string
}

type Tag struct {
	Code string
	Name string
}

func noteOptions() CollectionOptions {
	return CollectionOptions{
		Alias:            "notes",
		IDField:          "ID",
		DeletedField:     "IsDeleted",
		DefaultFilter:    Where("Archived", OpEqual, false),
		SortField:        "Title",
		SearchableFields: []string{"Title", "Body"},
	}
}

func TestNewDescriptor(t *testing.T) {
	desc, err := NewDescriptor[Note](noteOptions())
	require.NoError(t, err)

	assert.Equal(t, "notes", desc.Alias())
	assert.Equal(t, "Note", desc.NameSingular())
	assert.Equal(t, "Notes", desc.NamePlural())
	assert.Equal(t, "ID", desc.IDField())
	assert.Equal(t, "IsDeleted", desc.DeletedField())
	assert.True(t, desc.HasDeletedField())
	assert.Equal(t, "Title", desc.SortField())
	assert.Equal(t, Ascending, desc.SortDirection())
	assert.Equal(t, DefaultPageSize, desc.PageSize())
	assert.True(t, desc.IsSearchable())
	assert.Equal(t, []string{"Title", "Body"}, desc.SearchableFields())
	assert.False(t, desc.ReadOnly())

	fields := desc.SearchableFields()
	fields[0] = "Mutated"
	assert.Equal(t, "Title", desc.SearchableFields()[0], "searchable fields must not be shared")
}

func TestNewDescriptorDefaults(t *testing.T) {
	desc, err := NewDescriptor[Tag](CollectionOptions{IDField: "Code"})
	require.NoError(t, err)

	assert.Equal(t, "tags", desc.Alias())
	assert.Empty(t, desc.DeletedField())
	assert.False(t, desc.HasDeletedField())
	assert.Empty(t, desc.SortField())
	assert.Empty(t, string(desc.SortDirection()))
	assert.Nil(t, desc.DefaultFilter())
}

func TestNewDescriptorConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*CollectionOptions)
	}{
		{"missing id field", func(o *CollectionOptions) { o.IDField = "" }},
		{"unknown id field", func(o *CollectionOptions) { o.IDField = "Key" }},
		{"pointer id field", func(o *CollectionOptions) { o.IDField = "DeletedAt" }},
		{"unknown deleted field", func(o *CollectionOptions) { o.DeletedField = "Removed" }},
		{"non-bool deleted field", func(o *CollectionOptions) { o.DeletedField = "Priority" }},
		{"unknown filter field", func(o *CollectionOptions) { o.DefaultFilter = Where("Owner", OpEqual, "me") }},
		{"unknown filter operator", func(o *CollectionOptions) { o.DefaultFilter = Where("Title", Operator("~"), "x") }},
		{"filter without value", func(o *CollectionOptions) { o.DefaultFilter = Where("Title", OpEqual, nil) }},
		{"malformed IN", func(o *CollectionOptions) { o.DefaultFilter = Where("Priority", OpIn, 3) }},
		{"empty composite", func(o *CollectionOptions) { o.DefaultFilter = CompositeCondition{Logic: LogicAnd} }},
		{"unknown sort field", func(o *CollectionOptions) { o.SortField = "Created" }},
		{"unknown sort direction", func(o *CollectionOptions) { o.SortDirection = "UP" }},
		{"unknown searchable field", func(o *CollectionOptions) { o.SearchableFields = []string{"Summary"} }},
		{"negative page size", func(o *CollectionOptions) { o.PageSize = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := noteOptions()
			tt.modify(&opts)
			_, err := NewDescriptor[Note](opts)
			require.Error(t, err)
			assert.True(t, IsConfiguration(err), "expected configuration error, got %v", err)
		})
	}
}

func TestMustDescriptorPanics(t *testing.T) {
	assert.Panics(t, func() {
		MustDescriptor[Note](CollectionOptions{IDField: "Missing"})
	})
}

func TestDescriptorAccessors(t *testing.T) {
	desc := MustDescriptor[Note](noteOptions())
	note := &Note{ID: 7, Title: "Groceries", IsDeleted: true}

	assert.Equal(t, 7, desc.ID(note))
	assert.True(t, desc.Deleted(note))
	assert.False(t, desc.IsNew(note))
	assert.True(t, desc.IsNew(desc.New()))
	assert.Nil(t, desc.ID(nil))

	title, err := desc.Field(note, "Title")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", title)

	_, err = desc.Field(note, "Missing")
	assert.True(t, IsConfiguration(err))

	require.NoError(t, desc.SetID(note, int64(9)))
	assert.Equal(t, 9, note.ID)

	desc.SetDeleted(note, false)
	assert.False(t, note.IsDeleted)

	require.NoError(t, desc.SetField(note, "Priority", int64(3)))
	assert.Equal(t, 3, note.Priority)
	assert.True(t, IsInvalidArgument(desc.SetField(note, "Priority", "high")))

	get := desc.Getter(note)
	v, ok := get("Title")
	assert.True(t, ok)
	assert.Equal(t, "Groceries", v)
	_, ok = get("Nope")
	assert.False(t, ok)
}

func TestDescriptorWithoutDeletedField(t *testing.T) {
	desc := MustDescriptor[Tag](CollectionOptions{IDField: "Code"})
	tag := &Tag{Code: "go"}

	assert.False(t, desc.Deleted(tag))
	desc.SetDeleted(tag, true)
	assert.Equal(t, Tag{Code: "go"}, *tag)
}

func TestNormalizeID(t *testing.T) {
	notes := MustDescriptor[Note](noteOptions())
	tags := MustDescriptor[Tag](CollectionOptions{IDField: "Code"})

	type code string

	tests := []struct {
		name    string
		desc    *Collection
		in      interface{}
		want    interface{}
		wantErr bool
	}{
		{"exact int", notes.Collection, 5, 5, false},
		{"int64 to int", notes.Collection, int64(5), 5, false},
		{"uint8 to int", notes.Collection, uint8(5), 5, false},
		{"negative to int", notes.Collection, int32(-2), -2, false},
		{"string for int", notes.Collection, "5", nil, true},
		{"float for int", notes.Collection, 5.0, nil, true},
		{"nil", notes.Collection, nil, nil, true},
		{"exact string", tags.Collection, "go", "go", false},
		{"named string", tags.Collection, code("go"), "go", false},
		{"int for string", tags.Collection, 5, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.desc.NormalizeID(tt.in)
			if tt.wantErr {
				assert.True(t, IsInvalidArgument(err), "expected invalid argument, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeIDOverflow(t *testing.T) {
	type small struct {
		ID uint8
	}
	desc := MustDescriptor[small](CollectionOptions{IDField: "ID"})

	_, err := desc.NormalizeID(300)
	assert.True(t, IsInvalidArgument(err))
	_, err = desc.NormalizeID(-1)
	assert.True(t, IsInvalidArgument(err))

	got, err := desc.NormalizeID(200)
	require.NoError(t, err)
	assert.Equal(t, uint8(200), got)
}

func TestIsZeroID(t *testing.T) {
	assert.True(t, IsZeroID(nil))
	assert.True(t, IsZeroID(0))
	assert.True(t, IsZeroID(""))
	assert.False(t, IsZeroID(1))
	assert.False(t, IsZeroID("a"))
}
