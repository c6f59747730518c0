package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableChangeEvent_Validate(t *testing.T) {
	valid := TableChangeEvent{
		SchemaName:      "referencedata",
		TableName:       "programs",
		Columns:         []string{"id", "code"},
		PrimaryKeys:     []string{"id"},
		RowChangeEvents: []RowChangeEvent{{Values: []any{"p1", "PT"}}},
	}
	assert.NoError(t, valid.Validate())

	misaligned := valid
	misaligned.RowChangeEvents = []RowChangeEvent{{Values: []any{"p1"}}}
	assert.Error(t, misaligned.Validate())

	missingPK := valid
	missingPK.PrimaryKeys = []string{"uuid"}
	assert.Error(t, missingPK.Validate())
}

func TestTableChangeEvent_Names(t *testing.T) {
	tc := TableChangeEvent{SchemaName: "ReferenceData", TableName: "Programs", Columns: []string{"id"}}
	assert.Equal(t, "referencedata.programs", tc.QualifiedName())
	assert.Equal(t, 0, tc.ColumnIndex("id"))
	assert.Equal(t, -1, tc.ColumnIndex("code"))

	md := MasterDataTableChangeEvent{TableChangeEvents: []TableChangeEvent{tc}}
	assert.Equal(t, []string{"referencedata.programs"}, md.Tables())
}
