package snowflake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier_Valid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "analytics", "ANALYTICS"},
		{"already upper", "ANALYTICS", "ANALYTICS"},
		{"leading underscore", "_staging", "_STAGING"},
		{"digits and dollar", "tbl_2024$v2", "TBL_2024$V2"},
		{"single letter", "x", "X"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateIdentifier("table", tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateIdentifier_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"leading digit", "1table"},
		{"leading dollar", "$table"},
		{"embedded space", "my table"},
		{"quote injection", `my"table`},
		{"semicolon injection", "t; DROP TABLE users"},
		{"hyphen", "my-table"},
		{"dot qualified", "db.schema"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateIdentifier("table", tt.in)
			require.Error(t, err)
			assert.Empty(t, got)
			assert.True(t, IsKind(err, KindInvalidIdentifier))
			assert.Contains(t, err.Error(), "table")
		})
	}
}
