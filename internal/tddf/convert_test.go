package tddf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertNumeric_ImpliedDecimal(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		scale int
		want  float64
	}{
		{"scale 0", "12345", 0, 12345},
		{"scale 1", "12345", 1, 1234.5},
		{"scale 2 zero padded", "000000012345", 2, 123.45},
		{"scale 3", "12345", 3, 12.345},
		{"scale 4", "001500", 4, 0.15},
		{"negative sign", "-12345", 2, -123.45},
		{"positive sign", "+100", 2, 1.00},
		{"all zeros", "000000000000", 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := convertNumeric(tt.raw, tt.scale)
			require.True(t, ok)
			assert.InDelta(t, tt.want, v.(float64), 1e-9)
		})
	}
}

func TestConvertNumeric_Unparseable(t *testing.T) {
	for _, raw := range []string{"ABC", "12A45", "--1", "1 2"} {
		_, ok := convertNumeric(raw, 2)
		assert.False(t, ok, "expected %q to be absent", raw)
	}
}

func TestConvertDate_Lenient(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"12252024", "2024-12-25"},
		{"01012000", "2000-01-01"},
		// Filler dates pass through without calendar validation. This is
		// the historical passthrough behavior, not a bug to fix here.
		{"99999999", "9999-99-99"},
		{"13452024", "2024-13-45"},
	}

	for _, tt := range tests {
		v, ok := convertDate(tt.raw, false)
		require.True(t, ok, tt.raw)
		assert.Equal(t, tt.want, v)
	}
}

func TestConvertDate_WrongLengthAbsent(t *testing.T) {
	for _, raw := range []string{"", "1225202", "122520244", "12/25/24"} {
		_, ok := convertDate(raw, false)
		assert.False(t, ok, "expected %q to be absent", raw)
	}
}

func TestConvertDate_Strict(t *testing.T) {
	v, ok := convertDate("12252024", true)
	require.True(t, ok)
	assert.Equal(t, "2024-12-25", v)

	for _, raw := range []string{"99999999", "13012024", "02302024", "00152024", "ABCDEFGH"} {
		_, ok := convertDate(raw, true)
		assert.False(t, ok, "expected %q to be rejected in strict mode", raw)
	}
}

func TestExtractField_Bounds(t *testing.T) {
	def := FieldDef{Name: "f", Start: 10, End: 20, Type: TypeText}

	// Start beyond line length: absent.
	_, ok := extractField("short", def, Options{})
	assert.False(t, ok)

	// Line shorter than end position: truncated slice, never a read past
	// the end of the string.
	v, ok := extractField("123456789ABC", def, Options{})
	require.True(t, ok)
	assert.Equal(t, "ABC", v)

	// All-space slice: absent, not empty string.
	_, ok = extractField("123456789           ", def, Options{})
	assert.False(t, ok)
}

func TestExtractField_NumericSpacesAbsentNotZero(t *testing.T) {
	def := FieldDef{Name: "amt", Start: 1, End: 12, Type: TypeNumeric, Scale: 2}
	_, ok := extractField("            ", def, Options{})
	assert.False(t, ok)
}
