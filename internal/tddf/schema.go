// Package tddf decodes TDDF fixed-width settlement files into typed JSON
// records. Field positions follow the payment network's transmission data
// file layout and are the wire contract: moving a single (start, end) pair
// silently shifts every downstream column.
package tddf

import "gopkg.in/yaml.v3"

// ValueType selects the conversion applied to a field's raw slice.
type ValueType string

const (
	TypeText    ValueType = "text"
	TypeNumeric ValueType = "numeric"
	TypeDate    ValueType = "date"
)

// FieldDef describes how to carve one named field out of a fixed-width line.
// Start and End are 1-based inclusive character positions.
type FieldDef struct {
	Name  string    `yaml:"name"`
	Start int       `yaml:"start"`
	End   int       `yaml:"end"`
	Type  ValueType `yaml:"type"`
	Scale int       `yaml:"scale,omitempty"` // implied decimal digits, numeric only
}

// RecordType is the 2-character code at positions 18-19 of every line.
type RecordType string

const (
	RecordBatchHeader     RecordType = "BH"
	RecordDetail          RecordType = "DT"
	RecordPurchasingCard1 RecordType = "P1"
	RecordPurchasingCard2 RecordType = "P2"
)

// recordTypeOffset is the 0-based index of the record identifier within a line.
// The identifier occupies positions 18-19 (1-based inclusive).
const recordTypeOffset = 17

// MinLineLength is the shortest line that can carry a record identifier.
const MinLineLength = recordTypeOffset + 2

// headerFields is the leading block shared by every record type, and the
// entire schema for record types we don't recognize.
var headerFields = []FieldDef{
	{Name: "sequenceNumber", Start: 1, End: 8, Type: TypeNumeric},
	{Name: "entryRunNumber", Start: 9, End: 13, Type: TypeNumeric},
	{Name: "sequenceWithinRun", Start: 14, End: 17, Type: TypeNumeric},
	{Name: "recordIdentifier", Start: 18, End: 19, Type: TypeText},
}

// batchHeaderFields lays out the BH (batch header) record: one per settled
// batch, carrying the deposit totals.
var batchHeaderFields = append(headerFields[:len(headerFields):len(headerFields)],
	FieldDef{Name: "bankNumber", Start: 20, End: 23, Type: TypeText},
	FieldDef{Name: "merchantAccountNumber", Start: 24, End: 39, Type: TypeText},
	FieldDef{Name: "batchDate", Start: 40, End: 47, Type: TypeDate},
	FieldDef{Name: "batchNumber", Start: 48, End: 50, Type: TypeNumeric},
	FieldDef{Name: "batchRecordCount", Start: 51, End: 56, Type: TypeNumeric},
	FieldDef{Name: "netDepositAmount", Start: 57, End: 68, Type: TypeNumeric, Scale: 2},
	FieldDef{Name: "grossSalesAmount", Start: 69, End: 80, Type: TypeNumeric, Scale: 2},
	FieldDef{Name: "returnsAmount", Start: 81, End: 92, Type: TypeNumeric, Scale: 2},
	FieldDef{Name: "salesCount", Start: 93, End: 98, Type: TypeNumeric},
	FieldDef{Name: "returnsCount", Start: 99, End: 104, Type: TypeNumeric},
	FieldDef{Name: "depositDate", Start: 105, End: 112, Type: TypeDate},
	FieldDef{Name: "currencyCode", Start: 113, End: 115, Type: TypeText},
)

// detailFields lays out the DT (detail transaction) record. DT lines are 242
// characters wide; terminalIdNumber is the last field on the line.
var detailFields = append(headerFields[:len(headerFields):len(headerFields)],
	FieldDef{Name: "bankNumber", Start: 20, End: 23, Type: TypeText},
	FieldDef{Name: "merchantAccountNumber", Start: 24, End: 39, Type: TypeText},
	FieldDef{Name: "transactionDate", Start: 40, End: 47, Type: TypeDate},
	FieldDef{Name: "transactionAmount", Start: 48, End: 59, Type: TypeNumeric, Scale: 2},
	FieldDef{Name: "cardholderAccountNumber", Start: 60, End: 82, Type: TypeText},
	FieldDef{Name: "authorizationNumber", Start: 83, End: 88, Type: TypeText},
	FieldDef{Name: "transactionCode", Start: 89, End: 90, Type: TypeText},
	FieldDef{Name: "cardType", Start: 91, End: 92, Type: TypeText},
	FieldDef{Name: "referenceNumber", Start: 93, End: 115, Type: TypeText},
	FieldDef{Name: "batchJulianDate", Start: 116, End: 119, Type: TypeNumeric},
	FieldDef{Name: "merchantCategoryCode", Start: 120, End: 123, Type: TypeText},
	FieldDef{Name: "authorizationDate", Start: 124, End: 131, Type: TypeDate},
	FieldDef{Name: "cashBackAmount", Start: 132, End: 143, Type: TypeNumeric, Scale: 2},
	FieldDef{Name: "surchargeAmount", Start: 144, End: 155, Type: TypeNumeric, Scale: 2},
	FieldDef{Name: "posEntryMode", Start: 156, End: 157, Type: TypeText},
	FieldDef{Name: "authorizationSource", Start: 158, End: 159, Type: TypeText},
	FieldDef{Name: "acquirerReferenceNumber", Start: 160, End: 174, Type: TypeText},
	FieldDef{Name: "merchantName", Start: 175, End: 199, Type: TypeText},
	FieldDef{Name: "merchantCity", Start: 200, End: 212, Type: TypeText},
	FieldDef{Name: "merchantState", Start: 213, End: 214, Type: TypeText},
	FieldDef{Name: "interchangeFee", Start: 215, End: 224, Type: TypeNumeric, Scale: 2},
	FieldDef{Name: "interchangeRate", Start: 225, End: 230, Type: TypeNumeric, Scale: 4},
	FieldDef{Name: "planCode", Start: 231, End: 234, Type: TypeText},
	FieldDef{Name: "terminalIdNumber", Start: 235, End: 242, Type: TypeText},
)

// purchasingCardFields lays out the P1/P2 (purchasing card line item)
// extension records. Both types share one layout.
var purchasingCardFields = append(headerFields[:len(headerFields):len(headerFields)],
	FieldDef{Name: "bankNumber", Start: 20, End: 23, Type: TypeText},
	FieldDef{Name: "merchantAccountNumber", Start: 24, End: 39, Type: TypeText},
	FieldDef{Name: "referenceNumber", Start: 40, End: 62, Type: TypeText},
	FieldDef{Name: "itemDescription", Start: 63, End: 87, Type: TypeText},
	FieldDef{Name: "itemQuantity", Start: 88, End: 99, Type: TypeNumeric, Scale: 4},
	FieldDef{Name: "unitCost", Start: 100, End: 111, Type: TypeNumeric, Scale: 2},
	FieldDef{Name: "itemTotalAmount", Start: 112, End: 123, Type: TypeNumeric, Scale: 2},
	FieldDef{Name: "taxAmount", Start: 124, End: 135, Type: TypeNumeric, Scale: 2},
	FieldDef{Name: "discountAmount", Start: 136, End: 147, Type: TypeNumeric, Scale: 2},
	FieldDef{Name: "productCode", Start: 148, End: 159, Type: TypeText},
	FieldDef{Name: "debitCreditIndicator", Start: 160, End: 161, Type: TypeText},
)

// schemas maps each known record type to its field layout. Built once at
// package init; never mutated afterwards.
var schemas = map[RecordType][]FieldDef{
	RecordBatchHeader:     batchHeaderFields,
	RecordDetail:          detailFields,
	RecordPurchasingCard1: purchasingCardFields,
	RecordPurchasingCard2: purchasingCardFields,
}

// SchemaFor returns the field layout for a record type. Unknown codes fall
// back to the shared 4-field header layout so every line yields at least the
// sequencing fields.
func SchemaFor(rt RecordType) []FieldDef {
	if s, ok := schemas[rt]; ok {
		return s
	}
	return headerFields
}

// Layouts returns the known record layouts keyed by record type code, for
// operator-facing documentation (tddf-cli decode layouts).
func Layouts() map[string][]FieldDef {
	out := make(map[string][]FieldDef, len(schemas))
	for rt, fields := range schemas {
		out[string(rt)] = fields
	}
	return out
}

// LayoutsYAML renders the known record layouts as YAML.
func LayoutsYAML() ([]byte, error) {
	return yaml.Marshal(Layouts())
}
