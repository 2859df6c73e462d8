package ingest

import (
	"fmt"
	"strings"
)

// Field is the canonical internal name of a data column, independent of
// the raw header spelling found in an export.
type Field string

const (
	FieldService      Field = "service"
	FieldCategory     Field = "category"
	FieldUnitCost     Field = "unit_cost"
	FieldTransactions Field = "transaction_count"
	FieldRevenue      Field = "total_revenue"
	FieldDate         Field = "issuance_date"
	FieldCanceled     Field = "canceled_count"
)

// Schema maps each canonical field to an ordered list of acceptable
// header spellings. The exports come from a system whose encoding is
// not stable, so every field carries at least one ASCII-safe spelling
// and the mis-encoded variants observed so far. The accepted spellings
// are data, not code: callers may extend or replace them per field.
type Schema struct {
	spellings map[Field][]string
	optional  map[Field]bool
}

// DefaultSchema returns the spellings observed in real consular
// exports, including the replacement-character variants produced by
// Latin-1/UTF-8 mismatches. The canceled-count column is optional;
// every other field must bind for a file to be accepted.
func DefaultSchema() *Schema {
	return &Schema{
		spellings: map[Field][]string{
			FieldService:      {"Servicio"},
			FieldCategory:     {"Articulo", "Artículo", "Art�culo"},
			FieldUnitCost:     {"Derechos"},
			FieldTransactions: {"No. de tramites", "No. de trámites", "No. de tr�mites"},
			FieldRevenue:      {"Importe USD"},
			FieldDate:         {"Fecha recaudacion", "Fecha recaudación", "Fecha recaudaci�n"},
			FieldCanceled:     {"No. cancelados", "No. de cancelados"},
		},
		optional: map[Field]bool{
			FieldCanceled: true,
		},
	}
}

// SetSpellings replaces the acceptable spellings for one field.
func (s *Schema) SetSpellings(f Field, spellings ...string) {
	s.spellings[f] = spellings
}

// AddSpellings appends further acceptable spellings for one field.
func (s *Schema) AddSpellings(f Field, spellings ...string) {
	s.spellings[f] = append(s.spellings[f], spellings...)
}

// Fields returns the canonical fields the schema knows about.
func (s *Schema) Fields() []Field {
	return []Field{
		FieldService, FieldCategory, FieldUnitCost,
		FieldTransactions, FieldRevenue, FieldDate, FieldCanceled,
	}
}

// Binding maps each bound canonical field to the header actually
// present in the input. Optional fields that did not bind are absent.
type Binding map[Field]string

// StructuralValidationError reports every required canonical field for
// which no acceptable spelling was found, along with the headers that
// were actually present, for diagnostics. It is fatal for the file and
// is raised before any row is processed.
type StructuralValidationError struct {
	Missing []Field
	Headers []string
}

func (e *StructuralValidationError) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = string(f)
	}
	return fmt.Sprintf("missing required columns: %s (headers present: %s)",
		strings.Join(names, ", "), strings.Join(e.Headers, ", "))
}

// Validate inspects the header row and binds each canonical field to
// the first header matching any of its acceptable spellings. It never
// coerces values; type coercion belongs to Normalize.
func (s *Schema) Validate(headers []string) (Binding, error) {
	trimmed := make([]string, len(headers))
	for i, h := range headers {
		trimmed[i] = strings.TrimSpace(h)
	}

	binding := make(Binding, len(s.spellings))
	var missing []Field
	for _, field := range s.Fields() {
		header, ok := s.bind(field, trimmed)
		if ok {
			binding[field] = header
			continue
		}
		if !s.optional[field] {
			missing = append(missing, field)
		}
	}

	if len(missing) > 0 {
		return nil, &StructuralValidationError{Missing: missing, Headers: trimmed}
	}
	return binding, nil
}

func (s *Schema) bind(f Field, headers []string) (string, bool) {
	for _, spelling := range s.spellings[f] {
		for _, h := range headers {
			if h == spelling {
				return h, true
			}
		}
	}
	return "", false
}
