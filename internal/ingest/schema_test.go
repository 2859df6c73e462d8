package ingest

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateBindsASCIIAndMisencodedSpellings(t *testing.T) {
	schema := DefaultSchema()

	ascii := []string{"Servicio", "Articulo", "Derechos", "No. de tramites", "Importe USD", "Fecha recaudacion", "No. cancelados"}
	mojibake := []string{"Servicio", "Art�culo", "Derechos", "No. de tr�mites", "Importe USD", "Fecha recaudaci�n", "No. cancelados"}

	for name, headers := range map[string][]string{"ascii": ascii, "mojibake": mojibake} {
		binding, err := schema.Validate(headers)
		if err != nil {
			t.Fatalf("%s headers: %v", name, err)
		}
		for _, f := range []Field{FieldService, FieldCategory, FieldUnitCost, FieldTransactions, FieldRevenue, FieldDate, FieldCanceled} {
			if _, ok := binding[f]; !ok {
				t.Fatalf("%s headers: field %s not bound", name, f)
			}
		}
	}
}

func TestValidateReportsAllMissingFields(t *testing.T) {
	schema := DefaultSchema()
	headers := []string{"Servicio", "Importe USD", "Concepto"}

	_, err := schema.Validate(headers)
	if err == nil {
		t.Fatalf("expected structural validation error")
	}
	var sve *StructuralValidationError
	if !errors.As(err, &sve) {
		t.Fatalf("expected *StructuralValidationError, got %T", err)
	}
	if len(sve.Missing) != 4 {
		t.Fatalf("expected 4 missing fields, got %v", sve.Missing)
	}
	if !strings.Contains(sve.Error(), "Concepto") {
		t.Fatalf("error should list headers present: %v", sve)
	}
}

func TestValidateCanceledIsOptional(t *testing.T) {
	schema := DefaultSchema()
	headers := []string{"Servicio", "Articulo", "Derechos", "No. de tramites", "Importe USD", "Fecha recaudacion"}

	binding, err := schema.Validate(headers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := binding[FieldCanceled]; ok {
		t.Fatalf("canceled should be unbound when absent")
	}
}

func TestValidateCustomSpellings(t *testing.T) {
	schema := DefaultSchema()
	schema.AddSpellings(FieldRevenue, "Importe Total USD")
	headers := []string{"Servicio", "Articulo", "Derechos", "No. de tramites", "Importe Total USD", "Fecha recaudacion"}

	binding, err := schema.Validate(headers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if binding[FieldRevenue] != "Importe Total USD" {
		t.Fatalf("expected custom spelling to bind, got %q", binding[FieldRevenue])
	}
}

func TestValidateFirstSpellingWins(t *testing.T) {
	schema := DefaultSchema()
	// Both an accentuated and an ASCII category header: the spelling
	// listed first in the schema takes precedence.
	headers := []string{"Servicio", "Artículo", "Articulo", "Derechos", "No. de tramites", "Importe USD", "Fecha recaudacion"}
	binding, err := schema.Validate(headers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if binding[FieldCategory] != "Articulo" {
		t.Fatalf("expected first listed spelling to bind, got %q", binding[FieldCategory])
	}
}
