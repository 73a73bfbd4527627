package mapping

import (
	"testing"

	"github.com/xelth-com/reportsync/internal/models"
)

func TestNormalizeField(t *testing.T) {
	tests := map[string]string{
		"Serial Number":  "serial_number",
		"  SN ":          "sn",
		"Prüfergebnis":   "prufergebnis",
		"temp.max-value": "temp_max_value",
		"Résultat (%)":   "resultat",
		"a__b":           "a_b",
		"":               "",
	}
	for in, want := range tests {
		if got := NormalizeField(in); got != want {
			t.Errorf("NormalizeField(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGroupRows(t *testing.T) {
	rows := []models.Row{
		{RowNumber: 2, FieldName: "sn", Value: "SN002"},
		{RowNumber: 1, FieldName: "SN", Value: "SN001"},
		{RowNumber: 1, FieldName: "Result", Value: "PASS"},
		{RowNumber: 1, FieldName: "result", Value: "IGNORED"},
		{RowNumber: 2, FieldName: "result", Value: "   "},
	}

	groups := GroupRows(rows)
	if len(groups) != 2 {
		t.Fatalf("expected 2 row groups, got %d", len(groups))
	}
	if groups[0].Number != 1 || groups[1].Number != 2 {
		t.Errorf("groups not in row order: %d, %d", groups[0].Number, groups[1].Number)
	}

	if v, ok := groups[0].Value("sn"); !ok || v != "SN001" {
		t.Errorf("expected SN001, got %q (%v)", v, ok)
	}
	if v, _ := groups[0].Value("RESULT"); v != "PASS" {
		t.Errorf("first occurrence should win, got %q", v)
	}
	if _, ok := groups[1].Value("result"); ok {
		t.Error("blank value should read as absent")
	}
	if f, ok := groups[1].Lookup("result"); !ok || f.Name != "result" {
		t.Error("Lookup should still find blank fields")
	}

	fields := groups[0].Fields()
	if len(fields) != 2 || fields[0].Name != "Result" || fields[1].Name != "SN" {
		t.Errorf("unexpected field order: %+v", fields)
	}
}
