package extract

import (
	"reflect"
	"testing"

	"github.com/platinummonkey/oris/internal/models"
)

func TestExtract_InvoiceLine(t *testing.T) {
	text := "Contact: a@b.com, le 12/05/2024, montant 45,50 €"

	got := Extract(text, models.DocumentTypePDF)

	want := &models.ExtractedFields{
		Dates:   []string{"12/05/2024"},
		Emails:  []string{"a@b.com"},
		Amounts: []string{"45,50"},
		Stats:   models.TextStats{Characters: 48, Words: 7, Lines: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %+v, want %+v", got, want)
	}
	if got.Phones != nil {
		t.Errorf("Phones should be omitted, got %v", got.Phones)
	}
}

func TestExtract_Matchers(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		field func(*models.ExtractedFields) []string
		want  []string
	}{
		{
			name:  "day first and year first dates",
			text:  "du 03.11.2023 au 2024-01-15",
			field: func(f *models.ExtractedFields) []string { return f.Dates },
			want:  []string{"03.11.2023", "2024-01-15"},
		},
		{
			name:  "french month names ignore case",
			text:  "Signé le 3 Janvier 2024 et le 14 août 2023",
			field: func(f *models.ExtractedFields) []string { return f.Dates },
			want:  []string{"14 août 2023", "3 Janvier 2024"},
		},
		{
			name:  "duplicate dates collapse",
			text:  "12/05/2024 puis encore 12/05/2024",
			field: func(f *models.ExtractedFields) []string { return f.Dates },
			want:  []string{"12/05/2024"},
		},
		{
			name:  "phone numbers",
			text:  "Tel 0612345678 ou +33145678901, pas 0012345678",
			field: func(f *models.ExtractedFields) []string { return f.Phones },
			want:  []string{"0612345678", "+33145678901"},
		},
		{
			name:  "emails",
			text:  "écrire à jean.dupont@mairie-paris.fr ou x@y.z",
			field: func(f *models.ExtractedFields) []string { return f.Emails },
			want:  []string{"jean.dupont@mairie-paris.fr"},
		},
		{
			name:  "amounts in several spellings",
			text:  "Total : 123.45 EUR, acompte 30 euros, solde 12€ et 7 Euro",
			field: func(f *models.ExtractedFields) []string { return f.Amounts },
			want:  []string{"123.45", "30", "12", "7"},
		},
		{
			name:  "number without currency is not an amount",
			text:  "reference 4550 page 3",
			field: func(f *models.ExtractedFields) []string { return f.Amounts },
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.field(Extract(tt.text, ""))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtract_EmptyText(t *testing.T) {
	got := Extract("", models.DocumentTypeScan)
	if got.Dates != nil || got.Phones != nil || got.Emails != nil || got.Amounts != nil {
		t.Errorf("expected no matches, got %+v", got)
	}
	if got.Stats != (models.TextStats{Characters: 0, Words: 0, Lines: 1}) {
		t.Errorf("Stats = %+v", got.Stats)
	}
}

func TestExtract_Idempotent(t *testing.T) {
	text := "Facture du 01/09/2025\nMontant total : 1 200,00 €\ncontact@exemple.fr"
	a := Extract(text, models.DocumentTypeImage)
	b := Extract(text, models.DocumentTypeImage)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Extract is not deterministic: %+v vs %+v", a, b)
	}
	if a.Stats.Lines != 3 {
		t.Errorf("Lines = %d, want 3", a.Stats.Lines)
	}
}

func TestMerge(t *testing.T) {
	p1 := Extract("le 12/05/2024 a@b.com", "")
	p2 := Extract("le 12/05/2024 et 01/06/2024, 10 €", "")

	merged := Merge(p1, nil, p2)

	if !reflect.DeepEqual(merged.Dates, []string{"01/06/2024", "12/05/2024"}) {
		t.Errorf("Dates = %v", merged.Dates)
	}
	if !reflect.DeepEqual(merged.Emails, []string{"a@b.com"}) {
		t.Errorf("Emails = %v", merged.Emails)
	}
	if !reflect.DeepEqual(merged.Amounts, []string{"10"}) {
		t.Errorf("Amounts = %v", merged.Amounts)
	}
	if merged.Stats.Words != p1.Stats.Words+p2.Stats.Words {
		t.Errorf("Words = %d", merged.Stats.Words)
	}
}
