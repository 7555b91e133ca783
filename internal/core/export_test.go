package core

import (
	"encoding/csv"
	"reflect"
	"strings"
	"testing"
)

var sampleOutcomes = []Outcome{
	Success{Query: "France", Code: "FR", Name: "French Republic"},
	NotFound{Query: "Atlantis", Reason: "Country not found: Atlantis"},
	Error{Query: "Chile", Reason: "resolver unavailable"},
	Skipped{Reason: SkipReasonEmpty},
}

func TestSummarize(t *testing.T) {
	got := Summarize(sampleOutcomes)
	want := BatchSummary{Total: 4, Success: 1, NotFound: 1, Error: 1, Skipped: 1}
	if got != want {
		t.Errorf("Summarize() = %+v, want %+v", got, want)
	}
	if got.Failed() != 2 {
		t.Errorf("Failed() = %d, want 2", got.Failed())
	}
	if empty := Summarize(nil); empty != (BatchSummary{}) {
		t.Errorf("Summarize(nil) = %+v, want zero", empty)
	}
}

func TestExport(t *testing.T) {
	got := ExportString(sampleOutcomes, ExportOptions{})
	want := `"Query","ISO Code","Official Name","Status","Error"` + "\n" +
		`"France","FR","French Republic","success",""` + "\n" +
		`"Atlantis","","","not_found","Country not found: Atlantis"` + "\n" +
		`"Chile","","","error","resolver unavailable"` + "\n" +
		`"","","","skipped","empty value"` + "\n"
	if got != want {
		t.Errorf("Export() =\n%s\nwant\n%s", got, want)
	}
}

func TestExport_Idempotent(t *testing.T) {
	a := ExportString(sampleOutcomes, ExportOptions{})
	b := ExportString(sampleOutcomes, ExportOptions{})
	if a != b {
		t.Error("repeated exports differ")
	}
}

func TestExport_HeaderOnlyForNoOutcomes(t *testing.T) {
	got := ExportString(nil, ExportOptions{})
	if got != `"Query","ISO Code","Official Name","Status","Error"`+"\n" {
		t.Errorf("Export(nil) = %q", got)
	}
}

func TestExport_QuoteEscaping(t *testing.T) {
	outcomes := []Outcome{
		Success{Query: `Korea "South", Republic of`, Code: "KR", Name: "Republic of Korea"},
	}

	t.Run("default doubles embedded quotes and re-parses", func(t *testing.T) {
		text := ExportString(outcomes, ExportOptions{})
		records, err := csv.NewReader(strings.NewReader(text)).ReadAll()
		if err != nil {
			t.Fatalf("export does not re-parse: %v", err)
		}
		want := []string{`Korea "South", Republic of`, "KR", "Republic of Korea", "success", ""}
		if !reflect.DeepEqual(records[1], want) {
			t.Errorf("record = %q, want %q", records[1], want)
		}
	})

	t.Run("legacy leaves quotes as is", func(t *testing.T) {
		text := ExportString(outcomes, ExportOptions{LegacyQuoting: true})
		line := strings.Split(text, "\n")[1]
		want := `"Korea "South", Republic of","KR","Republic of Korea","success",""`
		if line != want {
			t.Errorf("line = %q, want %q", line, want)
		}
	})
}

func TestViews(t *testing.T) {
	views := Views(sampleOutcomes)
	if len(views) != 4 {
		t.Fatalf("got %d views, want 4", len(views))
	}
	if views[0].Row != 1 || views[0].Code != "FR" || views[0].Status != KindSuccess {
		t.Errorf("views[0] = %+v", views[0])
	}
	if views[3].Status != KindSkipped || views[3].Query != "" {
		t.Errorf("views[3] = %+v", views[3])
	}
}
