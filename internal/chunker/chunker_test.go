package chunker

import (
	"strings"
	"testing"
)

func TestSplitEmpty(t *testing.T) {
	if got := Split("   \n\n  ", DefaultConfig()); len(got) != 0 {
		t.Errorf("Split on blank input = %d chunks, want 0", len(got))
	}
}

func TestSplitSingleChunk(t *testing.T) {
	text := "Une procedure simple qui tient dans un seul chunk."
	chunks := Split(text, DefaultConfig())
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != text {
		t.Errorf("chunk = %q", chunks[0].Text)
	}
	if chunks[0].Index != 0 {
		t.Errorf("index = %d, want 0", chunks[0].Index)
	}
}

func TestSplitRespectsBudgetAndOrder(t *testing.T) {
	var sections []string
	for i := 0; i < 12; i++ {
		sections = append(sections, strings.Repeat("mot ", 50)) // ~200 chars each
	}
	text := strings.Join(sections, "\n\n")

	cfg := Config{ChunkSize: 500, ChunkOverlap: 100, MinChunkSize: 20}
	chunks := Split(text, cfg)

	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Text) > cfg.ChunkSize+cfg.ChunkOverlap {
			t.Errorf("chunk %d length %d exceeds budget", c.Index, len(c.Text))
		}
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
	}
}

func TestSplitOverlapCarriesContext(t *testing.T) {
	first := strings.Repeat("alpha ", 80)  // ~480 chars
	second := strings.Repeat("beta ", 80)  // ~400 chars
	text := strings.TrimSpace(first) + "\n\n" + strings.TrimSpace(second)

	cfg := Config{ChunkSize: 500, ChunkOverlap: 60, MinChunkSize: 20}
	chunks := Split(text, cfg)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(chunks))
	}
	// The second chunk must start with tail content of the first.
	if !strings.Contains(chunks[1].Text, "alpha") {
		t.Errorf("second chunk %q carries no overlap from the first", chunks[1].Text[:40])
	}
}

func TestSplitDropsNoise(t *testing.T) {
	text := "ok\n\n" + strings.Repeat("contenu utile ", 10)
	cfg := Config{ChunkSize: 1000, ChunkOverlap: 0, MinChunkSize: 20}
	chunks := Split(text, cfg)
	for _, c := range chunks {
		if len(c.Text) < cfg.MinChunkSize {
			t.Errorf("noise chunk survived: %q", c.Text)
		}
	}
}

func TestSplitOversizedSection(t *testing.T) {
	text := strings.Repeat("x", 2500) // one section, no blank lines
	cfg := Config{ChunkSize: 1000, ChunkOverlap: 100, MinChunkSize: 20}
	chunks := Split(text, cfg)
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want >= 3 for a 2500-char section", len(chunks))
	}
	var total int
	for _, c := range chunks {
		total += len(c.Text)
	}
	if total < 2500 {
		t.Errorf("content lost: recovered %d chars of 2500", total)
	}
}

func TestClassifyFactureIsFinance(t *testing.T) {
	if got := Classify("facture_mars.pdf", ""); got != "finance" {
		t.Errorf("Classify(facture) = %q, want finance", got)
	}
	if got := Classify("doc.pdf", "Veuillez trouver la facture ci-jointe."); got != "finance" {
		t.Errorf("Classify(content facture) = %q, want finance", got)
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	// "procedure" precedes "rh" in declaration order.
	if got := Classify("procedure_conge.pdf", ""); got != "procedure" {
		t.Errorf("Classify = %q, want procedure (first declared match)", got)
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	if got := Classify("CONTRAT-2024.docx", ""); got != "contrat" {
		t.Errorf("Classify = %q, want contrat", got)
	}
}

func TestClassifyDefault(t *testing.T) {
	if got := Classify("notes.txt", "rien de particulier ici"); got != DefaultLabel {
		t.Errorf("Classify = %q, want %q", got, DefaultLabel)
	}
}

func TestClassifyOnlyHeadOfContent(t *testing.T) {
	content := strings.Repeat("a", classifyWindow) + " facture"
	if got := Classify("doc.txt", content); got == "finance" {
		t.Error("keyword beyond the classification window should not match")
	}
}

func TestClassifyWindowRespectsRuneBoundaries(t *testing.T) {
	// One ASCII byte then two-byte runes puts byte 500 mid-rune; the window
	// must back up to the boundary instead of splitting the rune.
	content := "x" + strings.Repeat("é", 300)
	if got := Classify("contrat.pdf", content); got != "contrat" {
		t.Errorf("Classify = %q, want contrat", got)
	}
	if got := Classify("doc.txt", content+" facture"); got == "finance" {
		t.Error("keyword beyond the classification window should not match")
	}
}

func TestDepartmentFromPath(t *testing.T) {
	cases := map[string]string{
		"/documents/rh/conges/regles.pdf":     "rh",
		"/documents/Finance-2024/budget.xlsx": "finance",
		"/documents/divers/note.txt":          DefaultLabel,
		"C:\\docs\\juridique\\gdpr.pdf":       "juridique",
	}
	for path, want := range cases {
		if got := Department(path); got != want {
			t.Errorf("Department(%q) = %q, want %q", path, got, want)
		}
	}
}
