package chunker

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DefaultLabel is returned when no keyword or path segment matches.
const DefaultLabel = "general"

// classifyWindow bounds how much chunk text participates in classification.
const classifyWindow = 500

// categorySet associates a category with its trigger keywords. Declaration
// order matters: the first category with any match wins.
type categorySet struct {
	name     string
	keywords []string
}

var categoryKeywords = []categorySet{
	{"procedure", []string{"procedure", "process", "etape", "workflow", "instruction"}},
	{"contrat", []string{"contrat", "contract", "accord", "convention", "avenant"}},
	{"rh", []string{"ressources humaines", "rh", "conge", "paie", "recrutement", "formation"}},
	{"technique", []string{"technique", "specification", "architecture", "api", "systeme"}},
	{"finance", []string{"budget", "facture", "comptabilite", "finance", "devis", "tresorerie"}},
	{"juridique", []string{"juridique", "legal", "reglementation", "conformite", "gdpr", "rgpd"}},
	{"commercial", []string{"commercial", "client", "vente", "offre", "proposition"}},
}

var departments = []string{"rh", "finance", "juridique", "technique", "commercial", "direction"}

// Classify assigns a category from the filename plus the head of the chunk
// text, by case-insensitive substring match against the ordered keyword sets.
func Classify(filename, content string) string {
	if len(content) > classifyWindow {
		// Back the cut up to a rune boundary so accented text never leaves
		// a partial byte sequence in the window.
		cut := classifyWindow
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}
	text := strings.ToLower(filename + " " + content)
	for _, cs := range categoryKeywords {
		for _, kw := range cs.keywords {
			if strings.Contains(text, kw) {
				return cs.name
			}
		}
	}
	return DefaultLabel
}

// Department infers the owning department from the document path, matching
// path segments against a fixed vocabulary.
func Department(path string) string {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		part = strings.ToLower(part)
		for _, dept := range departments {
			if strings.Contains(part, dept) {
				return dept
			}
		}
	}
	return DefaultLabel
}
