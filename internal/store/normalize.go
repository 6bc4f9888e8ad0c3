// ABOUTME: Text normalization shared by knowledge writes and candidate matching
// ABOUTME: Lowercases and folds Spanish diacritics to plain ASCII

package store

import "strings"

// diacriticFolder maps accented Spanish characters to their plain ASCII forms
// so "atención" and "atencion" compare equal after folding.
var diacriticFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u",
	"ñ", "n", "Ñ", "n", "ü", "u", "Ü", "u",
)

// NormalizeText lowercases text and folds diacritics. Knowledge rows persist
// shadow columns built with this function and candidate matching runs against
// those, because SQLite's LIKE and lower() are ASCII-only and would otherwise
// never match accented text against folded search terms.
func NormalizeText(text string) string {
	return diacriticFolder.Replace(strings.ToLower(text))
}
