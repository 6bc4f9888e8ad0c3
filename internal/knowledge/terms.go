// ABOUTME: Query normalization and key-term extraction for knowledge search
// ABOUTME: Lowercases, folds Spanish diacritics and drops stopwords

package knowledge

import (
	"strings"

	"github.com/tisals/chatbot-gateway/internal/store"
)

// trimCutset holds the punctuation stripped from query tokens before matching.
const trimCutset = "¿?¡!.,;:\"'()"

// stopwords are common Spanish function and filler words that carry no search
// signal: articles, demonstratives ("esto", "eso"), indefinites ("algo") and
// chat-specific filler ("ayudame", "dime", "quiero") seen in real user queries.
var stopwords = map[string]struct{}{}

func init() {
	words := []string{
		"a", "acerca", "al", "algo", "ayuda", "ayudame", "busca", "buscame",
		"buscar", "cliente", "como", "con", "consulta", "consultar", "contacto",
		"cuanto", "cuantos", "cual", "cuales", "cuando", "dar", "de", "debo",
		"del", "desde", "detalle", "detalles", "dime", "donde", "duda",
		"durante", "el", "ella", "ello", "ellos", "es", "esa", "esas", "ese",
		"eso", "esos", "esta", "estan", "estas", "este", "esto", "estos",
		"favor", "haber", "hasta", "hay", "informacion", "informame", "info",
		"indicame", "indicarme", "ir", "la", "las", "le", "les", "lo", "los",
		"mas", "masinfo", "me", "mostrar", "mucho", "muy", "necesito", "no",
		"o", "otra", "otro", "para", "pero", "por", "porfavor", "pregunta",
		"preguntas", "puedo", "que", "quien", "quienes", "quiero", "respuestas",
		"respuesta", "saber", "se", "ser", "servicio", "sin", "soporte",
		"sobre", "solo", "son", "su", "tambien", "tanto", "tengo", "todo",
		"todos", "un", "una", "unas", "uno", "unos", "usted", "vez", "ver", "ya",
	}
	for _, w := range words {
		stopwords[w] = struct{}{}
	}
}

// Normalize lowercases text and folds diacritics for matching. It is the same
// normalization the store applies when writing knowledge rows, so query terms
// and stored shadow columns always compare in the same alphabet.
func Normalize(text string) string {
	return store.NormalizeText(text)
}

// ExtractKeyTerms returns the unique significant words of a query: normalized,
// at least three characters long and not a stopword. Order of first appearance
// is preserved.
func ExtractKeyTerms(query string) []string {
	normalized := Normalize(query)

	var terms []string
	seen := make(map[string]struct{})
	for _, word := range strings.Fields(normalized) {
		word = strings.Trim(word, trimCutset)
		if len(word) < minTermLength {
			continue
		}
		if _, isStop := stopwords[word]; isStop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		terms = append(terms, word)
	}

	return terms
}
