package search

import "strings"

// Score blend for the local rerank fallback. Vector similarity still
// dominates; lexical overlap breaks ties and demotes off-topic neighbours.
const (
	semanticWeight = 0.7
	keywordWeight  = 0.3
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "can": true, "could": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"with": true, "at": true, "by": true, "from": true, "as": true,
	"what": true, "where": true, "when": true, "how": true, "which": true,
	"i": true, "my": true, "me": true, "it": true, "its": true,
	"and": true, "but": true, "or": true, "not": true, "this": true,
	"that": true,
}

func combineScores(semantic, keyword float32) float32 {
	return semanticWeight*semantic + keywordWeight*keyword
}

// keywordOverlap scores how many of the query's content words appear in the
// candidate text, as a fraction of the query's content words. Returns 0..1.
func keywordOverlap(query, text string) float32 {
	queryWords := contentWords(query)
	if len(queryWords) == 0 {
		return 0
	}
	textWords := make(map[string]bool)
	for _, w := range contentWords(text) {
		textWords[w] = true
	}
	matched := 0
	for _, w := range queryWords {
		if textWords[w] {
			matched++
		}
	}
	return float32(matched) / float32(len(queryWords))
}

func contentWords(s string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, "?.,!;:'\"()-")
		if len(w) > 1 && !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}
