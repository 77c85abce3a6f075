package dedup

import (
	"regexp"
	"sort"
	"strings"
)

// Title similarity weights: edit-distance similarity dominates, key-term
// overlap corrects for reordered marketing copy.
const (
	stringWeight  = 0.7
	jaccardWeight = 0.3
)

// stopWords excluded from key-term extraction: articles, prepositions,
// and deal-marketing filler that carries no identity.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "on": {},
	"in": {}, "at": {}, "to": {}, "for": {}, "with": {}, "from": {}, "by": {},
	"up": {}, "off": {}, "sale": {}, "deal": {}, "deals": {}, "free": {},
	"now": {}, "only": {}, "save": {}, "new": {}, "best": {}, "hot": {},
	"offer": {}, "discount": {}, "shipping": {}, "today": {},
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// nameNoise are tokens that differ between spellings of the same
// merchant ("Amazon" vs "Amazon.com", "Acme" vs "Acme Inc") and are
// dropped before comparing names.
var nameNoise = map[string]struct{}{
	"com": {}, "net": {}, "org": {}, "inc": {}, "llc": {}, "ltd": {},
	"co": {}, "corp": {}, "company": {}, "store": {}, "shop": {},
	"official": {}, "online": {}, "us": {}, "usa": {},
}

// TitleSimilarity scores two titles in [0,1] as a weighted sum of
// token-sorted edit-distance similarity and Jaccard overlap of key terms.
func TitleSimilarity(a, b string) float64 {
	tokensA := tokenize(a)
	tokensB := tokenize(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	str := stringSimilarity(tokensA, tokensB)
	jac := jaccard(keyTerms(tokensA), keyTerms(tokensB))

	return stringWeight*str + jaccardWeight*jac
}

// NameSimilarity scores two merchant names in [0,1] using token-sorted
// edit-distance similarity. Used when fuzzy-matching companies before
// creating a new one.
func NameSimilarity(a, b string) float64 {
	tokensA := stripNameNoise(tokenize(a))
	tokensB := stripNameNoise(tokenize(b))
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}
	return stringSimilarity(tokensA, tokensB)
}

// stripNameNoise drops corporate filler tokens, keeping the original
// tokens when filtering would leave nothing to compare.
func stripNameNoise(tokens []string) []string {
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, noise := nameNoise[tok]; noise {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		return tokens
	}
	return kept
}

// tokenize lowercases, strips punctuation, and splits on whitespace.
func tokenize(s string) []string {
	s = nonWord.ReplaceAllString(strings.ToLower(s), " ")
	return strings.Fields(s)
}

// keyTerms filters stop words out of a token list.
func keyTerms(tokens []string) map[string]struct{} {
	terms := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		terms[tok] = struct{}{}
	}
	return terms
}

// stringSimilarity compares the token-sorted forms of two titles so
// that reordered phrasing ("50% off X" vs "X - 50% off") still matches.
func stringSimilarity(tokensA, tokensB []string) float64 {
	a := tokenSorted(tokensA)
	b := tokenSorted(tokensB)
	if a == b {
		return 1
	}

	longest := max(len(a), len(b))
	if longest == 0 {
		return 0
	}

	return 1 - float64(levenshtein(a, b))/float64(longest)
}

func tokenSorted(tokens []string) string {
	sorted := make([]string, len(tokens))
	copy(sorted, tokens)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

// jaccard computes |A∩B| / |A∪B| over key-term sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	intersection := 0
	for term := range a {
		if _, ok := b[term]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// levenshtein computes edit distance with a rolling two-row table.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
