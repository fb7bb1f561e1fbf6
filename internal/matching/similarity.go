package matching

import (
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"supplybot/internal/domain"
)

var levenshtein = func() *metrics.Levenshtein {
	m := metrics.NewLevenshtein()
	m.CaseSensitive = false
	return m
}()

// Similarity scores two labels in [0,1]. It takes the better of a plain
// edit-distance ratio and the same ratio over alphabetically sorted tokens,
// so word order ("Ltd Acme" vs "Acme Ltd") does not count against a match.
func Similarity(a, b string) float64 {
	a = domain.NormalizeLabel(a)
	b = domain.NormalizeLabel(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	plain := strutil.Similarity(a, b, levenshtein)
	sorted := strutil.Similarity(sortTokens(a), sortTokens(b), levenshtein)
	if sorted > plain {
		return sorted
	}
	return plain
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
