package catalog

import (
	"container/heap"
	"sort"
	"strings"
	"unicode"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// Match tiers, best first.
const (
	TierExactCode = iota
	TierCodePrefix
	TierTitlePrefix
	TierFuzzy
)

type Result struct {
	Course   Course `json:"course"`
	Tier     int    `json:"tier"`
	Distance int    `json:"distance"`
}

func (r Result) less(o Result) bool {
	if r.Tier != o.Tier {
		return r.Tier < o.Tier
	}
	if r.Distance != o.Distance {
		return r.Distance < o.Distance
	}
	if r.Course.Code != o.Course.Code {
		return r.Course.Code < o.Course.Code
	}
	return r.Course.Section < o.Course.Section
}

// Search returns at most limit courses matching query, best first. An empty
// query lists the catalog in code order.
func (c *Catalog) Search(query string, limit int) []Result {
	if limit <= 0 {
		return nil
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		n := min(limit, len(c.courses))
		out := make([]Result, n)
		for i := range out {
			out[i] = Result{Course: c.courses[i]}
		}
		return out
	}

	dmp := diffpatch.New()
	top := &worstFirst{}
	for _, course := range c.courses {
		r, ok := rank(dmp, q, course)
		if !ok {
			continue
		}
		if top.Len() < limit {
			heap.Push(top, r)
			continue
		}
		if r.less((*top)[0]) {
			(*top)[0] = r
			heap.Fix(top, 0)
		}
	}

	out := []Result(*top)
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

func rank(dmp *diffpatch.DiffMatchPatch, q string, course Course) (Result, bool) {
	code := compact(course.Code)
	cq := compact(q)
	switch {
	case code == cq:
		return Result{Course: course, Tier: TierExactCode}, true
	case strings.HasPrefix(code, cq):
		return Result{Course: course, Tier: TierCodePrefix}, true
	}

	words := tokens(course.Title)
	if prefixesAll(tokens(q), words) {
		return Result{Course: course, Tier: TierTitlePrefix}, true
	}

	best := -1
	for _, tok := range append(words, code) {
		d := dmp.DiffLevenshtein(dmp.DiffMain(cq, tok, false))
		if best < 0 || d < best {
			best = d
		}
	}
	if best < 0 || best > maxDistance(cq) {
		return Result{}, false
	}
	return Result{Course: course, Tier: TierFuzzy, Distance: best}, true
}

// maxDistance is the number of edits a query of this length may be off by
// and still count as a fuzzy match.
func maxDistance(q string) int {
	return max(1, len([]rune(q))/3)
}

// prefixesAll reports whether every query token is a prefix of some word.
func prefixesAll(query, words []string) bool {
	if len(query) == 0 {
		return false
	}
	for _, q := range query {
		found := false
		for _, w := range words {
			if strings.HasPrefix(w, q) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func compact(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}

// worstFirst is a heap whose root is the weakest result kept so far.
type worstFirst []Result

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return h[j].less(h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(Result)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
