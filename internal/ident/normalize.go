// Package ident turns sequence numbers and user-supplied slugs into short
// link identifiers. Characters that are easy to misread are collapsed onto a
// single representative so that "C0OL" and "cool" address the same link.
package ident

// confusables lists each group as (sources, representative). Every byte in
// sources maps to the representative during normalization.
var confusables = []struct {
	from string
	to   byte
}{
	{"C", 'c'},
	{"Ilj17", 'i'},
	{"O0", 'o'},
	{"P", 'p'},
	{"S5", 's'},
	{"UVvr", 'u'},
	{"W", 'w'},
	{"X", 'x'},
	{"Z2", 'z'},
	{"q", '9'},
}

var table = buildTable()

func buildTable() [256]byte {
	var t [256]byte
	for i := range t {
		t[i] = byte(i)
	}
	for _, g := range confusables {
		for i := 0; i < len(g.from); i++ {
			t[g.from[i]] = g.to
		}
	}
	return t
}

// Normalize maps every confusable byte of raw onto its representative and
// leaves all other bytes untouched. Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	b := []byte(raw)
	changed := false
	for i, c := range b {
		if n := table[c]; n != c {
			b[i] = n
			changed = true
		}
	}
	if !changed {
		return raw
	}
	return string(b)
}

// Alphabet returns the symbols used for generated codes: uppercase, then
// lowercase, then digits, without any member of a confusable group.
func Alphabet() string { return alphabet }

var alphabet = buildAlphabet()

func buildAlphabet() string {
	var excluded [256]bool
	for _, g := range confusables {
		excluded[g.to] = true
		for i := 0; i < len(g.from); i++ {
			excluded[g.from[i]] = true
		}
	}
	out := make([]byte, 0, 62)
	for _, r := range []struct{ lo, hi byte }{{'A', 'Z'}, {'a', 'z'}, {'0', '9'}} {
		for c := r.lo; c <= r.hi; c++ {
			if !excluded[c] {
				out = append(out, c)
			}
		}
	}
	return string(out)
}
