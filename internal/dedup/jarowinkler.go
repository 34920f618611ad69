package dedup

// JaroWinkler computes the Jaro-Winkler similarity of a and b in
// [0, 1]. No third-party string-similarity library exists anywhere in
// the retrieved corpus (agext/levenshtein computes edit distance, a
// different metric than the one spec §4.6 names), so this is a small,
// dependency-free implementation following Winkler's standard prefix
// boost (scaling factor 0.1, capped at a 4-character common prefix).
func JaroWinkler(a, b string) float64 {
	j := jaro(a, b)
	if j == 0 {
		return 0
	}
	prefix := commonPrefixLen(a, b, 4)
	return j + float64(prefix)*0.1*(1-j)
}

func jaro(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 && lb == 0 {
		return 1
	}
	if la == 0 || lb == 0 {
		return 0
	}

	matchDistance := max(la, lb)/2 - 1
	if matchDistance < 0 {
		matchDistance = 0
	}

	aMatches := make([]bool, la)
	bMatches := make([]bool, lb)

	matches := 0
	for i := 0; i < la; i++ {
		start := max(0, i-matchDistance)
		end := min(i+matchDistance+1, lb)
		for j := start; j < end; j++ {
			if bMatches[j] || ra[i] != rb[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := 0; i < la; i++ {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if ra[i] != rb[k] {
			transpositions++
		}
		k++
	}
	t := float64(transpositions) / 2

	m := float64(matches)
	return (m/float64(la) + m/float64(lb) + (m-t)/m) / 3
}

func commonPrefixLen(a, b string, maxLen int) int {
	ra, rb := []rune(a), []rune(b)
	n := 0
	for n < maxLen && n < len(ra) && n < len(rb) && ra[n] == rb[n] {
		n++
	}
	return n
}
