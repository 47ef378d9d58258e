package budget

import "unicode/utf8"

// Compress keeps the newest complete entries whose combined length, counting
// one separator per entry, fits maxChars. Entries are never cut; when even the
// newest entry is too long nothing is kept. maxChars <= 0 keeps everything.
func Compress(entries []string, maxChars int) (kept []string, dropped int) {
	if maxChars <= 0 {
		return entries, 0
	}
	total := 0
	first := len(entries)
	for i := len(entries) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(entries[i]) + 1
		if total+n > maxChars {
			break
		}
		total += n
		first = i
	}
	return entries[first:], first
}
