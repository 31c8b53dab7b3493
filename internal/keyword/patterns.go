package keyword

import "regexp"

// shapePattern pairs a keyword with the regexp that detects it in sample
// values. Order matters: detection output must be stable, so patterns are
// checked in declaration order.
type shapePattern struct {
	keyword string
	re      *regexp.Regexp
}

var shapePatterns = []shapePattern{
	{"email_pattern", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"url_pattern", regexp.MustCompile(`https?://[^\s)"']+`)},
	{"uuid_pattern", regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)},
	{"currency_pattern", regexp.MustCompile(`[$€£¥]\s?\d[\d,]*(\.\d{2})?`)},
	{"date_pattern", regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)},
	{"phone_pattern", regexp.MustCompile(`\+?\d{1,3}[\s\-.]?\(?\d{2,4}\)?[\s\-.]?\d{3,4}[\s\-.]?\d{3,4}\b`)},
	{"ip_pattern", regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)},
}

// DetectPatterns returns one pattern keyword per value shape found in the
// text, in fixed declaration order.
func DetectPatterns(text string) []string {
	var found []string
	for _, p := range shapePatterns {
		if p.re.MatchString(text) {
			found = append(found, p.keyword)
		}
	}
	return found
}
