package archive

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRe   = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	panRe     = regexp.MustCompile(`\b[A-Za-z]{5}[0-9]{4}[A-Za-z]\b`)
	ifscRe    = regexp.MustCompile(`\b[A-Za-z]{4}0[A-Za-z0-9]{6}\b`)
	accountRe = regexp.MustCompile(`\bTATACAP[0-9]+\b`)
	aadhaarRe = regexp.MustCompile(`\b[2-9][0-9]{3}\s?[0-9]{4}\s?[0-9]{4}\b`)
	phoneRe   = regexp.MustCompile(`(?:\+?91[-\s]?)?\b[6-9][0-9]{4}[-\s]?[0-9]{5}\b`)
	longNumRe = regexp.MustCompile(`\b[0-9]{9,18}\b`)
)

// HashIdentifier returns the hex-encoded SHA-256 of a normalised customer
// identifier.
func HashIdentifier(id string) string {
	h := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(id))))
	return fmt.Sprintf("%x", h)
}

// ScrubPII masks emails, PANs, IFSC codes, Aadhaar, phone and account
// numbers. Names and amounts are kept.
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = panRe.ReplaceAllString(text, "[PAN]")
	text = ifscRe.ReplaceAllString(text, "[IFSC]")
	text = accountRe.ReplaceAllString(text, "[ACCOUNT]")
	text = aadhaarRe.ReplaceAllString(text, "[AADHAAR]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	text = longNumRe.ReplaceAllString(text, "[ACCOUNT]")
	return text
}

// ScrubMessages applies ScrubPII to every message in place and reports
// whether anything was masked.
func ScrubMessages(msgs []Message) bool {
	found := false
	for i := range msgs {
		scrubbed := ScrubPII(msgs[i].Content)
		if scrubbed != msgs[i].Content {
			found = true
		}
		msgs[i].Content = scrubbed
	}
	return found
}
