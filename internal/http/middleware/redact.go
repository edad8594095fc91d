package middleware

import (
	"net/http"
	"regexp"
	"sort"
	"strings"
)

// Placeholders written in place of scrubbed values.
const (
	redactedValue = "[REDACTED]"
	redactedEmail = "[REDACTED:email]"
	redactedID    = "[REDACTED:id]"
	redactedPhone = "[REDACTED:phone]"
	redactedToken = "[REDACTED:token]"
)

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-8][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+(?:@|%40)[a-z0-9.\-]+\.[a-z]{2,}`)
	// Digits only, so it cannot eat the hex groups of an id.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
	// Claim tokens appear as the segment after /claims/ on unmatched routes.
	claimPathRE = regexp.MustCompile(`(/claims/)[^/?#]+`)
)

// builtinMasked are headers whose values are never logged.
var builtinMasked = []string{
	"Authorization",
	"Cookie",
	"Set-Cookie",
	HeaderSharedSecret,
	"Stripe-Signature",
}

// RedactOptions configures additional scrub behavior for the request logger.
//
// MaskHeaders lists extra header names whose values are replaced with
// "[REDACTED]". Matching is case-insensitive and merged with the built-in
// set (Authorization, Cookie, Set-Cookie, X-Shared-Secret, Stripe-Signature).
type RedactOptions struct {
	MaskHeaders []string
}

// Redactor scrubs buyer emails, ids, phone numbers and claim tokens from
// request metadata before it reaches the logs. It never sees bodies.
type Redactor struct {
	masked map[string]struct{}
}

// NewRedactor builds a Redactor from opts.
func NewRedactor(opts RedactOptions) *Redactor {
	masked := make(map[string]struct{}, len(builtinMasked)+len(opts.MaskHeaders))
	for _, h := range append(append([]string(nil), builtinMasked...), opts.MaskHeaders...) {
		if h = strings.TrimSpace(h); h != "" {
			masked[http.CanonicalHeaderKey(h)] = struct{}{}
		}
	}
	return &Redactor{masked: masked}
}

// String scrubs free-form text. Ids go first so the looser phone pattern
// does not match their digit runs.
func (r *Redactor) String(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, redactedID)
	s = emailRE.ReplaceAllString(s, redactedEmail)
	return phoneRE.ReplaceAllString(s, redactedPhone)
}

// Path scrubs a raw URL path. Claim tokens are credentials and are dropped.
func (r *Redactor) Path(p string) string {
	return r.String(claimPathRE.ReplaceAllString(p, "${1}"+redactedToken))
}

// Headers returns a loggable copy of h: masked headers are replaced
// wholesale, the rest are pattern-scrubbed.
func (r *Redactor) Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.masked[http.CanonicalHeaderKey(k)]; ok {
			out[k] = redactedValue
			continue
		}
		out[k] = r.String(strings.Join(vv, ", "))
	}
	return out
}

// Masked lists the masked header names, sorted.
func (r *Redactor) Masked() []string {
	out := make([]string, 0, len(r.masked))
	for h := range r.masked {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
