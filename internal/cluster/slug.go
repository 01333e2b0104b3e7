package cluster

import (
	"fmt"
	"regexp"
	"strings"
)

// Topic slugs are short canonical event tags such as
// FED-RATE-CUT-SEPTEMBER or DOE-PARDON-ORDER. They feed a cheap blocking
// predicate and a low-weight scoring signal, both guarded below because
// slug vocabulary is tiny and collides easily.

var slugPattern = regexp.MustCompile(`^[A-Z0-9-]{3,60}$`)

// eventWordMap canonicalizes inflections and synonyms of event verbs so
// that PARDONS and PARDONED land on the same token.
var eventWordMap = map[string]string{
	"PARDONS":    "PARDON",
	"PARDONED":   "PARDON",
	"INDICTS":    "INDICT",
	"INDICTED":   "INDICT",
	"INDICTMENT": "INDICT",
	"SANCTIONS":  "SANCTION",
	"SANCTIONED": "SANCTION",
	"TARIFFS":    "TARIFF",
	"VETOES":     "VETO",
	"VETOED":     "VETO",
	"RESIGNS":    "RESIGN",
	"RESIGNED":   "RESIGN",
	"IMPEACHES":  "IMPEACH",
	"IMPEACHED":  "IMPEACH",
	"STRIKES":    "STRIKE",
	"ELECTIONS":  "ELECTION",
	"RULINGS":    "RULING",
	"RULED":      "RULING",
	"MERGERS":    "MERGER",
	"LAYOFFS":    "LAYOFF",
	"RECALLS":    "RECALL",
	"RECALLED":   "RECALL",
	"SHUTDOWNS":  "SHUTDOWN",
}

// eventTokens are high-signal event words. Slug overlap only counts toward
// the score when the shared tokens include at least one of these.
var eventTokens = map[string]struct{}{
	"PARDON":   {},
	"INDICT":   {},
	"SANCTION": {},
	"TARIFF":   {},
	"VETO":     {},
	"RESIGN":   {},
	"IMPEACH":  {},
	"STRIKE":   {},
	"ELECTION": {},
	"RULING":   {},
	"MERGER":   {},
	"LAYOFF":   {},
	"RECALL":   {},
	"SHUTDOWN": {},
	"VERDICT":  {},
	"CEASEFIRE": {},
	"EARNINGS": {},
	"OUTAGE":   {},
	"BREACH":   {},
}

// genericTokens are verbs and filler words that appear in slugs but carry
// no event identity on their own. They can never satisfy the guardrail.
var genericTokens = map[string]struct{}{
	"ORDER":  {},
	"SIGN":   {},
	"SIGNS":  {},
	"PLAN":   {},
	"PLANS":  {},
	"SAYS":   {},
	"NEW":    {},
	"REPORT": {},
	"UPDATE": {},
	"NEWS":   {},
	"LATEST": {},
	"MOVE":   {},
	"DEAL":   {},
	"TALKS":  {},
	"THE":    {},
	"AND":    {},
	"FOR":    {},
	"OVER":   {},
}

// acronymTokens are kept verbatim during canonicalization, never trimmed
// or synonym-mapped.
var acronymTokens = map[string]struct{}{
	"US":   {},
	"EU":   {},
	"UN":   {},
	"UK":   {},
	"AI":   {},
	"FBI":  {},
	"CIA":  {},
	"DOJ":  {},
	"SEC":  {},
	"FED":  {},
	"NATO": {},
	"OPEC": {},
	"WHO":  {},
	"IMF":  {},
	"GDP":  {},
	"IPO":  {},
}

// NormalizeSlug canonicalizes a raw tag into slug form: upper-case,
// non-alphanumeric runs collapsed to single hyphens, event-word synonyms
// mapped to their canonical token, 3 to 60 characters.
func NormalizeSlug(raw string) (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	if upper == "" {
		return "", fmt.Errorf("slug is empty")
	}

	var sb strings.Builder
	lastHyphen := true
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			sb.WriteByte('-')
			lastHyphen = true
		}
	}
	collapsed := strings.Trim(sb.String(), "-")
	if collapsed == "" {
		return "", fmt.Errorf("slug %q has no alphanumeric content", raw)
	}

	tokens := strings.Split(collapsed, "-")
	for i, token := range tokens {
		if _, ok := acronymTokens[token]; ok {
			continue
		}
		if canonical, ok := eventWordMap[token]; ok {
			tokens[i] = canonical
		}
	}
	slug := strings.Join(tokens, "-")

	if !slugPattern.MatchString(slug) {
		return "", fmt.Errorf("slug %q does not normalize to a valid tag", raw)
	}
	return slug, nil
}

// SlugTokens splits a normalized slug into tokens.
func SlugTokens(slug string) []string {
	if strings.TrimSpace(slug) == "" {
		return nil
	}
	parts := strings.Split(strings.ToUpper(slug), "-")
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		tokens = append(tokens, part)
	}
	return tokens
}

func isEventToken(token string) bool {
	_, ok := eventTokens[token]
	return ok
}

func isGenericToken(token string) bool {
	_, ok := genericTokens[token]
	return ok
}

// isAnchorToken reports whether a token names a concrete participant
// rather than a verb or filler. Anything neither generic nor an event word
// qualifies, e.g. a surname or an org acronym.
func isAnchorToken(token string) bool {
	return token != "" && !isGenericToken(token) && !isEventToken(token)
}

// SlugOverlap computes token overlap between two slugs, subject to the
// low-signal guardrail: the shared tokens must include at least one
// high-signal event token AND at least one named-entity anchor token,
// otherwise the overlap is reported as unusable (ok=false). A pair that
// shares only a bare verb like ORDER never passes.
func SlugOverlap(slugA, slugB string) (score float64, ok bool) {
	tokensA := SlugTokens(slugA)
	tokensB := SlugTokens(slugB)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0, false
	}

	setA := make(map[string]struct{}, len(tokensA))
	for _, token := range tokensA {
		setA[token] = struct{}{}
	}

	shared := make([]string, 0, len(tokensB))
	seen := make(map[string]struct{}, len(tokensB))
	for _, token := range tokensB {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		if _, hit := setA[token]; hit {
			shared = append(shared, token)
		}
	}
	if len(shared) == 0 {
		return 0, false
	}

	hasEvent := false
	hasAnchor := false
	for _, token := range shared {
		if isEventToken(token) {
			hasEvent = true
		}
		if isAnchorToken(token) {
			hasAnchor = true
		}
	}
	if !hasEvent || !hasAnchor {
		return 0, false
	}

	union := len(setA)
	for token := range seen {
		if _, hit := setA[token]; !hit {
			union++
		}
	}
	return float64(len(shared)) / float64(union), true
}
