package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"horse.fit/weave/internal/cluster"
)

// trackingQueryKeys are query parameters stripped during URL
// canonicalization in addition to the utm_ prefix family.
var trackingQueryKeys = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
	"cmpid":   {},
	"smid":    {},
}

// NormalizeURL canonicalizes an article link: lower-case scheme and host,
// default ports and fragments dropped, trailing slash trimmed, tracking
// query parameters removed, remaining parameters sorted. Returns empty
// strings for links that cannot serve as a canonical identity.
func NormalizeURL(raw string) (canonical string, host string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", ""
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", ""
	}
	if parsed.Host == "" {
		return "", ""
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" {
		defaultPort := (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443")
		if !defaultPort {
			parsed.Host = parsed.Host + ":" + port
		}
	}

	parsed.Fragment = ""
	path := strings.TrimSpace(parsed.EscapedPath())
	if path == "" {
		path = "/"
	}
	path = strings.ReplaceAll(path, "//", "/")
	if strings.HasSuffix(path, "/") && path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	parsed.Path = path
	parsed.RawPath = ""

	q := parsed.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingQueryKeys[lower]; ok {
			q.Del(key)
		}
	}
	parsed.RawQuery = sortedQuery(q)

	return parsed.String(), strings.ToLower(parsed.Hostname())
}

func sortedQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for key := range q {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		values := q[key]
		sort.Strings(values)
		for _, value := range values {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(key))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(value))
		}
	}
	return sb.String()
}

// URLHash is the dedupe identity of an article: SHA-256 over the
// canonical URL bytes.
func URLHash(canonical string) []byte {
	sum := sha256.Sum256([]byte(canonical))
	return sum[:]
}

var quotePattern = regexp.MustCompile(`[\x{201C}"]([^\x{201C}\x{201D}"]{20,400})[\x{201D}"]`)

// ExtractQuoteHashes pulls direct quotations out of body text and hashes
// each one after whitespace and case normalization. Two outlets quoting
// the same statement produce the same hash even when the surrounding
// prose differs. Spans shorter than 20 characters are too generic to
// count as quotes.
func ExtractQuoteHashes(text string, limit int) []string {
	if limit <= 0 || strings.TrimSpace(text) == "" {
		return nil
	}

	matches := quotePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	hashes := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, match := range matches {
		normalized := strings.Join(strings.Fields(strings.ToLower(match[1])), " ")
		if normalized == "" {
			continue
		}
		sum := sha256.Sum256([]byte(normalized))
		digest := hex.EncodeToString(sum[:])
		if _, dup := seen[digest]; dup {
			continue
		}
		seen[digest] = struct{}{}
		hashes = append(hashes, digest)
		if len(hashes) >= limit {
			break
		}
	}
	return hashes
}

var linkPattern = regexp.MustCompile(`https?://[^\s"'<>)\]]+`)

// artifactExtensions mark links to primary documents: filings, orders,
// reports. Sharing one across outlets is strong evidence of a shared
// underlying event.
var artifactExtensions = map[string]struct{}{
	".pdf":  {},
	".doc":  {},
	".docx": {},
	".xls":  {},
	".xlsx": {},
}

// ExtractArtifactURLs scans raw item content for links to primary
// documents: direct document files and pages on official domains. The
// result is canonicalized, deduplicated, and capped at limit.
func ExtractArtifactURLs(content string, limit int) []string {
	if limit <= 0 || strings.TrimSpace(content) == "" {
		return nil
	}

	found := linkPattern.FindAllString(content, -1)
	if len(found) == 0 {
		return nil
	}

	artifacts := make([]string, 0, len(found))
	seen := make(map[string]struct{}, len(found))
	for _, raw := range found {
		raw = strings.TrimRight(raw, ".,;")
		canonical, host := NormalizeURL(raw)
		if canonical == "" {
			continue
		}
		if !isArtifactLink(canonical, host) {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		artifacts = append(artifacts, canonical)
		if len(artifacts) >= limit {
			break
		}
	}
	return artifacts
}

func isArtifactLink(canonical, host string) bool {
	lower := strings.ToLower(canonical)
	if idx := strings.IndexAny(lower, "?"); idx >= 0 {
		lower = lower[:idx]
	}
	if dot := strings.LastIndex(lower, "."); dot >= 0 {
		if _, ok := artifactExtensions[lower[dot:]]; ok {
			return true
		}
	}

	official := strings.HasSuffix(host, ".gov") ||
		strings.HasSuffix(host, ".mil") ||
		strings.HasSuffix(host, ".int") ||
		strings.HasSuffix(host, ".europa.eu")
	if !official {
		return false
	}
	for _, marker := range []string{"/press-release", "/statements", "/documents", "/briefing", "/filings", "/orders"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// titleStopwords are dropped when deriving a topic slug from a headline.
var titleStopwords = map[string]struct{}{
	"A": {}, "AN": {}, "THE": {}, "OF": {}, "IN": {}, "ON": {}, "AT": {},
	"TO": {}, "FOR": {}, "WITH": {}, "BY": {}, "FROM": {}, "AS": {},
	"AND": {}, "OR": {}, "BUT": {}, "IS": {}, "ARE": {}, "WAS": {},
	"BE": {}, "HAS": {}, "HAVE": {}, "IT": {}, "AFTER": {}, "BEFORE": {},
	"OVER": {}, "AMID": {}, "INTO": {}, "NEW": {}, "SAYS": {}, "SAY": {},
	"COULD": {}, "WILL": {}, "MAY": {}, "ITS": {}, "HIS": {}, "HER": {},
	"THEIR": {}, "UP": {}, "OUT": {}, "MORE": {}, "HOW": {}, "WHY": {},
	"WHAT": {}, "LATEST": {}, "REPORT": {}, "UPDATE": {}, "LIVE": {},
}

var titleTokenPattern = regexp.MustCompile(`[A-Z0-9]+`)

// DeriveTopicSlug builds a provisional topic slug from a headline: the
// first few informative tokens, canonicalized through NormalizeSlug so
// event-word synonyms collapse. Returns empty when the headline yields
// fewer than two usable tokens; slugs are a weak signal and a bad one is
// worse than none.
func DeriveTopicSlug(title string) string {
	upper := strings.ToUpper(title)
	parts := titleTokenPattern.FindAllString(upper, -1)

	tokens := make([]string, 0, 4)
	for _, token := range parts {
		if _, stop := titleStopwords[token]; stop {
			continue
		}
		if len(token) < 2 {
			continue
		}
		tokens = append(tokens, token)
		if len(tokens) == 4 {
			break
		}
	}
	if len(tokens) < 2 {
		return ""
	}

	slug, err := cluster.NormalizeSlug(strings.Join(tokens, "-"))
	if err != nil {
		return ""
	}
	return slug
}

// wireSources are agency feeds whose copy is syndicated near-verbatim
// across outlets.
var wireSources = map[string]struct{}{
	"reuters":   {},
	"apnews":    {},
	"ap":        {},
	"afp":       {},
	"upi":       {},
	"bloomberg": {},
	"pa media":  {},
	"kyodo":     {},
}

// InferSourceTier classifies a feed into the attach-threshold tiers.
// Wire copy gets a lower bar, opinion and policy sections a higher one,
// everything else the default.
func InferSourceTier(source, feedURL, host string) string {
	lowerSource := strings.ToLower(strings.TrimSpace(source))
	if _, ok := wireSources[lowerSource]; ok {
		return "wire"
	}

	lowerURL := strings.ToLower(feedURL)
	for _, marker := range []string{"/opinion", "/op-ed", "/editorial", "/commentary", "/column"} {
		if strings.Contains(lowerURL, marker) {
			return "opinion"
		}
	}

	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".mil") ||
		strings.HasSuffix(host, ".int") || strings.HasSuffix(host, ".europa.eu") {
		return "policy"
	}
	for _, marker := range []string{"/press-release", "/policy", "/regulation"} {
		if strings.Contains(lowerURL, marker) {
			return "policy"
		}
	}

	return "default"
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes markup from feed-provided summaries and decodes the
// handful of entities common in RSS payloads.
func StripHTML(raw string) string {
	text := tagPattern.ReplaceAllString(raw, " ")
	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#34;", `"`,
		"&#39;", "'",
		"&apos;", "'",
		"&nbsp;", " ",
		"&#160;", " ",
	)
	return strings.TrimSpace(replacer.Replace(text))
}
