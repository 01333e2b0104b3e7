package ingest

import (
	"bytes"
	"reflect"
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		want     string
		wantHost string
	}{
		{
			name:     "already canonical",
			raw:      "https://example.com/politics/pardon-order",
			want:     "https://example.com/politics/pardon-order",
			wantHost: "example.com",
		},
		{
			name:     "strips utm and tracking params, keeps the rest sorted",
			raw:      "https://Example.com/story?utm_source=x&b=2&fbclid=abc&a=1",
			want:     "https://example.com/story?a=1&b=2",
			wantHost: "example.com",
		},
		{
			name:     "drops fragment and trailing slash",
			raw:      "https://example.com/story/#comments",
			want:     "https://example.com/story",
			wantHost: "example.com",
		},
		{
			name:     "default port removed",
			raw:      "https://example.com:443/story",
			want:     "https://example.com/story",
			wantHost: "example.com",
		},
		{
			name:     "explicit port kept",
			raw:      "http://example.com:8080/story",
			want:     "http://example.com:8080/story",
			wantHost: "example.com",
		},
		{
			name: "non-http scheme rejected",
			raw:  "ftp://example.com/story",
			want: "",
		},
		{
			name: "relative link rejected",
			raw:  "/story/pardon-order",
			want: "",
		},
		{
			name: "empty",
			raw:  "   ",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, host := NormalizeURL(tt.raw)
			if got != tt.want {
				t.Fatalf("NormalizeURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
			if host != tt.wantHost {
				t.Fatalf("host = %q, want %q", host, tt.wantHost)
			}
		})
	}
}

func TestURLHashStableAcrossTrackingParams(t *testing.T) {
	t.Parallel()

	left, _ := NormalizeURL("https://example.com/story?utm_source=newsletter")
	right, _ := NormalizeURL("https://example.com/story?utm_campaign=spring&gclid=zz")
	if left != right {
		t.Fatalf("canonical forms differ: %q vs %q", left, right)
	}
	if !bytes.Equal(URLHash(left), URLHash(right)) {
		t.Fatal("hashes differ for identical canonical URLs")
	}
	if len(URLHash(left)) != 32 {
		t.Fatalf("hash length = %d, want 32", len(URLHash(left)))
	}
}

func TestExtractQuoteHashes(t *testing.T) {
	t.Parallel()

	text := `The minister said "we will not tolerate interference in this process" ` +
		`before adding “we will not tolerate interference in this process” again. ` +
		`A bystander shouted "no" in response.`

	hashes := ExtractQuoteHashes(text, 8)
	if len(hashes) != 1 {
		t.Fatalf("hashes = %v, want exactly 1 (duplicate collapsed, short quote dropped)", hashes)
	}
	if len(hashes[0]) != 64 {
		t.Fatalf("hash %q is not hex sha256", hashes[0])
	}

	// Case and spacing differences hash identically.
	other := ExtractQuoteHashes(`He said "We  will not tolerate interference in this process".`, 8)
	if len(other) != 1 || other[0] != hashes[0] {
		t.Fatalf("normalized quote hash mismatch: %v vs %v", other, hashes)
	}

	if got := ExtractQuoteHashes("no quotes here", 8); got != nil {
		t.Fatalf("ExtractQuoteHashes(plain text) = %v, want nil", got)
	}
	if got := ExtractQuoteHashes(text, 0); got != nil {
		t.Fatalf("ExtractQuoteHashes(limit 0) = %v, want nil", got)
	}
}

func TestExtractArtifactURLs(t *testing.T) {
	t.Parallel()

	content := `<p>The order is published at ` +
		`<a href="https://www.justice.gov/documents/pardon-order.pdf?utm_source=rss">the DOJ site</a> ` +
		`and mirrored at https://www.justice.gov/documents/pardon-order.pdf. ` +
		`Background: https://example.com/analysis/why-it-matters and ` +
		`https://www.whitehouse.gov/briefing-room/statements/2025/03/10/order.</p>`

	got := ExtractArtifactURLs(content, 8)
	want := []string{
		"https://www.justice.gov/documents/pardon-order.pdf",
		"https://www.whitehouse.gov/briefing-room/statements/2025/03/10/order",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractArtifactURLs() = %v, want %v", got, want)
	}

	t.Run("limit caps output", func(t *testing.T) {
		t.Parallel()

		capped := ExtractArtifactURLs(content, 1)
		if len(capped) != 1 || capped[0] != want[0] {
			t.Fatalf("capped = %v, want [%s]", capped, want[0])
		}
	})

	t.Run("commercial pages excluded", func(t *testing.T) {
		t.Parallel()

		if got := ExtractArtifactURLs("see https://example.com/press-release/launch", 8); got != nil {
			t.Fatalf("commercial press page counted as artifact: %v", got)
		}
	})
}

func TestDeriveTopicSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		title string
		want  string
	}{
		{
			name:  "event synonym canonicalized",
			title: "Doe pardons longtime ally in sweeping order",
			want:  "DOE-PARDON-LONGTIME-ALLY",
		},
		{
			name:  "stopwords dropped",
			title: "The Fed says it will cut rates in September",
			want:  "FED-CUT-RATES-SEPTEMBER",
		},
		{
			name:  "single informative token is not enough",
			title: "The latest update",
			want:  "",
		},
		{
			name:  "empty title",
			title: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := DeriveTopicSlug(tt.title); got != tt.want {
				t.Fatalf("DeriveTopicSlug(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestInferSourceTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		source  string
		feedURL string
		host    string
		want    string
	}{
		{
			name:   "wire agency by source",
			source: "Reuters",
			want:   "wire",
		},
		{
			name:    "opinion section by feed path",
			source:  "Example Times",
			feedURL: "https://example.com/opinion/rss.xml",
			want:    "opinion",
		},
		{
			name:   "government host is policy",
			source: "DOJ",
			host:   "www.justice.gov",
			want:   "policy",
		},
		{
			name:    "press release path is policy",
			source:  "Acme",
			feedURL: "https://acme.example/press-release/feed",
			want:    "policy",
		},
		{
			name:   "everything else defaults",
			source: "Example Times",
			host:   "example.com",
			want:   "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := InferSourceTier(tt.source, tt.feedURL, tt.host); got != tt.want {
				t.Fatalf("InferSourceTier(%q, %q, %q) = %q, want %q", tt.source, tt.feedURL, tt.host, got, tt.want)
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	t.Parallel()

	raw := `<p>Regulator orders <b>recall</b> of &quot;smart&quot; thermostats &amp; sensors</p>`
	want := `Regulator orders  recall  of "smart" thermostats & sensors`
	if got := StripHTML(raw); got != want {
		t.Fatalf("StripHTML() = %q, want %q", got, want)
	}
}
