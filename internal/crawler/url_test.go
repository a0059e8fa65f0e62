package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
)

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"fragment dropped", "https://shop.example/p#reviews", "https://shop.example/p"},
		{"tracking stripped", "https://shop.example/a.jpg?utm_source=newsletter", "https://shop.example/a.jpg"},
		{"tracking case-insensitive", "https://shop.example/a.jpg?UTM_Medium=x&FBCLID=1", "https://shop.example/a.jpg"},
		{"keys sorted", "https://shop.example/p?size=m&color=red", "https://shop.example/p?color=red&size=m"},
		{"encoding preserved", "https://shop.example/p?q=a%20b&b=%2F", "https://shop.example/p?b=%2F&q=a%20b"},
		{"repeated keys keep order", "https://shop.example/p?v=2&a=1&v=1", "https://shop.example/p?a=1&v=2&v=1"},
		{"host and path untouched", "https://Shop.Example/Path/A.JPG", "https://Shop.Example/Path/A.JPG"},
		{"unparseable returned as is", "http://%zz", "http://%zz"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Canonicalize(tc.in))
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://shop.example/a.jpg?utm_source=newsletter&w=400#top",
		"https://shop.example/p?z=1&a=2&ref=foo",
		"https://shop.example/p?",
		"/relative/path?b=1&a=2",
		"http://%zz",
		"",
	}
	for _, in := range inputs {
		once := Canonicalize(in)
		require.Equal(t, once, Canonicalize(once), "input %q", in)
	}
}

func FuzzCanonicalizeIdempotent(f *testing.F) {
	for _, seed := range []string{"https://a.example/x?b=1&a=2#f", "https://a.example/?utm_term=x", "mailto:x@y"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		once := Canonicalize(in)
		if twice := Canonicalize(once); twice != once {
			t.Fatalf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	})
}

func TestHashURLTrackingVariantsCollide(t *testing.T) {
	t.Parallel()

	h := sha256.New()
	a, err := HashURL(h, "https://shop.example/a.jpg?utm_source=newsletter")
	require.NoError(t, err)
	b, err := HashURL(h, "https://shop.example/a.jpg?ref=foo")
	require.NoError(t, err)
	plain, err := HashURL(h, "https://shop.example/a.jpg")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, plain, a)
	assert.Len(t, a, 64)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://shop.example/women/dresses/")
	require.NoError(t, err)

	got, ok := Resolve(base, "../tops?utm_campaign=x#top")
	require.True(t, ok)
	assert.Equal(t, "https://shop.example/women/tops", got)

	got, ok = Resolve(base, "//cdn.example/img/a.jpg")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/img/a.jpg", got)

	for _, href := range []string{"", "#reviews", "javascript:void(0)", "mailto:hi@shop.example", "tel:123", "ftp://x/y"} {
		_, ok := Resolve(base, href)
		assert.False(t, ok, "href %q", href)
	}
}

func TestIsImageURL(t *testing.T) {
	t.Parallel()

	assert.True(t, IsImageURL("https://cdn.example/a.JPG"))
	assert.True(t, IsImageURL("https://cdn.example/a.webp?w=300"))
	assert.True(t, IsImageURL("https://cdn.example/images/123"))
	assert.True(t, IsImageURL("https://cdn.example/p?img=7"))
	assert.False(t, IsImageURL("https://cdn.example/logo.svg"))
	assert.False(t, IsImageURL("https://cdn.example/pixel.gif"))
}

func TestIsPageURL(t *testing.T) {
	t.Parallel()

	assert.True(t, IsPageURL("https://shop.example/women"))
	assert.True(t, IsPageURL("https://shop.example/index.html"))
	assert.False(t, IsPageURL("https://shop.example/catalog.pdf"))
	assert.False(t, IsPageURL("https://shop.example/app.js"))
	assert.False(t, IsPageURL("https://shop.example/hero.avif"))
	assert.False(t, IsPageURL("javascript:alert(1)"))
}

func TestSameHost(t *testing.T) {
	t.Parallel()

	assert.True(t, SameHost("https://shop.example/a", "https://shop.example/b"))
	assert.False(t, SameHost("https://www.shop.example/a", "https://shop.example/b"))
	assert.False(t, SameHost("https://shop.example:8443/a", "https://shop.example/b"))
	assert.False(t, SameHost("/relative", "/other"))
}
