package manifest_test

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tbloader/internal/manifest"
	"tbloader/internal/services"
)

func sampleManifest(deployment, pkgName, lang string) *manifest.Manifest {
	m := manifest.New(deployment)
	announcement := m.Ref("content/" + pkgName + "/prompts/pkg.mp3")
	prompts := m.PathIndex("content/prompts/" + lang)
	pl := manifest.Playlist{
		Name:        "Health",
		ShortPrompt: m.Ref("content/" + pkgName + "/prompts/health.mp3"),
		LongPrompt:  m.Ref("content/" + pkgName + "/prompts/i-health.mp3"),
	}
	for _, title := range []string{"Wash hands", "Boil water # twice"} {
		ref := m.Ref("content/messages/" + lang + "/" + strings.ReplaceAll(strings.ToLower(title[:4]), " ", "") + ".mp3")
		pl.Messages = append(pl.Messages, manifest.Message{Title: title, AudioRef: ref})
	}
	m.Packages = append(m.Packages, manifest.Package{
		Name:         pkgName,
		Announcement: &announcement,
		Prompts:      []int{prompts},
		Playlists:    []manifest.Playlist{pl},
	})
	return m
}

func TestRoundTrip(t *testing.T) {
	m := sampleManifest("TEST-26-1", "pkg-en", "en")
	m.Created = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	data, err := manifest.Encode(m)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "#------- Created on 2026/03/01 @ 09:30:00 UTC"))

	got, err := manifest.Decode(data)
	require.NoError(t, err)
	m.Created = time.Time{}
	assert.Equal(t, m, got)
	assert.Equal(t, m.Files(), got.Files())
	assert.Contains(t, got.Files(), "/content/messages/en/wash.mp3")
}

func TestEncodeLayout(t *testing.T) {
	m := sampleManifest("DEP", "p1", "en")
	data, err := manifest.Encode(m)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Equal(t, "1                    # format version", lines[1])
	assert.Equal(t, "DEP                  # deployment name", lines[2])
	for _, line := range lines {
		assert.LessOrEqual(t, len(line), manifest.MaxLineLength)
	}
	assert.Contains(t, string(data), "\n      2  wash.mp3    # Wash hands\n")
	assert.Contains(t, string(data), "\n/content/p1/prompts/\n")
}

func TestPackageWithoutAnnouncementOrPrompts(t *testing.T) {
	m := manifest.New("DEP")
	m.Packages = []manifest.Package{{Name: "bare", Playlists: []manifest.Playlist{{
		Name:        "Only",
		ShortPrompt: m.Ref("/a/s.mp3"),
		LongPrompt:  m.Ref("/a/l.mp3"),
	}}}}
	data, err := manifest.Encode(m)
	require.NoError(t, err)

	got, err := manifest.Decode(data)
	require.NoError(t, err)
	require.Len(t, got.Packages, 1)
	assert.Nil(t, got.Packages[0].Announcement)
	assert.Empty(t, got.Packages[0].Prompts)
	assert.Empty(t, got.Packages[0].Playlists[0].Messages)
}

func TestDecodeAcceptsSemicolonsAndComments(t *testing.T) {
	text := `# a hand written manifest
1
DEP-2
3
content/a
/content/b/

/content/c/   # trailing comment
1
pkg
  0 announce.mp3
  1;2
  1
    Stories
    1  s.mp3
    1  l.mp3
    2
      2 one.mp3 # First story
      2   two.mp3
`
	m, err := manifest.Decode([]byte(text))
	require.NoError(t, err)
	assert.Equal(t, []string{"/content/a/", "/content/b/", "/content/c/"}, m.Paths)
	assert.Equal(t, []int{1, 2}, m.Packages[0].Prompts)
	msgs := m.Packages[0].Playlists[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "First story", msgs[0].Title)
	assert.Equal(t, "", msgs[1].Title)
	assert.Equal(t, "two.mp3", msgs[1].File)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"version":   "2\nDEP\n0\n0\n",
		"truncated": "1\nDEP\n2\n/a/\n",
		"count":     "1\nDEP\nmany\n",
		"index":     "1\nDEP\n1\n/a/\n1\npkg\n-\n-\n1\npl\n0 s.mp3\n5 l.mp3\n0\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := manifest.Decode([]byte(text))
			require.Error(t, err)
			assert.True(t, errors.Is(err, services.ErrValidation), "got %v", err)
		})
	}
}

func TestMergeReindexesAndPreservesOrder(t *testing.T) {
	a := sampleManifest("DEP", "pkg-en", "en")
	b := sampleManifest("DEP", "pkg-fr", "fr")
	c := sampleManifest("DEP", "pkg-dga", "dga")
	wantFiles := append(append(append([]string{}, a.Files()...), b.Files()...), c.Files()...)

	merged := manifest.Merge(manifest.New("DEP"), a, b, c)
	require.NoError(t, merged.Validate())
	assert.Equal(t, []string{"pkg-en", "pkg-fr", "pkg-dga"}, merged.PackageNames())
	assert.Equal(t, wantFiles, merged.Files())

	// Shared directories collapse into one path table entry.
	seen := map[string]bool{}
	for _, p := range merged.Paths {
		assert.False(t, seen[p], "duplicate path %s", p)
		seen[p] = true
	}
}

func TestEncodeLineOverflow(t *testing.T) {
	m := manifest.New("DEP")
	long := strings.Repeat("x", 195)
	m.Packages = []manifest.Package{{Name: "pkg", Playlists: []manifest.Playlist{{
		Name:        "pl",
		ShortPrompt: m.Ref("/a/s.mp3"),
		LongPrompt:  m.Ref("/a/l.mp3"),
		Messages: []manifest.Message{
			{Title: "fits once indentation is dropped", AudioRef: manifest.AudioRef{Path: 0, File: long}},
		},
	}}}}
	data, err := manifest.Encode(m)
	require.NoError(t, err)
	got, err := manifest.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, long, got.Packages[0].Playlists[0].Messages[0].File)

	m.Packages[0].Playlists[0].Messages[0].File = long + long
	_, err = manifest.Encode(m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrManifestEncodingOverflow))
}

func TestEncodeTruncatesCommentsOnRuneBoundary(t *testing.T) {
	m := manifest.New("DEP")
	title := strings.Repeat("é", 120)
	name := strings.Repeat("p", 185)
	m.Packages = []manifest.Package{{Name: name, Playlists: []manifest.Playlist{{
		Name:        "pl",
		ShortPrompt: m.Ref("/a/s.mp3"),
		LongPrompt:  m.Ref("/a/l.mp3"),
		Messages:    []manifest.Message{{Title: title, AudioRef: m.Ref("/a/m.mp3")}},
	}}}}

	data, err := manifest.Encode(m)
	require.NoError(t, err, "an over-long heading must be cut, not rejected")
	assert.True(t, utf8.Valid(data))
	for _, line := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
		assert.LessOrEqual(t, len(line), manifest.MaxLineLength)
	}

	got, err := manifest.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, name, got.Packages[0].Name)
	decoded := got.Packages[0].Playlists[0].Messages[0].Title
	assert.True(t, utf8.ValidString(decoded), "title %q", decoded)
	assert.NotEmpty(t, decoded)
	assert.True(t, strings.HasPrefix(title, decoded))
}

func TestValidateRejectsBadReferences(t *testing.T) {
	m := manifest.New("DEP")
	m.Packages = []manifest.Package{{Name: "pkg", Prompts: []int{3}}}
	assert.Error(t, m.Validate())

	m = manifest.New("DEP")
	m.Packages = []manifest.Package{{Name: "pkg", Playlists: []manifest.Playlist{{
		Name:        "pl",
		ShortPrompt: m.Ref("/a/has space.mp3"),
		LongPrompt:  m.Ref("/a/l.mp3"),
	}}}}
	assert.Error(t, m.Validate())

	assert.Error(t, manifest.New("").Validate())
}

func TestNormalizeDir(t *testing.T) {
	assert.Equal(t, "/content/en/", manifest.NormalizeDir(`content\en`))
	assert.Equal(t, "/", manifest.NormalizeDir(""))
	assert.Equal(t, "/a/", manifest.NormalizeDir("/a/"))
}
