package input

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://www.linkedin.com/in/alice/", "https://www.linkedin.com/in/alice"},
		{"https://WWW.LinkedIn.com/in/alice", "https://www.linkedin.com/in/alice"},
		{"www.linkedin.com/in/alice", "https://www.linkedin.com/in/alice"},
		{"https://www.linkedin.com/in/alice?originalSubdomain=de", "https://www.linkedin.com/in/alice"},
		{"https://www.linkedin.com/in/alice#about", "https://www.linkedin.com/in/alice"},
		{"  https://www.linkedin.com/in/alice  ", "https://www.linkedin.com/in/alice"},
	}
	for _, c := range cases {
		got, err := Canonicalize(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestCanonicalizeRejectsJunk(t *testing.T) {
	for _, in := range []string{"", "   ", "https://"} {
		_, err := Canonicalize(in)
		assert.Error(t, err, "%q", in)
	}
}

func TestPublicIdentifier(t *testing.T) {
	id, err := PublicIdentifier("https://www.linkedin.com/in/alice-nguyen-123")
	require.NoError(t, err)
	assert.Equal(t, "alice-nguyen-123", id)

	_, err = PublicIdentifier("https://www.linkedin.com/company/acme")
	assert.Error(t, err)
	_, err = PublicIdentifier("https://www.linkedin.com/in/")
	assert.Error(t, err)
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDedupesInOrder(t *testing.T) {
	path := writeCSV(t, "name,url\n"+
		"Carol,https://www.linkedin.com/in/carol\n"+
		"Alice,https://www.linkedin.com/in/alice/\n"+
		"Alice again,https://www.linkedin.com/in/alice?ref=x\n"+
		",\n"+
		"Bob,www.linkedin.com/in/bob\n")

	urls, hash, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.linkedin.com/in/carol",
		"https://www.linkedin.com/in/alice",
		"https://www.linkedin.com/in/bob",
	}, urls)
	assert.Len(t, hash, 12)
}

func TestLoadRequiresURLColumn(t *testing.T) {
	path := writeCSV(t, "name,profile\nAlice,https://www.linkedin.com/in/alice\n")
	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}

func TestLoadRejectsMalformedRow(t *testing.T) {
	// A bad row must fail the load: dropping the rows after it would also
	// silently change the input hash and thus the run identity.
	path := writeCSV(t, "name,url\n"+
		"Alice,https://www.linkedin.com/in/alice\n"+
		"Bob,https://www.linkedin.com/in/bob,extra-field\n"+
		"Carol,https://www.linkedin.com/in/carol\n")
	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read input csv")
}

func TestLoadEmptyInput(t *testing.T) {
	path := writeCSV(t, "url\n")
	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestHashIgnoresOrderAndDuplicates(t *testing.T) {
	a := Hash([]string{"https://x/in/a", "https://x/in/b"})
	b := Hash([]string{"https://x/in/b", "https://x/in/a", "https://x/in/a"})
	assert.Equal(t, a, b)

	c := Hash([]string{"https://x/in/a", "https://x/in/b", "https://x/in/c"})
	assert.NotEqual(t, a, c, "adding a url must change the run identity")
}
