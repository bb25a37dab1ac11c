// Package input loads the campaign target list: a CSV with a "url"
// column. URLs are canonicalized, deduplicated in input order, and
// hashed so an unchanged input set resumes the same campaign run.
package input

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
)

// Canonicalize normalizes a profile URL to scheme+host+path with no
// query, fragment or trailing slash. The result is the profile's primary
// key, so the same page always maps to the same string.
func Canonicalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	path := strings.TrimRight(u.Path, "/")
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + path, nil
}

// PublicIdentifier extracts the /in/<id> segment from a canonical profile
// URL.
func PublicIdentifier(canonical string) (string, error) {
	u, err := url.Parse(canonical)
	if err != nil {
		return "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "in" || parts[1] == "" {
		return "", fmt.Errorf("not a profile url: %q", canonical)
	}
	id, err := url.PathUnescape(parts[1])
	if err != nil {
		return "", err
	}
	return id, nil
}

// Load reads the CSV at path and returns the ordered, deduplicated list
// of canonical URLs plus the stable 12-char hash of the input set.
func Load(path string) ([]string, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open input csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, "", fmt.Errorf("read csv header: %w", err)
	}
	urlCol := -1
	for i, name := range header {
		if strings.TrimSpace(strings.ToLower(name)) == "url" {
			urlCol = i
			break
		}
	}
	if urlCol < 0 {
		return nil, "", fmt.Errorf("input csv %s has no 'url' column", path)
	}

	var urls []string
	seen := map[string]bool{}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		// A malformed row must not pass for end-of-file: silently dropping
		// the rest of the set would also change the run identity hash.
		if err != nil {
			return nil, "", fmt.Errorf("read input csv: %w", err)
		}
		if urlCol >= len(record) {
			continue
		}
		raw := strings.TrimSpace(record[urlCol])
		if raw == "" {
			continue
		}
		canonical, err := Canonicalize(raw)
		if err != nil {
			return nil, "", fmt.Errorf("row %q: %w", raw, err)
		}
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		urls = append(urls, canonical)
	}
	if len(urls) == 0 {
		return nil, "", fmt.Errorf("input csv %s has no urls", path)
	}
	return urls, Hash(urls), nil
}

// Hash is deterministic for the same set of URLs regardless of input
// order: sorted unique URLs, newline-joined, sha256, first 12 hex chars.
func Hash(urls []string) string {
	uniq := map[string]bool{}
	for _, u := range urls {
		uniq[u] = true
	}
	sorted := make([]string, 0, len(uniq))
	for u := range uniq {
		sorted = append(sorted, u)
	}
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])[:12]
}
