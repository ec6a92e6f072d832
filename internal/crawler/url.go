package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrMissingStoryID is returned when a story URL has no numeric id segment.
var ErrMissingStoryID = errors.New("no story id in url")

// baseOf keeps only the scheme and authority of raw.
func baseOf(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("url %q is missing a scheme", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q is missing an authority", raw)
	}
	return &url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host}, nil
}

// rebuildURL grafts the path and query of link onto base. Any scheme or host
// carried by link is discarded, so relative and absolute hrefs resolve alike.
func rebuildURL(base *url.URL, link string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return nil, fmt.Errorf("parse link %q: %w", link, err)
	}
	if ref.Path == "" && ref.RawQuery == "" {
		return nil, fmt.Errorf("link %q has no path or query", link)
	}
	out := *base
	out.Path = ref.Path
	out.RawPath = ref.RawPath
	out.RawQuery = ref.RawQuery
	out.Fragment = ""
	return &out, nil
}

// withAdultView adds view_adult=true to the query of u.
func withAdultView(u *url.URL) *url.URL {
	out := *u
	q := out.Query()
	q.Set("view_adult", "true")
	out.RawQuery = q.Encode()
	return &out
}

// storyID reads the id from /works/<id>/...
func storyID(u *url.URL) (uint64, error) {
	segments := make([]string, 0, 4)
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) < 2 {
		return 0, fmt.Errorf("%w: %s", ErrMissingStoryID, u)
	}
	// Story ids key a signed BIGINT column, so cap them at MaxInt64.
	id, err := strconv.ParseUint(segments[1], 10, 63)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMissingStoryID, u, err)
	}
	return id, nil
}
