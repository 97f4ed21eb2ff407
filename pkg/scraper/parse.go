package scraper

import (
	"fmt"
	"regexp"
	"strings"
)

// urlPattern matches a project URL on one of the supported forges. The
// scheme is optional; trailing garbage after the slug is ignored.
const urlPattern = `\b(?:` +
	`github\.com/[a-zA-Z0-9_.-]+|` +
	`bitbucket\.org/[a-zA-Z0-9_.-]+|` +
	`gitlab\.com/(?:[a-zA-Z0-9_.-]+)+|` +
	`sourceforge\.net/projects` +
	`)/[a-zA-Z0-9_.-]+`

// URLPattern extracts forge project URLs embedded in free text, e.g. a
// package description or a README.
var URLPattern = regexp.MustCompile(urlPattern)

// NamedURLPattern returns a pattern matching project URLs ending in the
// given project name. It stays consistent with URLPattern; quoting the
// name is the caller's job.
func NamedURLPattern(name string) *regexp.Regexp {
	base := urlPattern[:strings.LastIndex(urlPattern, "/")]
	return regexp.MustCompile(base + "/" + name)
}

// ParseURL splits a project URL into the forge hostname and the
// provider-specific project slug:
//
//	ParseURL("https://github.com/user/repo")  -> ("github.com", "user/repo")
//	ParseURL("gitlab.com/group/sub/project")  -> ("gitlab.com", "group/sub/project")
//	ParseURL("sourceforge.net/projects/abc")  -> ("sourceforge.net", "abc")
//
// URLs not matching a supported forge return an error.
func ParseURL(projectURL string) (provider, slug string, err error) {
	trimmed := projectURL
	if i := strings.Index(trimmed, "://"); i >= 0 {
		trimmed = trimmed[i+3:]
	}
	host, rest, ok := strings.Cut(trimmed, "/")
	if !ok || rest == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, projectURL)
	}
	if host == "sourceforge.net" {
		// sourceforge URLs carry a "projects/" prefix before the slug.
		return host, rest[strings.LastIndex(rest, "/")+1:], nil
	}
	if _, ok := factories[host]; !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, host)
	}
	return host, rest, nil
}
