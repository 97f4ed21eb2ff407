// Package jsonutil provides helpers for navigating decoded API JSON.
//
// Forge APIs return deeply nested objects; research pipelines usually want
// a flat subset of fields. Path and Map extract values by a simple key
// path without declaring a struct for every response shape.
package jsonutil

import (
	"fmt"
	"strings"
)

// Path walks obj (a decoded JSON value) by the given sequence of object
// keys and returns the value found, or nil when any step is missing or
// null.
//
// A key prefixed with "," is a join step: obj must be an array of objects,
// and the result is the string values of the remaining key joined with
// commas. A join step is only supported as the last element of the path.
//
//	Path(obj, "author", "name")      -> "John"
//	Path(obj, "labels", ",name")     -> "Bug,Good first issue"
//	Path(obj, "committer", "name")   -> nil (committer is null)
func Path(obj any, path ...string) any {
	v, _ := PathStrict(obj, path...)
	return v
}

// PathStrict is Path with an error when the path does not exist.
func PathStrict(obj any, path ...string) (any, error) {
	for _, key := range path {
		if strings.HasPrefix(key, ",") {
			items, ok := obj.([]any)
			if !ok {
				return nil, fmt.Errorf("jsonutil: join step %q on non-array", key)
			}
			field := key[1:]
			parts := make([]string, 0, len(items))
			for _, item := range items {
				m, _ := item.(map[string]any)
				parts = append(parts, fmt.Sprint(m[field]))
			}
			// join steps terminate the path
			return strings.Join(parts, ","), nil
		}

		m, ok := obj.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("jsonutil: path step %q on non-object", key)
		}
		v, present := m[key]
		if !present || v == nil {
			return nil, fmt.Errorf("jsonutil: path step %q does not exist", key)
		}
		obj = v
	}
	return obj, nil
}

// Map extracts a flat subset of obj. Each mapping value is a path with
// steps separated by "__", e.g. {"author_login": "author__name"}. Missing
// paths map to nil.
func Map(mapping map[string]string, obj any) map[string]any {
	out := make(map[string]any, len(mapping))
	for key, path := range mapping {
		out[key] = Path(obj, strings.Split(path, "__")...)
	}
	return out
}
