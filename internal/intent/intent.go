// Package intent classifies a user query into one of the tagged
// variants spec.md §9 names for the /ask endpoint (Search | Read |
// List | Move | Chat) and dispatches accordingly. Grounded on
// original_source/backend/router_service.py's route_query: its fast
// deterministic heuristic (keyword/extension triggers that short
// circuit straight to SEARCH before ever calling the model) is kept
// as the sole classification path, since spec.md §1 puts file
// mutation and browsing operations out of core scope — Read, List,
// and Move are recognized as tags but always dispatch through Chat,
// same as the original's CHAT fallback on any classification failure.
package intent

import (
	"regexp"
	"strings"
)

// Tag is one of the five routed intent variants.
type Tag string

const (
	Search Tag = "search"
	Read   Tag = "read"
	List   Tag = "list"
	Move   Tag = "move"
	Chat   Tag = "chat"
)

// Result is the outcome of classifying a query: a Tag plus whatever
// parameters that tag's handler needs.
type Result struct {
	Tag   Tag
	Query string // cleaned search query, populated only when Tag == Search
}

var searchTriggers = []string{
	"find ", "find the ", "show ", "show me ", "search ", "search for ",
	"where is ", "open ", "find file", "find code", "show code", "show file",
	"do i have", "list files", "find my ", "find the file",
}

var searchKeywords = []string{"code", "file", "files", "implement", "source"}

var fileExtensionPattern = regexp.MustCompile(`\.(py|cpp|c|js|java|txt|md|docx|pdf)\b`)

var readTriggers = []string{"read ", "open and show", "what does", "cat "}
var listTriggers = []string{"list ", "what files are in", "contents of folder", "contents of directory"}
var moveTriggers = []string{"move ", "rename ", "organize ", "archive "}

var searchQueryPrefix = regexp.MustCompile(`^(find|show|search)\s+((the|my)\s+)?`)

// Classify routes a raw user query to a Tag using the same fast,
// deterministic heuristic as the original's pre-LLM short circuit.
// Queries that don't match a recognized trigger default to Chat,
// matching the original's exception-path fallback.
func Classify(query string) Result {
	lower := strings.ToLower(strings.TrimSpace(query))

	if matchesAny(lower, searchTriggers) || fileExtensionPattern.MatchString(lower) || matchesAny(lower, searchKeywords) {
		return Result{Tag: Search, Query: cleanSearchQuery(lower, query)}
	}
	if matchesAny(lower, moveTriggers) {
		return Result{Tag: Move}
	}
	if matchesAny(lower, listTriggers) {
		return Result{Tag: List}
	}
	if matchesAny(lower, readTriggers) {
		return Result{Tag: Read}
	}
	return Result{Tag: Chat}
}

func matchesAny(s string, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

func cleanSearchQuery(lower, original string) string {
	cleaned := strings.TrimSpace(searchQueryPrefix.ReplaceAllString(lower, ""))
	if cleaned == "" {
		return original
	}
	return cleaned
}

// Dispatcher routes a classified query to its handler. Read, List, and
// Move are stubbed through to Chat (spec.md §1 Non-goals exclude file
// mutation/browsing from core scope); only Search gets a distinct path.
type Dispatcher struct {
	Search func(query string) (any, error)
	Chat   func(query string) (any, error)
}

// Dispatch classifies query and invokes the matching handler.
func (d Dispatcher) Dispatch(query string) (Tag, any, error) {
	r := Classify(query)
	switch r.Tag {
	case Search:
		out, err := d.Search(r.Query)
		return Search, out, err
	default:
		out, err := d.Chat(query)
		return r.Tag, out, err
	}
}
