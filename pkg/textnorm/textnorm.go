// Package textnorm normalizes user text ahead of embedding and parses chat
// commands. Pure string processing, no external dependencies.
package textnorm

import (
	"regexp"
	"strings"
)

// Characters outside letters, digits, underscore, whitespace and basic
// punctuation are dropped before embedding.
var dropRe = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?-]+`)

var spaceRe = regexp.MustCompile(`\s+`)

// Normalize lowercases text, strips noise characters, and collapses
// whitespace runs into single spaces. All-noise input normalizes to "".
func Normalize(text string) string {
	t := strings.ToLower(text)
	t = dropRe.ReplaceAllString(t, "")
	t = spaceRe.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// Command is a parsed chat command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses "/name arg text" messages. The name is lowercased and
// a trailing @botname qualifier is dropped. ok is false for non-commands.
func ParseCommand(text string) (Command, bool) {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "/") {
		return Command{}, false
	}
	name, args, _ := strings.Cut(t[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	name = strings.ToLower(name)
	if name == "" {
		return Command{}, false
	}
	return Command{Name: name, Args: strings.TrimSpace(args)}, true
}
