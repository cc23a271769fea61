// Package caption resolves site, task and phase hints from the free
// text attached to chat uploads. Field crews caption photos in a mix of
// Malay and English, so the keyword sets carry both.
package caption

import (
	"regexp"
	"strings"
	"sync"

	"photoreport/photo"
)

const (
	TaskGrass = "grass_cutting"
	TaskDrain = "drainage_cleaning"
)

var beforeWords = map[string]bool{
	"sebelum": true, "sblm": true, "sblum": true, "sebelom": true, "before": true,
}

var afterWords = map[string]bool{
	"selepas": true, "slps": true, "slpas": true, "after": true, "lepas": true,
}

var drainWords = []string{"longkang", "parit", "drain"}

var tokenSplit = regexp.MustCompile(`[\s,;/\-_.]+`)
var zonePattern = regexp.MustCompile(`\bzone\s*([a-z])\b`)

// Sites maps caption aliases to canonical site names. Sites can be
// added at runtime (the chat adapter exposes an /addsite command), so
// lookups and additions are guarded by a lock.
type Sites struct {
	mu      sync.RWMutex
	aliases map[string]string // lowercase alias -> canonical name
}

// DefaultSites returns the registry preloaded with the standing zones.
func DefaultSites() *Sites {
	s := &Sites{aliases: make(map[string]string)}
	for _, name := range []string{"ALPHA", "BRAVO", "CHARLIE", "DELTA", "ECHO"} {
		s.Add(name, strings.ToLower(name[:1]))
	}
	return s
}

// Add registers a site under its own lowercased name plus an optional
// shortcut alias. Returns false if the site already exists.
func (s *Sites) Add(name string, shortcut string) bool {
	name = strings.ToUpper(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.aliases[strings.ToLower(name)]; ok {
		return false
	}
	s.aliases[strings.ToLower(name)] = name
	if shortcut != "" {
		s.aliases[strings.ToLower(shortcut)] = name
	}
	return true
}

// Detect scans free text for a known site alias or a "zone X" phrase
// and returns the canonical site name, or "" if nothing matches.
func (s *Sites) Detect(text string) string {
	t := strings.ToLower(text)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, token := range tokenSplit.Split(t, -1) {
		if site, ok := s.aliases[token]; ok {
			return site
		}
	}
	if m := zonePattern.FindStringSubmatch(t); m != nil {
		if site, ok := s.aliases[m[1]]; ok {
			return site
		}
	}
	return ""
}

// DetectPhase returns the phase named by a before/after keyword in the
// caption, or PhaseRejected if the caption gives no hint. A keyword
// always wins over the time-window fallback: the crew's own label is
// more trustworthy than the clock.
func DetectPhase(caption string) photo.Phase {
	t := strings.ToLower(caption)
	for _, token := range tokenSplit.Split(t, -1) {
		if beforeWords[token] {
			return photo.PhaseBefore
		}
		if afterWords[token] {
			return photo.PhaseAfter
		}
	}
	return photo.PhaseRejected
}

// DetectTask infers the task from drainage keywords, defaulting to
// grass cutting like the chat adapter does.
func DetectTask(caption string) string {
	t := strings.ToLower(caption)
	for _, w := range drainWords {
		if strings.Contains(t, w) {
			return TaskDrain
		}
	}
	return TaskGrass
}
