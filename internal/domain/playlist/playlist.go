// Package playlist provides the Playlist domain entity used to seed queues.
package playlist

import (
	"bufio"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/jukebox/internal/domain/media"
)

// Entry is a single playlist line.
type Entry struct {
	Locator  string        // File path or URL
	Title    string        // Title from #EXTINF, may be empty
	Duration time.Duration // Duration from #EXTINF, zero when unknown
}

// Playlist represents an ordered list of entries.
type Playlist struct {
	Name    string  // Playlist name (#PLAYLIST or file name)
	Entries []Entry // Entries in playback order
}

// Locators returns all entry locators.
func (p *Playlist) Locators() []string {
	locators := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		locators[i] = e.Locator
	}
	return locators
}

// TotalDuration returns the sum of the known entry durations.
func (p *Playlist) TotalDuration() time.Duration {
	var total time.Duration
	for _, e := range p.Entries {
		total += e.Duration
	}
	return total
}

// Dedupe removes entries whose locator already appeared earlier and
// returns how many were removed.
func (p *Playlist) Dedupe() int {
	seen := make(map[string]struct{}, len(p.Entries))
	kept := p.Entries[:0]
	for _, e := range p.Entries {
		if _, ok := seen[e.Locator]; ok {
			continue
		}
		seen[e.Locator] = struct{}{}
		kept = append(kept, e)
	}
	removed := len(p.Entries) - len(kept)
	p.Entries = kept
	return removed
}

// Items creates unloaded media items for every entry.
func (p *Playlist) Items() []*media.Item {
	items := make([]*media.Item, len(p.Entries))
	for i, e := range p.Entries {
		items[i] = media.NewItem(e.Locator, e.Title)
	}
	return items
}

// Load reads an M3U/M3U8 playlist file. Relative entries are resolved
// against the playlist's directory.
func Load(path string) (*Playlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open playlist")
	}
	defer f.Close()

	p, err := Parse(f, filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse playlist %s", path)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// Parse parses M3U content. Both plain and extended (#EXTM3U) playlists are
// accepted; unknown directives are skipped.
func Parse(r io.Reader, baseDir string) (*Playlist, error) {
	p := &Playlist{}
	scanner := bufio.NewScanner(r)

	var pending *Entry
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			switch {
			case strings.HasPrefix(line, "#EXTINF:"):
				e, err := parseExtInf(strings.TrimPrefix(line, "#EXTINF:"))
				if err != nil {
					return nil, errors.Wrapf(err, "line %d", lineNo)
				}
				pending = &e
			case strings.HasPrefix(line, "#PLAYLIST:"):
				p.Name = strings.TrimSpace(strings.TrimPrefix(line, "#PLAYLIST:"))
			}
			continue
		}

		e := Entry{}
		if pending != nil {
			e = *pending
			pending = nil
		}
		e.Locator = resolveLocator(line, baseDir)
		p.Entries = append(p.Entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read playlist")
	}
	return p, nil
}

// parseExtInf parses "<seconds>[ attrs],<title>".
func parseExtInf(s string) (Entry, error) {
	head, title, _ := strings.Cut(s, ",")
	if i := strings.IndexByte(head, ' '); i >= 0 {
		head = head[:i]
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(head), 64)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "invalid #EXTINF duration %q", head)
	}
	e := Entry{Title: strings.TrimSpace(title)}
	if secs > 0 {
		e.Duration = time.Duration(secs * float64(time.Second))
	}
	return e, nil
}

func resolveLocator(line, baseDir string) string {
	if u, err := url.Parse(line); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return line
	}
	if filepath.IsAbs(line) || baseDir == "" {
		return line
	}
	return filepath.Join(baseDir, line)
}
