// Package episode maintains the catalog of playable episode files. The
// catalog is scanned once at startup from the content directory; random
// selection draws from a no-repeat pool that refills only when every
// episode has been played once.
package episode

import (
	"fmt"
	"io/fs"
	"math/rand"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Episode is one playable media file from the content directory.
type Episode struct {
	// Filename is the lowercased base name without extension; it is the
	// key users supply to the request command.
	Filename string
	Season   int
	Number   int
	Name     string
	Path     string
}

func (e Episode) String() string { return e.Name }

// Library is the scanned episode catalog plus the no-repeat random pool.
// Safe for concurrent use.
type Library struct {
	mu       sync.Mutex
	episodes []Episode
	pool     []int
}

// Scan walks dir recursively and catalogs every file with the given
// extension (without the dot). Files whose names do not follow the
// "NNN episode name" convention are skipped with a warning.
func Scan(dir, ext string) (*Library, error) {
	var episodes []Episode

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		base := strings.ToLower(d.Name())
		if !strings.HasSuffix(base, "."+ext) {
			return nil
		}
		base = strings.TrimSuffix(base, "."+ext)

		ep, ok := parse(base, path)
		if !ok {
			log.Warn().Str("file", d.Name()).Msg("Skipping unparseable episode file")
			return nil
		}
		episodes = append(episodes, ep)
		log.Debug().Str("episode", ep.Name).Int("season", ep.Season).Int("number", ep.Number).Msg("Found episode")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan content directory %s: %w", dir, err)
	}

	log.Info().Int("count", len(episodes)).Str("dir", dir).Msg("Episode catalog loaded")
	return &Library{episodes: episodes}, nil
}

// parse splits a base filename of the form "NNN episode name" where the
// first digit of the number block is the season and the rest the episode
// number within it ("103 hall monitor" = season 1, episode 3).
func parse(base, path string) (Episode, bool) {
	numberPart, name, ok := strings.Cut(base, " ")
	if !ok || len(numberPart) < 2 {
		return Episode{}, false
	}
	season, err := strconv.Atoi(numberPart[:1])
	if err != nil {
		return Episode{}, false
	}
	number, err := strconv.Atoi(numberPart[1:])
	if err != nil {
		return Episode{}, false
	}
	return Episode{
		Filename: base,
		Season:   season,
		Number:   number,
		Name:     strings.TrimSpace(name),
		Path:     path,
	}, true
}

// Len returns the catalog size.
func (l *Library) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.episodes)
}

// All returns a copy of the catalog.
func (l *Library) All() []Episode {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Episode, len(l.episodes))
	copy(out, l.episodes)
	return out
}

// ByFilename looks an episode up by its request key.
func (l *Library) ByFilename(filename string) (Episode, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	filename = strings.ToLower(filename)
	for _, ep := range l.episodes {
		if ep.Filename == filename {
			return ep, true
		}
	}
	return Episode{}, false
}

// Find resolves a request query to an episode. The full filename and
// the bare episode number ("103" for "103 hall monitor") both match.
func (l *Library) Find(query string) (Episode, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	query = strings.ToLower(strings.TrimSpace(query))
	for _, ep := range l.episodes {
		if ep.Filename == query || strings.HasPrefix(ep.Filename, query+" ") {
			return ep, true
		}
	}
	return Episode{}, false
}

// NextRandom draws one episode from the no-repeat pool, refilling the
// pool when it runs dry. Returns false on an empty catalog.
func (l *Library) NextRandom() (Episode, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.episodes) == 0 {
		return Episode{}, false
	}
	if len(l.pool) == 0 {
		l.pool = make([]int, len(l.episodes))
		for i := range l.pool {
			l.pool[i] = i
		}
	}

	i := rand.Intn(len(l.pool))
	idx := l.pool[i]
	l.pool = append(l.pool[:i], l.pool[i+1:]...)
	return l.episodes[idx], true
}

// Any returns a uniformly random episode without consulting the pool.
// Crate generation uses this so crates never deplete the playback pool.
func (l *Library) Any() (Episode, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.episodes) == 0 {
		return Episode{}, false
	}
	return l.episodes[rand.Intn(len(l.episodes))], true
}
