// Package hvsc provides minimal read-only access to a High Voltage
// SID Collection tree: the Songlengths database (per-subtune
// durations, keyed by tune MD5) and the STIL text (freeform comments
// per tune path). Grounded on
// original_source/src/player/sldb.rs and stil.rs.
package hvsc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Songlengths is a parsed Songlengths.md5 (or the older
// Songlengths.txt) database: one entry per tune MD5 hash, holding its
// HVSC-relative filename and raw per-subtune length string.
type Songlengths struct {
	byHash map[string]sldbEntry
}

type sldbEntry struct {
	filename string
	lengths  string
}

// ParseSonglengths reads a Songlengths.md5/.txt file body. The format
// is a `[Database]` header, then repeating blocks of a `; path` filename
// comment followed by one `hash=m:ss m:ss ...` line per tune.
func ParseSonglengths(r io.Reader) (*Songlengths, error) {
	scanner := bufio.NewScanner(r)
	if err := validateHeader(scanner); err != nil {
		return nil, err
	}

	db := &Songlengths{byHash: make(map[string]sldbEntry, 1024)}

	var filename, hash, lengths string
	flush := func() {
		if lengths != "" {
			db.byHash[hash] = sldbEntry{filename: filename, lengths: lengths}
		}
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line[0] {
		case '#':
			continue
		case ';':
			flush()
			lengths = ""
			filename = strings.TrimSpace(line[1:])
		default:
			if h, l, ok := strings.Cut(line, "="); ok {
				hash, lengths = h, l
			}
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("hvsc: reading songlengths: %w", err)
	}
	return db, nil
}

func validateHeader(scanner *bufio.Scanner) error {
	const maxLinesToValidate = 20
	for i := 0; scanner.Scan(); i++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == ';' || line[0] == '#' {
			if i >= maxLinesToValidate {
				break
			}
			continue
		}
		if strings.HasPrefix(line, "[Database]") {
			return nil
		}
		break
	}
	return fmt.Errorf("hvsc: songlengths file format error")
}

// Filename returns the HVSC-relative path stored for a tune hash.
func (s *Songlengths) Filename(md5Hash string) (string, bool) {
	e, ok := s.byHash[md5Hash]
	return e.filename, ok
}

// SongLength returns the duration of subTune (0-based) in
// milliseconds, or false if the hash or subtune index is unknown.
func (s *Songlengths) SongLength(md5Hash string, subTune int) (int, bool) {
	e, ok := s.byHash[md5Hash]
	if !ok {
		return 0, false
	}
	fields := strings.Fields(e.lengths)
	if subTune < 0 || subTune >= len(fields) {
		return 0, false
	}
	return parseTimeToMillis(stripIndicators(fields[subTune])), true
}

// stripIndicators drops a trailing "(...)" annotation HVSC sometimes
// appends to a length (loop markers, etc).
func stripIndicators(s string) string {
	if i := strings.IndexByte(s, '('); i >= 0 {
		return s[:i]
	}
	return s
}

func parseTimeToMillis(s string) int {
	time, millisStr, hasMillis := strings.Cut(s, ".")
	if !hasMillis {
		millisStr = "0"
	}
	minutesStr, secondsStr, hasColon := strings.Cut(time, ":")
	if !hasColon {
		minutesStr, secondsStr = "5", "0"
	}

	minutes, err := strconv.Atoi(minutesStr)
	if err != nil {
		minutes = 5
	}
	seconds, err := strconv.Atoi(secondsStr)
	if err != nil {
		seconds = 0
	}
	millis, err := strconv.Atoi(millisStr)
	if err != nil {
		millis = 0
	}
	return (minutes*60+seconds)*1000 + millis
}
