package sweep

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	tokenRe   = regexp.MustCompile(`Current token: (\d+)`)
	logFileRe = regexp.MustCompile(`log_(\d+)\.txt$`)
)

// MoteStats is what a trickle mote log says about one mote.
type MoteStats struct {
	Node  int `json:"node"`
	TX    int `json:"tx"`
	Token int `json:"token"` // -1 when the mote never reported
}

// ParseMoteLog reads a "tick;message" mote log and counts Trickle transmissions. The
// last reported token wins.
func ParseMoteLog(r io.Reader) (MoteStats, error) {
	st := MoteStats{Token: -1}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		_, msg, ok := strings.Cut(sc.Text(), ";")
		if !ok {
			return st, fmt.Errorf("line %d: missing ';'", line)
		}
		switch {
		case strings.Contains(msg, "Trickle TX"):
			st.TX++
		case strings.Contains(msg, "Current token"):
			if m := tokenRe.FindStringSubmatch(msg); m != nil {
				st.Token, _ = strconv.Atoi(m[1])
			}
		}
	}
	return st, sc.Err()
}

// RunStats totals the mote logs of one run directory.
type RunStats struct {
	Motes       []MoteStats `json:"motes"`
	TotalTX     int         `json:"total_tx"`
	WithToken   int         `json:"with_token"`
	CoveragePct float64     `json:"coverage_pct"`
}

// ParseRunDir parses every mote log in dir. total is the number of motes in the run;
// motes without a log count as not holding the token. expected is the token value
// disseminated by the source.
func ParseRunDir(dir string, total, expected int) (RunStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return RunStats{}, err
	}
	var rs RunStats
	for _, e := range entries {
		m := logFileRe.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		node, _ := strconv.Atoi(m[1])
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return RunStats{}, err
		}
		st, err := ParseMoteLog(f)
		f.Close()
		if err != nil {
			return RunStats{}, fmt.Errorf("%s: %w", e.Name(), err)
		}
		st.Node = node
		rs.Motes = append(rs.Motes, st)
		rs.TotalTX += st.TX
		if st.Token == expected {
			rs.WithToken++
		}
	}
	sort.Slice(rs.Motes, func(i, j int) bool { return rs.Motes[i].Node < rs.Motes[j].Node })
	if total > 0 {
		rs.CoveragePct = float64(rs.WithToken) / float64(total) * 100
	}
	return rs, nil
}
