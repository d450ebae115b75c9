// Log markers and init commands of the dissemination firmware under test
package protocol

import (
	"fmt"
	"sort"
	"strings"

	"tpwsn-sim/internal/topology"
)

// NaN is the token recorded for a mote whose report cannot be trusted.
const NaN = "NaN"

// Params are forwarded verbatim to the firmware at start.
type Params struct {
	TrickleIMin            int `yaml:"imin" json:"imin"`
	TrickleIMax            int `yaml:"imax" json:"imax"`
	TrickleRedundancyConst int `yaml:"k" json:"k"`
	SourceMessageLimit     int `yaml:"source_message_limit" json:"source_message_limit"`
}

// Command is a text command addressed to one mote.
type Command struct {
	Node topology.NodeID
	Text string
}

// FloodTrigger starts dissemination once the source has logged Marker Count times.
type FloodTrigger struct {
	Marker  string
	Count   int
	Command string
}

// Profile describes how to read one firmware's log output.
type Profile struct {
	Name string
	// MessageMarker counts data transmissions.
	MessageMarker string
	// AnnouncementMarker counts control traffic such as neighbour advertisements.
	AnnouncementMarker string
	// CoverageMarker is logged when a mote first receives the disseminated value.
	CoverageMarker string
	// ConsistentMarkers are logged when a mote holds the final value (no-failure runs).
	ConsistentMarkers []string
	// SinkMarker, when set, completes a no-failure run as soon as it is logged.
	SinkMarker    string
	TokenPrefix   string
	ExpectedToken string
	ReportCommand string
	Flood         *FloodTrigger
	init          func(source, sink topology.NodeID, all []topology.NodeID, p Params) []Command
}

// Correct reports whether a token matches the disseminated value.
func (p Profile) Correct(token string) bool {
	return token != "" && token != NaN && strings.Contains(token, p.ExpectedToken)
}

// Consistent reports whether msg is one of the profile's consistency markers.
func (p Profile) Consistent(msg string) bool {
	for _, m := range p.ConsistentMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// ParseToken extracts the value following TokenPrefix. ok is false when msg is not a
// token report; an empty value is returned as NaN.
func (p Profile) ParseToken(msg string) (token string, ok bool) {
	if p.TokenPrefix == "" {
		return "", false
	}
	i := strings.Index(msg, p.TokenPrefix)
	if i < 0 {
		return "", false
	}
	token = strings.TrimSpace(msg[i+len(p.TokenPrefix):])
	if token == "" {
		return NaN, true
	}
	return token, true
}

// InitCommands returns the commands sent once roles are assigned.
func (p Profile) InitCommands(source, sink topology.NodeID, all []topology.NodeID, params Params) []Command {
	if p.init == nil {
		return nil
	}
	return p.init(source, sink, all, params)
}

// RMH is the Rime multihop flood: the sink receiving "hello" ends a no-failure run.
var RMH = Profile{
	Name:               "rmh",
	MessageMarker:      "Forwarding packet to",
	AnnouncementMarker: "sending neighbor advertisement with val",
	CoverageMarker:     "multihop message received",
	ConsistentMarkers:  []string{"multihop message received 'hello'", "sink received 'hello'"},
	SinkMarker:         "sink received 'hello'",
	TokenPrefix:        "Current token: ",
	ExpectedToken:      "hello",
	ReportCommand:      "print",
	Flood:              &FloodTrigger{Marker: "adv_packet_received", Count: 3, Command: "button"},
}

// Trickle is the Trickle-timer token dissemination.
var Trickle = Profile{
	Name:              "trickle",
	MessageMarker:     "Trickle TX",
	CoverageMarker:    "Theirs is newer",
	ConsistentMarkers: []string{"Consistent"},
	TokenPrefix:       "Current token: ",
	ExpectedToken:     "1",
	ReportCommand:     "print",
	init:              trickleInit,
}

func trickleInit(source, sink topology.NodeID, all []topology.NodeID, p Params) []Command {
	limit := p.SourceMessageLimit
	if limit <= 0 {
		limit = 1
	}
	cmds := []Command{
		{Node: source, Text: "set source"},
		{Node: source, Text: fmt.Sprintf("limit %d", limit)},
		{Node: sink, Text: "set sink"},
	}
	initText := fmt.Sprintf("init %d %d %d", p.TrickleIMin, p.TrickleIMax, p.TrickleRedundancyConst)
	for _, id := range all {
		cmds = append(cmds, Command{Node: id, Text: initText})
	}
	return cmds
}

var profiles = map[string]Profile{
	RMH.Name:     RMH,
	Trickle.Name: Trickle,
}

// ByName looks up a built-in profile.
func ByName(name string) (Profile, error) {
	p, ok := profiles[strings.ToLower(name)]
	if !ok {
		return Profile{}, fmt.Errorf("unknown protocol %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names lists the built-in profiles.
func Names() []string {
	out := make([]string, 0, len(profiles))
	for n := range profiles {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
