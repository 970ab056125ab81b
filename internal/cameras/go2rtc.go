package cameras

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Go2RTCStream is one camera found in a go2rtc.yaml streams section.
type Go2RTCStream struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Channel int    `json:"channel"`
	Subtype int    `json:"subtype"`
	FPS     int    `json:"fps,omitempty"`
	HD      bool   `json:"hd"`
	Vendor  string `json:"vendor"`
}

type go2rtcFile struct {
	Streams map[string]yaml.Node `yaml:"streams"`
}

var (
	invalidIDChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)
	queryInt       = regexp.MustCompile(`(?i)(channel|subtype)=(\d+)`)
)

// ParseGo2RTC extracts cameras from a go2rtc configuration. Each stream may
// be a single source string or a list; the first rtsp source is used and
// streams without one are skipped. Results are sorted by id.
func ParseGo2RTC(data []byte) ([]Go2RTCStream, error) {
	var file go2rtcFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, NewCameraError(ErrCodeConfigError, "failed to parse go2rtc config", err)
	}

	var out []Go2RTCStream
	for id, node := range file.Streams {
		var sources []string
		switch node.Kind {
		case yaml.ScalarNode:
			sources = []string{node.Value}
		case yaml.SequenceNode:
			if err := node.Decode(&sources); err != nil {
				return nil, NewCameraError(ErrCodeConfigError, fmt.Sprintf("stream %s: sources must be strings", id), err)
			}
		default:
			continue
		}

		for _, src := range sources {
			if st, ok := parseRTSPSource(id, src); ok {
				out = append(out, st)
				break
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func parseRTSPSource(id, src string) (Go2RTCStream, bool) {
	src = strings.TrimSpace(src)
	lower := strings.ToLower(src)
	if !strings.HasPrefix(lower, "rtsp://") && !strings.HasPrefix(lower, "rtsps://") {
		return Go2RTCStream{}, false
	}

	// go2rtc appends its own options after '#'; ffmpeg must not see them.
	address, options, _ := strings.Cut(src, "#")
	u, err := url.Parse(address)
	if err != nil || u.Hostname() == "" {
		return Go2RTCStream{}, false
	}

	st := Go2RTCStream{
		ID:      id,
		Address: address,
		Host:    u.Hostname(),
		Port:    554,
		Channel: 1,
		Subtype: 1,
		HD:      strings.Contains(strings.ToLower(id), "hd"),
		Vendor:  detectVendor(lower),
	}
	if p, err := strconv.Atoi(u.Port()); err == nil {
		st.Port = p
	}
	for _, m := range queryInt.FindAllStringSubmatch(u.RawQuery, -1) {
		n, _ := strconv.Atoi(m[2])
		if strings.EqualFold(m[1], "channel") {
			st.Channel = n
		} else {
			st.Subtype = n
		}
	}
	for _, opt := range strings.Split(options, "#") {
		if v, ok := strings.CutPrefix(opt, "fps="); ok {
			st.FPS, _ = strconv.Atoi(v)
		}
	}
	return st, true
}

func detectVendor(lowerURL string) string {
	switch {
	case strings.Contains(lowerURL, "/cam/realmonitor"), strings.Contains(lowerURL, "dahua"):
		return "dahua"
	case strings.Contains(lowerURL, "/streaming/channels/"), strings.Contains(lowerURL, "hikvision"):
		return "hikvision"
	case strings.Contains(lowerURL, "/axis-media/"), strings.Contains(lowerURL, "axis"):
		return "axis"
	case strings.Contains(lowerURL, "onvif"):
		return "onvif"
	default:
		return "ip_camera"
	}
}

// UniqueGo2RTC keeps one stream per host and channel, preferring HD variants.
func UniqueGo2RTC(streams []Go2RTCStream) []Go2RTCStream {
	best := make(map[string]Go2RTCStream)
	var order []string
	for _, st := range streams {
		key := fmt.Sprintf("%s_%d", st.Host, st.Channel)
		cur, seen := best[key]
		if !seen {
			order = append(order, key)
		}
		if !seen || (st.HD && !cur.HD) {
			best[key] = st
		}
	}
	out := make([]Go2RTCStream, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// Descriptor converts the stream into a camera descriptor.
func (st Go2RTCStream) Descriptor() Descriptor {
	id := strings.Trim(invalidIDChars.ReplaceAllString(st.ID, "-"), "-.")
	desc := "Camera " + st.ID
	if st.Channel > 1 {
		desc += fmt.Sprintf(" channel %d", st.Channel)
	}
	if st.HD {
		desc += " (HD)"
	}
	return Descriptor{
		ID:          id,
		Name:        st.ID,
		Address:     st.Address,
		Enabled:     true,
		FPS:         st.FPS,
		Description: desc,
		Location:    st.Host,
	}
}

// Go2RTCDescriptors parses a go2rtc config and returns one descriptor per
// RTSP stream, optionally reduced with UniqueGo2RTC.
func Go2RTCDescriptors(data []byte, unique, enabled bool) ([]Descriptor, error) {
	streams, err := ParseGo2RTC(data)
	if err != nil {
		return nil, err
	}
	if unique {
		streams = UniqueGo2RTC(streams)
	}
	out := make([]Descriptor, len(streams))
	for i, st := range streams {
		out[i] = st.Descriptor()
		out[i].Enabled = enabled
	}
	return out, nil
}

// redact hides URL credentials for logs and events.
func redact(address string) string {
	u, err := url.Parse(address)
	if err != nil || u.User == nil {
		return address
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
