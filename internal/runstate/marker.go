package runstate

import (
	"encoding/json"
	"strconv"
	"strings"
)

type handleMeta struct {
	Start int64 `json:"start"`
}

// ParseHandle decodes PID marker content. The first line must hold a positive
// decimal PID; an optional second line may carry JSON metadata. Anything else
// (empty text, non-numeric PID) is reported as not ok.
func ParseHandle(b []byte) (Handle, bool) {
	text := strings.ReplaceAll(string(b), "\r\n", "\n")
	pidLine, rest, _ := strings.Cut(text, "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil || pid <= 0 {
		return Handle{}, false
	}
	h := Handle{PID: pid}
	metaLine, _, _ := strings.Cut(strings.TrimSpace(rest), "\n")
	if metaLine != "" {
		var m handleMeta
		// unreadable metadata never invalidates the PID
		if err := json.Unmarshal([]byte(metaLine), &m); err == nil && m.Start > 0 {
			h.Start = m.Start
		}
	}
	return h, true
}

// FormatHandle encodes h for the PID marker. Without a start stamp the marker
// is the bare decimal PID.
func FormatHandle(h Handle) []byte {
	s := strconv.Itoa(h.PID)
	if h.Start > 0 {
		mb, _ := json.Marshal(handleMeta{Start: h.Start})
		s += "\n" + string(mb)
	}
	return []byte(s + "\n")
}

// ParseEndpoint decodes endpoint marker content: the first non-blank line,
// trimmed. Empty content is not ok.
func ParseEndpoint(b []byte) (Endpoint, bool) {
	for _, line := range strings.Split(string(b), "\n") {
		if addr := strings.TrimSpace(line); addr != "" {
			return Endpoint{Address: addr}, true
		}
	}
	return Endpoint{}, false
}
