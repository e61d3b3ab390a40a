package peer

import (
	"strings"

	"github.com/dkeye/roomcast/internal/domain"
	"github.com/pion/sdp/v3"
)

// roleHints reads video roles announced in a session description.
// a=content:slides (RFC 4796) marks a screen share, a=content:main a camera.
// Tracks are keyed by the track part of a=msid.
func roleHints(raw string) (map[string]domain.TrackRole, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return nil, err
	}
	hints := make(map[string]domain.TrackRole)
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "video" {
			continue
		}
		content, ok := md.Attribute("content")
		if !ok {
			continue
		}
		msid, ok := md.Attribute("msid")
		if !ok {
			continue
		}
		parts := strings.Fields(msid)
		if len(parts) < 2 {
			continue
		}
		switch content {
		case "slides":
			hints[parts[1]] = domain.RoleScreen
		case "main":
			hints[parts[1]] = domain.RoleCamera
		}
	}
	return hints, nil
}
