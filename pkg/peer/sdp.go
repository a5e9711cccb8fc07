package peer

import (
	"errors"

	"github.com/pion/sdp/v3"
)

var ErrNoUfrag = errors.New("no ice-ufrag attribute")

// ICEUfrag returns the ICE username fragment of a description. It changes
// with every ICE restart.
func ICEUfrag(payload string) (string, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(payload)); err != nil {
		return "", err
	}

	if ufrag, ok := sd.Attribute("ice-ufrag"); ok {
		return ufrag, nil
	}

	for _, md := range sd.MediaDescriptions {
		if ufrag, ok := md.Attribute("ice-ufrag"); ok {
			return ufrag, nil
		}
	}

	return "", ErrNoUfrag
}
