package twilio

import (
	"fmt"
	"strings"
)

func holdTwiml(seconds int) string {
	return fmt.Sprintf(`<Response><Pause length="%d"/></Response>`, seconds)
}

// playTwiml plays the prompt then keeps the line open for the answer; the
// call ends when the pause runs out.
func playTwiml(audioURL string, listenSeconds int) string {
	return fmt.Sprintf(`<Response><Play>%s</Play><Pause length="%d"/></Response>`, xmlEscape(audioURL), listenSeconds)
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}

func normalizePublicURL(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}

// recordingChannels maps the neutral channel names onto Twilio's.
func recordingChannels(channels string) string {
	switch strings.ToLower(strings.TrimSpace(channels)) {
	case "dual", "double", "2":
		return "dual"
	default:
		return "mono"
	}
}

func recordingExtension(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "wav":
		return ".wav"
	default:
		return ".mp3"
	}
}
