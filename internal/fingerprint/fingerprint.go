// Package fingerprint renders a peer's public-key fingerprint as both a
// short human-comparable string and a terminal QR code, so two people on a
// call can read it aloud or scan it to confirm they share the same session
// (SPEC_FULL.md §4.2's "a user can compare it out of band"). Grounded on
// cli.go's showLinkQR, which renders a peer link with
// github.com/mdp/qrterminal/v3 the same way.
package fingerprint

import (
	"fmt"
	"io"

	qrterminal "github.com/mdp/qrterminal/v3"
)

// Render prints fp's short form followed by a QR encoding of fp itself to
// w, in the same two-line "label then code" layout as cli.go's
// showLinkQR.
func Render(w io.Writer, fp string) {
	fmt.Fprintf(w, "Peer fingerprint: %s\n", fp)
	fmt.Fprintln(w, "Compare this with your peer out of band, or scan:")
	qrterminal.GenerateWithConfig(fp, qrterminal.Config{
		Level:     qrterminal.M,
		Writer:    w,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
		QuietZone: 1,
	})
}

// Matches reports whether two fingerprints, as rendered by
// cryptocore.Fingerprint, are equal. A thin wrapper so callers never need
// to reach for string comparison directly when checking a hand-confirmed
// value against the session's.
func Matches(confirmed, actual string) bool {
	return confirmed == actual
}
