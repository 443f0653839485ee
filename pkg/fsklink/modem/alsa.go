package modem

import (
	"fmt"
	"os/exec"
	"strings"
)

// DeviceType selects which ALSA device listing to search.
type DeviceType string

const (
	DeviceInput  DeviceType = "input"
	DeviceOutput DeviceType = "output"
)

// FindALSADevice resolves a "card,device" ALSA string from device
// description text, so the correct card is found even when the
// connected audio hardware changes between boots. Descriptions are
// sourced from `arecord -l` (input) or `aplay -l` (output).
func FindALSADevice(desc string, typ DeviceType) (string, error) {
	var cmd *exec.Cmd
	switch typ {
	case DeviceInput:
		cmd = exec.Command("arecord", "-l")
	case DeviceOutput:
		cmd = exec.Command("aplay", "-l")
	default:
		return "", fmt.Errorf("unknown device type: %s", typ)
	}

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("list alsa devices: %w", err)
	}

	dev, ok := parseALSADevice(string(out), desc)
	if !ok {
		return "", fmt.Errorf("no alsa %s device found containing %q", typ, desc)
	}
	return dev, nil
}

// parseALSADevice scans `arecord -l` style output for the first line
// containing desc and extracts the card and device numbers, e.g.
// "card 2: QDX [QDX], device 0: USB Audio" yields "2,0".
func parseALSADevice(listing, desc string) (string, bool) {
	for _, line := range strings.Split(listing, "\n") {
		if !strings.Contains(line, desc) {
			continue
		}
		card, ok := fieldAfter(line, "card")
		if !ok {
			continue
		}
		device, ok := fieldAfter(line, "device")
		if !ok {
			continue
		}
		return card + "," + device, true
	}
	return "", false
}

// fieldAfter extracts the token between a label and the next colon.
func fieldAfter(line, label string) (string, bool) {
	idx := strings.Index(line, label)
	if idx < 0 {
		return "", false
	}
	start := idx + len(label)
	end := strings.Index(line[start:], ":")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(line[start : start+end]), true
}
