package anova

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Commands are UTF-8 text terminated with a carriage return. Replies come
// back as notification text with no terminator at all.
const (
	cmdStatus      = "status\r"
	cmdReadUnit    = "read unit\r"
	cmdReadSetTemp = "read set temp\r"
	cmdReadTemp    = "read temp\r"
	cmdStart       = "start\r"
	cmdStop        = "stop\r"
	cmdSetTempFmt  = "set temp %.1f\r"
	cmdSetTimerFmt = "set timer %d\r"
	cmdSetUnitsFmt = "set units %s\r"
)

// AckOutcome classifies the device's reaction to a write command.
type AckOutcome int

const (
	// Acknowledged means the device sent back a non-empty reply.
	Acknowledged AckOutcome = iota
	// NoReply means nothing came back before the deadline.
	NoReply
	// Malformed means bytes arrived but were not decodable as text.
	Malformed
)

func (o AckOutcome) String() string {
	switch o {
	case Acknowledged:
		return "acknowledged"
	case NoReply:
		return "no-reply"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("AckOutcome(%d)", int(o))
	}
}

// classifyAck applies the fire-and-confirm rule: any non-empty reply is an
// acknowledgement, an empty or absent one is a failure signal.
func classifyAck(reply string, ok bool) AckOutcome {
	if !ok {
		return NoReply
	}
	if strings.TrimSpace(reply) == "" {
		return Malformed
	}
	return Acknowledged
}

func setTempCommand(value float64) string {
	return fmt.Sprintf(cmdSetTempFmt, value)
}

func setTimerCommand(minutes int) string {
	return fmt.Sprintf(cmdSetTimerFmt, minutes)
}

func setUnitCommand(unit Unit) string {
	return fmt.Sprintf(cmdSetUnitsFmt, string(unit))
}

// decodeRunning matches the run-state reply. An ambiguous reply is not an
// error, just non-informative, so the second return reports whether the
// text said anything at all.
func decodeRunning(reply string) (running, ok bool) {
	lower := strings.ToLower(reply)
	switch {
	case strings.Contains(lower, "running"):
		return true, true
	case strings.Contains(lower, "stopped"):
		return false, true
	default:
		return false, false
	}
}

// decodeUnit maps the unit reply: any f means Fahrenheit, else Celsius.
func decodeUnit(reply string) Unit {
	if strings.Contains(strings.ToLower(reply), "f") {
		return UnitFahrenheit
	}
	return UnitCelsius
}

var nonNumeric = regexp.MustCompile(`[^0-9.\-]`)

// decodeTemperature strips everything but digits, dot and minus, then
// parses the remainder. A reply that does not survive as a number is
// silently dropped (ok=false), never an error.
func decodeTemperature(reply string) (float64, bool) {
	cleaned := nonNumeric.ReplaceAllString(reply, "")
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var timerPattern = regexp.MustCompile(`(?i)timer[:\s]+(\d+)`)

// decodeTimer pulls a timer value out of a status reply when present.
func decodeTimer(reply string) (int, bool) {
	m := timerPattern.FindStringSubmatch(reply)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

func fahrenheitToCelsius(v float64) float64 {
	return (v - 32) * 5 / 9
}

func celsiusToFahrenheit(v float64) float64 {
	return v*9/5 + 32
}

// normalizeTemperature converts a raw device reading to Celsius using the
// unit the device was last known to report in.
func normalizeTemperature(raw float64, deviceUnit Unit) float64 {
	if deviceUnit == UnitFahrenheit {
		return fahrenheitToCelsius(raw)
	}
	return raw
}
