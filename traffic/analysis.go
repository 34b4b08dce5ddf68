// Package traffic contains the road-crossing analysis result and the parser
// for the fixed-format text the remote analyzer returns.
package traffic

import "strings"

// Status classifies how safe it currently is to cross the road.
type Status string

// The three recognized crossing statuses.
const (
	StatusSafe    Status = "safe"
	StatusCaution Status = "caution"
	StatusDanger  Status = "danger"
)

// Conservative guidance used whenever the analyzer response is missing,
// unparseable, or a cycle failed outright.
const (
	defaultInstruction      = "Wait and be careful before crossing"
	defaultHindiInstruction = "रुकिए और सड़क पार करने से पहले सावधान रहिए"
	errorInstruction        = "Unable to analyze the road. Please wait and ask for help"
	errorHindiInstruction   = "सड़क का विश्लेषण नहीं हो पाया। कृपया रुकें और मदद लें"
)

// Analysis is one immutable road-crossing reading. CanCross is derived
// strictly from Status: it is true only when Status is StatusSafe.
type Analysis struct {
	Status           Status   `json:"status"`
	Instruction      string   `json:"instruction"`
	HindiInstruction string   `json:"hindi_instruction"`
	Vehicles         []string `json:"vehicles"`
	CanCross         bool     `json:"can_cross"`
}

// ErrorAnalysis returns the fixed conservative fallback produced when any
// stage of an analysis cycle fails. It never permits crossing.
func ErrorAnalysis() Analysis {
	return Analysis{
		Status:           StatusCaution,
		Instruction:      errorInstruction,
		HindiInstruction: errorHindiInstruction,
		Vehicles:         []string{},
		CanCross:         false,
	}
}

// Recognized line labels. Matching is case-insensitive and line order does
// not matter; unrecognized lines are skipped.
const (
	labelStatus      = "STATUS:"
	labelVehicles    = "VEHICLES:"
	labelInstruction = "INSTRUCTION:"
	labelHindi       = "HINDI:"
)

// Parse turns the analyzer's free-text response into an Analysis. It is
// deliberately tolerant: a missing or ambiguous STATUS line leaves the
// conservative caution default in place, so the result can never read
// "safe" unless the response said so.
func Parse(response string) Analysis {
	out := Analysis{
		Status:           StatusCaution,
		Instruction:      defaultInstruction,
		HindiInstruction: defaultHindiInstruction,
		Vehicles:         []string{},
		CanCross:         false,
	}

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, labelStatus):
			out.Status = parseStatus(line[len(labelStatus):])
		case strings.HasPrefix(upper, labelVehicles):
			out.Vehicles = parseVehicles(line[len(labelVehicles):])
		case strings.HasPrefix(upper, labelInstruction):
			if v := strings.TrimSpace(line[len(labelInstruction):]); v != "" {
				out.Instruction = v
			}
		case strings.HasPrefix(upper, labelHindi):
			if v := strings.TrimSpace(line[len(labelHindi):]); v != "" {
				out.HindiInstruction = v
			}
		}
	}

	out.CanCross = out.Status == StatusSafe
	return out
}

// parseStatus maps the STATUS value onto a Status. Danger words win over
// safe words when both appear; anything unrecognized stays caution.
func parseStatus(value string) Status {
	v := strings.ToLower(strings.TrimSpace(value))
	switch {
	case strings.Contains(v, "danger") || strings.Contains(v, "stop"):
		return StatusDanger
	case strings.Contains(v, "safe") || strings.Contains(v, "clear"):
		return StatusSafe
	default:
		return StatusCaution
	}
}

func parseVehicles(value string) []string {
	v := strings.TrimSpace(value)
	if v == "" || strings.EqualFold(v, "none") {
		return []string{}
	}
	parts := strings.Split(v, ",")
	vehicles := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			vehicles = append(vehicles, p)
		}
	}
	return vehicles
}
