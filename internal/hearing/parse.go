package hearing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kalambet/vitals/internal/engine"
	"github.com/kalambet/vitals/internal/profile"
)

// Marker grammar. Blocks are HTML comments so they stay invisible if a raw
// reply ever reaches a renderer:
//
//	<!--EXTRACTED_DATA
//	{ExtractedData JSON}
//	EXTRACTED_DATA-->
//
//	<!--ISSUE_DECISION
//	{"decision": "approve|reject|custom|clarify", "customAction": {...}|null}
//	ISSUE_DECISION-->
//
//	<!--MODE_SWITCH: data_analysis|help-->
//	<!--SESSION_CONTROL: pause-->
//
// The JSON payload of a block runs from its first '{' to its last '}'; code
// fences inside a block are ignored. There is no escaping: a payload must not
// contain the closing token. Only the first block of each kind is used.
var (
	extractedRe  = regexp.MustCompile(`(?s)<!--\s*EXTRACTED_DATA(.*?)EXTRACTED_DATA\s*-->`)
	decisionRe   = regexp.MustCompile(`(?s)<!--\s*ISSUE_DECISION(.*?)ISSUE_DECISION\s*-->`)
	modeRe       = regexp.MustCompile(`<!--\s*MODE_SWITCH:\s*(\w+)\s*-->`)
	controlRe    = regexp.MustCompile(`<!--\s*SESSION_CONTROL:\s*(\w+)\s*-->`)
	danglingRe   = regexp.MustCompile(`(?s)<!--\s*(?:EXTRACTED_DATA|ISSUE_DECISION).*$`)
	commentRe    = regexp.MustCompile(`(?s)<!--.*?-->`)
	fenceRe      = regexp.MustCompile("(?s)```.*?```")
	strayFenceRe = regexp.MustCompile("```[a-z]*")
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// Mode is a conversation mode the user asked to switch to.
type Mode string

const (
	ModeDataAnalysis Mode = "data_analysis"
	ModeHelp         Mode = "help"
)

// Decision is the user's verdict on the presented profile issues.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionCustom  Decision = "custom"
	DecisionClarify Decision = "clarify"
)

// IssueDecision is the parsed ISSUE_DECISION block.
type IssueDecision struct {
	Decision     Decision        `json:"decision"`
	CustomAction *profile.Action `json:"customAction"`
}

// Turn is a parsed model reply.
type Turn struct {
	// Reply is the user-visible text with every marker removed.
	Reply string
	// Extracted is nil when the block is absent or invalid: the turn then
	// carries no new information.
	Extracted *profile.ExtractedData
	Decision  *IssueDecision
	Mode      Mode
	Pause     bool
}

type extractedOutput struct {
	QuestionID         string          `json:"questionId"`
	SectionID          string          `json:"sectionId"`
	RawAnswer          string          `json:"rawAnswer"`
	ExtractedFacts     *[]profile.Fact `json:"extractedFacts"`
	IsSkipped          bool            `json:"isSkipped"`
	NeedsClarification bool            `json:"needsClarification"`
}

// ParseTurn splits a raw model reply into visible text and typed signals.
func ParseTurn(raw string) Turn {
	var t Turn

	if m := extractedRe.FindStringSubmatch(raw); m != nil {
		t.Extracted, _ = parseExtracted(m[1])
	}
	if m := decisionRe.FindStringSubmatch(raw); m != nil {
		if d, err := parseDecision(m[1]); err == nil {
			t.Decision = d
		}
	}
	if m := modeRe.FindStringSubmatch(raw); m != nil {
		switch mode := Mode(m[1]); mode {
		case ModeDataAnalysis, ModeHelp:
			t.Mode = mode
		}
	}
	if m := controlRe.FindStringSubmatch(raw); m != nil && strings.EqualFold(m[1], "pause") {
		t.Pause = true
	}

	t.Reply = visibleText(raw)
	return t
}

func visibleText(raw string) string {
	s := extractedRe.ReplaceAllString(raw, "")
	s = decisionRe.ReplaceAllString(s, "")
	s = danglingRe.ReplaceAllString(s, "")
	s = commentRe.ReplaceAllString(s, "")
	s = fenceRe.ReplaceAllString(s, "")
	s = strayFenceRe.ReplaceAllString(s, "")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func parseExtracted(body string) (*profile.ExtractedData, error) {
	var out extractedOutput
	if err := engine.DecodeObject(body, &out); err != nil {
		return nil, err
	}
	if out.ExtractedFacts == nil {
		return nil, fmt.Errorf("%w: extractedFacts is required", engine.ErrMalformedOutput)
	}
	for _, f := range *out.ExtractedFacts {
		if strings.TrimSpace(f.Hint) == "" || strings.TrimSpace(f.Value) == "" {
			return nil, fmt.Errorf("%w: fact without hint or value", engine.ErrMalformedOutput)
		}
		if f.Confidence < 0 || f.Confidence > 1 {
			return nil, fmt.Errorf("%w: fact confidence %.2f out of range", engine.ErrMalformedOutput, f.Confidence)
		}
	}
	return &profile.ExtractedData{
		QuestionID:         out.QuestionID,
		SectionID:          out.SectionID,
		RawAnswer:          out.RawAnswer,
		ExtractedFacts:     *out.ExtractedFacts,
		IsSkipped:          out.IsSkipped,
		NeedsClarification: out.NeedsClarification,
	}, nil
}

func parseDecision(body string) (*IssueDecision, error) {
	var d IssueDecision
	if err := engine.DecodeObject(body, &d); err != nil {
		return nil, err
	}
	switch d.Decision {
	case DecisionApprove, DecisionReject, DecisionClarify:
		return &d, nil
	case DecisionCustom:
		if d.CustomAction == nil {
			return nil, fmt.Errorf("%w: custom decision without customAction", engine.ErrMalformedOutput)
		}
		if err := d.CustomAction.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", engine.ErrMalformedOutput, err)
		}
		return &d, nil
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", engine.ErrMalformedOutput, d.Decision)
	}
}
