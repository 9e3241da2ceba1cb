package analyze

import "regexp"

// PromptType classifies a user prompt.
type PromptType string

const (
	PromptCorrection  PromptType = "correction"
	PromptInstruction PromptType = "instruction"
	PromptGeneral     PromptType = "general"
)

// correctionPatterns match prompts that push back on the previous answer.
// They take priority over instructions.
var correctionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^no[,\s]`),
	regexp.MustCompile(`(?i)^actually[,\s]`),
	regexp.MustCompile(`(?i)^wait[,\s]`),
	regexp.MustCompile(`(?i)^sorry[,\s]`),
	regexp.MustCompile(`(?i)change (this|that|it) to`),
	regexp.MustCompile(`(?i)instead[,\s]`),
	regexp.MustCompile(`(?i)^not? like that`),
	regexp.MustCompile(`(?i)i meant`),
	regexp.MustCompile(`(?i)that's not (right|correct|what i)`),
	regexp.MustCompile(`(?i)^undo`),
	regexp.MustCompile(`(?i)^revert`),
	regexp.MustCompile(`(?i)go back to`),
}

// instructionPatterns match prompts that state a standing preference.
var instructionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)always\s`),
	regexp.MustCompile(`(?i)never\s`),
	regexp.MustCompile(`(?i)make sure (to|you)`),
	regexp.MustCompile(`(?i)don't forget`),
	regexp.MustCompile(`(?i)remember to`),
	regexp.MustCompile(`(?i)prefer\s`),
	regexp.MustCompile(`(?i)use\s+\w+\s+instead of`),
	regexp.MustCompile(`(?i)i (like|want|prefer)`),
	regexp.MustCompile(`(?i)(should|must) (be|have|use)`),
}

// ClassifyPrompt returns whether text is a correction, an instruction, or
// general.
func ClassifyPrompt(text string) PromptType {
	if text == "" {
		return PromptGeneral
	}
	for _, pat := range correctionPatterns {
		if pat.MatchString(text) {
			return PromptCorrection
		}
	}
	for _, pat := range instructionPatterns {
		if pat.MatchString(text) {
			return PromptInstruction
		}
	}
	return PromptGeneral
}
