// internal/conversation/prompts.go
package conversation

import (
	"fmt"
	"strings"

	"tpr-pipeline/internal/models"
)

const (
	promptCalculating  = "Calculating test positivity rates for the selected facilities. This runs automatically; send any message to check progress."
	promptComplete     = "Your outputs are ready: TPR table, covariate-enriched table, and ward boundaries. Use the download endpoint to retrieve each artifact."
	promptCancelled    = "This session has been cancelled. Upload a dataset to start a new analysis."
	promptUnknownStage = "This session is in an unrecognized state. Please cancel and start a new analysis."
)

func promptRegion(recordCount int) string {
	return fmt.Sprintf(
		"Dataset received (%d facility records). Which state would you like to analyze? For example: Adamawa, Lagos, Kano.",
		recordCount,
	)
}

func promptRegionNotRecognized(msg string) string {
	return fmt.Sprintf(
		"I couldn't match %q to a state. Please send a state name such as Adamawa, Lagos, or Kano. Your other selections are unchanged.",
		msg,
	)
}

func promptFacilityLevel(region, zoneName string) string {
	return fmt.Sprintf(
		"%s is in the %s zone. Which facility level should be included: Primary, Secondary, or Tertiary?",
		region, zoneName,
	)
}

func promptLevelNotRecognized(msg string) string {
	return fmt.Sprintf(
		"%q is not a facility level I recognize. Please choose Primary, Secondary, or Tertiary.",
		msg,
	)
}

func promptAgeGroup(level models.FacilityLevel) string {
	return fmt.Sprintf(
		"Including %s facilities. Which age group: u5 (under five), 5-14, 15+, or all?",
		level,
	)
}

func promptAgeGroupNotRecognized(msg string) string {
	return fmt.Sprintf(
		"%q is not an age group I recognize. Please choose u5, 5-14, 15+, or all.",
		msg,
	)
}

// PromptThresholdSummary presents the threshold decision for explicit user
// acknowledgment; the fallback is never a silent substitution.
func PromptThresholdSummary(sess *models.ConversationSession) string {
	if len(sess.ViolatingWards) == 0 {
		return fmt.Sprintf(
			"Calculation finished for %d wards. No urban ward exceeded the plausibility threshold, so all wards keep the primary calculation. Reply yes to continue.",
			len(sess.Wards),
		)
	}
	wards := sess.ViolatingWards
	display := strings.Join(wards, ", ")
	if len(wards) > 5 {
		display = strings.Join(wards[:5], ", ") + fmt.Sprintf(" and %d more", len(wards)-5)
	}
	return fmt.Sprintf(
		"Calculation finished for %d wards. %d urban ward(s) exceeded the plausibility threshold (%s). These will be recalculated using outpatient attendance as the denominator; the remaining wards keep the primary calculation. Reply yes to proceed.",
		len(sess.Wards), len(wards), display,
	)
}

func promptThresholdClarify(sess *models.ConversationSession) string {
	return "Please reply yes to acknowledge the calculation summary and continue, or cancel to stop. " + PromptThresholdSummary(sess)
}

func promptRecalculating(violations int) string {
	return fmt.Sprintf(
		"Recalculating %d ward(s) with the outpatient-attendance fallback. This runs automatically.",
		violations,
	)
}

func promptOutputReady(sess *models.ConversationSession) string {
	unresolvable := 0
	for _, w := range sess.Wards {
		if w.Unresolvable {
			unresolvable++
		}
	}
	note := ""
	if unresolvable > 0 {
		note = fmt.Sprintf(" %d ward(s) could not be resolved and will be flagged in the manifest.", unresolvable)
	}
	return fmt.Sprintf(
		"Results are ready for %s (%s zone): %d wards.%s Reply generate to package the TPR table, covariate-enriched table, and ward boundaries.",
		sess.Selections.Region, sess.Selections.Zone, len(sess.Wards), note,
	)
}

func promptOutputClarify(msg string) string {
	return fmt.Sprintf(
		"%q is not an option here. Reply generate to package the outputs, or cancel to stop.",
		msg,
	)
}
