// internal/conversation/machine.go
package conversation

import (
	"strings"

	"tpr-pipeline/internal/models"
	"tpr-pipeline/internal/stages/zone"
)

// Action tells the service which system-driven step follows a transition.
type Action string

const (
	ActionNone           Action = ""
	ActionRunCalculation Action = "run_calculation"
	ActionRunAlternative Action = "run_alternative"
	ActionPackageOutputs Action = "package_outputs"
)

// Decision is the outcome of interpreting one inbound message. When
// Recognized is false the stage is unchanged and Prompt carries a
// clarification.
type Decision struct {
	Stage      models.Stage
	Selections models.Selections
	Prompt     string
	Action     Action
	Recognized bool
}

// Machine interprets free-text messages relative to the current stage only.
// Transition is pure: identical session state and message always produce the
// same decision, which makes behavior testable without a live session and
// makes resumption an idempotent replay.
type Machine struct {
	resolver *zone.Resolver
}

func NewMachine(resolver *zone.Resolver) *Machine {
	return &Machine{resolver: resolver}
}

// Transition interprets message at the session's current stage. An
// interpretation failure keeps the stage and returns a clarification prompt.
// An empty message is a no-op replay: it returns the current stage's prompt
// unchanged.
func (m *Machine) Transition(sess *models.ConversationSession, message string) Decision {
	stage, sel := sess.Stage, sess.Selections
	msg := strings.TrimSpace(message)

	if stage.IsTerminal() {
		return Decision{Stage: stage, Selections: sel, Prompt: m.PromptFor(sess), Recognized: true}
	}

	if isCancelWord(msg) {
		return Decision{Stage: models.StageCancelled, Selections: sel, Prompt: promptCancelled, Recognized: true}
	}

	if msg == "" {
		return Decision{Stage: stage, Selections: sel, Prompt: m.PromptFor(sess), Recognized: true}
	}

	switch stage {
	case models.StageAwaitingRegionSelection:
		canonical, zoneName, _, ok := m.resolver.Resolve(msg)
		if !ok {
			return Decision{Stage: stage, Selections: sel, Prompt: promptRegionNotRecognized(msg)}
		}
		sel.Region = canonical
		sel.Zone = zoneName
		next := models.StageAwaitingFacilityLevel
		return Decision{
			Stage: next, Selections: sel, Recognized: true,
			Prompt: promptFacilityLevel(canonical, zoneName),
		}

	case models.StageAwaitingFacilityLevel:
		level, ok := models.ParseFacilityLevel(msg)
		if !ok {
			return Decision{Stage: stage, Selections: sel, Prompt: promptLevelNotRecognized(msg)}
		}
		sel.FacilityLevel = level
		return Decision{
			Stage: models.StageAwaitingAgeGroup, Selections: sel, Recognized: true,
			Prompt: promptAgeGroup(level),
		}

	case models.StageAwaitingAgeGroup:
		group, ok := models.ParseAgeGroup(msg)
		if !ok {
			return Decision{Stage: stage, Selections: sel, Prompt: promptAgeGroupNotRecognized(msg)}
		}
		sel.AgeGroup = group
		// The calculating stage is transient: the service runs the calculator
		// and advances to threshold_check in the same request.
		return Decision{
			Stage: models.StageCalculating, Selections: sel, Recognized: true,
			Action: ActionRunCalculation,
			Prompt: promptCalculating,
		}

	case models.StageCalculating:
		// A session interrupted mid-calculation resumes by re-running the
		// calculator; the computation is pure, so replay is safe.
		return Decision{
			Stage: stage, Selections: sel, Recognized: true,
			Action: ActionRunCalculation,
			Prompt: promptCalculating,
		}

	case models.StageThresholdCheck:
		if !isConfirmWord(msg) {
			return Decision{Stage: stage, Selections: sel, Prompt: promptThresholdClarify(sess)}
		}
		if len(sess.ViolatingWards) > 0 {
			return Decision{
				Stage: models.StageAlternativeRecalculation, Selections: sel, Recognized: true,
				Action: ActionRunAlternative,
				Prompt: promptRecalculating(len(sess.ViolatingWards)),
			}
		}
		return Decision{
			Stage: models.StageOutputReady, Selections: sel, Recognized: true,
			Prompt: promptOutputReady(sess),
		}

	case models.StageAlternativeRecalculation:
		return Decision{
			Stage: stage, Selections: sel, Recognized: true,
			Action: ActionRunAlternative,
			Prompt: promptRecalculating(len(sess.ViolatingWards)),
		}

	case models.StageOutputReady:
		if !isConfirmWord(msg) && !isGenerateWord(msg) {
			return Decision{Stage: stage, Selections: sel, Prompt: promptOutputClarify(msg)}
		}
		return Decision{
			Stage: models.StageComplete, Selections: sel, Recognized: true,
			Action: ActionPackageOutputs,
			Prompt: promptComplete,
		}
	}

	return Decision{Stage: stage, Selections: sel, Prompt: promptUnknownStage}
}

// PromptFor returns the prompt a user sees on (re-)entering the session's
// current stage. Resuming a persisted session yields the same prompt as if no
// interruption occurred.
func (m *Machine) PromptFor(sess *models.ConversationSession) string {
	switch sess.Stage {
	case models.StageAwaitingRegionSelection:
		return promptRegion(sess.RecordCount)
	case models.StageAwaitingFacilityLevel:
		return promptFacilityLevel(sess.Selections.Region, sess.Selections.Zone)
	case models.StageAwaitingAgeGroup:
		return promptAgeGroup(sess.Selections.FacilityLevel)
	case models.StageCalculating:
		return promptCalculating
	case models.StageThresholdCheck:
		return PromptThresholdSummary(sess)
	case models.StageAlternativeRecalculation:
		return promptRecalculating(len(sess.ViolatingWards))
	case models.StageOutputReady:
		return promptOutputReady(sess)
	case models.StageComplete:
		return promptComplete
	case models.StageCancelled:
		return promptCancelled
	}
	return promptUnknownStage
}

func isCancelWord(msg string) bool {
	switch strings.ToLower(strings.TrimRight(msg, ".!")) {
	case "cancel", "quit", "abort", "stop":
		return true
	}
	return false
}

func isConfirmWord(msg string) bool {
	switch strings.ToLower(strings.TrimRight(msg, ".!")) {
	case "yes", "y", "ok", "okay", "proceed", "continue", "confirm":
		return true
	}
	return false
}

func isGenerateWord(msg string) bool {
	switch strings.ToLower(strings.TrimRight(msg, ".!")) {
	case "generate", "download", "package", "export":
		return true
	}
	return false
}
