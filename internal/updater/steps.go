package updater

// Step names one stage of a session.
type Step string

const (
	StepStarting                Step = "starting"
	StepCheckDisk               Step = "checkDisk"
	StepListDeviceFiles         Step = "listDeviceFiles"
	StepGatherDeviceFiles       Step = "gatherDeviceFiles"
	StepGatherUserRecordings    Step = "gatherUserRecordings"
	StepClearStats              Step = "clearStats"
	StepClearUserRecordings     Step = "clearUserRecordings"
	StepClearFeedbackCategories Step = "clearFeedbackCategories"
	StepReformatting            Step = "reformatting"
	StepRelabelling             Step = "relabelling"
	StepClearSystem             Step = "clearSystem"
	StepUpdateSystem            Step = "updateSystem"
	StepUpdateSystemTime        Step = "updateSystemTime"
	StepUpdateContent           Step = "updateContent"
	StepUpdateCommunity         Step = "updateCommunity"
	StepVerify                  Step = "verify"
	StepForceFirmwareRefresh    Step = "forceFirmwareRefresh"
	StepListDeviceFiles2        Step = "listDeviceFiles2"
	StepDelay                   Step = "delay"
	StepCopyStatsAndFiles       Step = "copyStatsAndFiles"
	StepFinishing               Step = "finishing"
)

var stepLabels = map[Step]string{
	StepStarting:                "Starting",
	StepCheckDisk:               "Checking disk",
	StepListDeviceFiles:         "Listing files",
	StepGatherDeviceFiles:       "Gathering statistics",
	StepGatherUserRecordings:    "Gathering user recordings",
	StepClearStats:              "Clearing statistics",
	StepClearUserRecordings:     "Clearing user recordings",
	StepClearFeedbackCategories: "Clearing feedback categories",
	StepReformatting:            "Reformatting",
	StepRelabelling:             "Relabelling",
	StepClearSystem:             "Clearing system files",
	StepUpdateSystem:            "Updating system files",
	StepUpdateSystemTime:        "Setting the clock",
	StepUpdateContent:           "Updating content",
	StepUpdateCommunity:         "Updating community content",
	StepVerify:                  "Verifying",
	StepForceFirmwareRefresh:    "Refreshing firmware",
	StepListDeviceFiles2:        "Listing files after update",
	StepDelay:                   "Finalizing",
	StepCopyStatsAndFiles:       "Saving statistics",
	StepFinishing:               "Finishing",
}

// Label is the operator facing description of the step.
func (s Step) Label() string {
	if l, ok := stepLabels[s]; ok {
		return l
	}
	return string(s)
}

// countsFiles reports whether the step summary mentions file counts.
func (s Step) countsFiles() bool {
	switch s {
	case StepStarting, StepCheckDisk, StepReformatting, StepRelabelling, StepVerify,
		StepForceFirmwareRefresh, StepDelay, StepFinishing:
		return false
	}
	return true
}

var statsSteps = []Step{
	StepListDeviceFiles,
	StepGatherDeviceFiles,
	StepGatherUserRecordings,
	StepClearStats,
	StepClearUserRecordings,
	StepClearFeedbackCategories,
}

var updateSteps = []Step{
	StepReformatting,
	StepClearSystem,
	StepUpdateSystem,
	StepUpdateSystemTime,
	StepUpdateContent,
	StepUpdateCommunity,
	StepVerify,
	StepForceFirmwareRefresh,
	StepListDeviceFiles2,
}

// plan returns the steps a session walks through, used to derive progress
// percentages.
func plan(statsOnly bool) []Step {
	steps := []Step{StepStarting, StepCheckDisk}
	steps = append(steps, statsSteps...)
	if !statsOnly {
		steps = append(steps, updateSteps...)
	}
	return append(steps, StepCopyStatsAndFiles, StepFinishing)
}
