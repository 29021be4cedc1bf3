package metrics

/*
Labels and so on for metrics used in the deployer.
*/

const (
	LabelMethod  = "method"
	LabelRoute   = "route"
	LabelSuccess = "success"
	LabelStatus  = "status"

	// Labels for cluster metrics
	LabelKind   = "kind"
	LabelAction = "action"
	LabelStage  = "stage"
)
