package http

// Route names, so the server and client agree on paths.
const (
	Ping    = "Ping"
	Version = "Version"

	Deploy      = "Deploy"
	ListJobs    = "ListJobs"
	JobStatus   = "JobStatus"
	CancelJob   = "CancelJob"
	JobOutput   = "JobOutput"
	RecordBuild = "RecordBuild"
)
