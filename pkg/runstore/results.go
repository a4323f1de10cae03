package runstore

// Results summarises a run's jobs by status.
type Results struct {
	Pass    int `json:"pass" yaml:"pass"`
	Running int `json:"running" yaml:"running"`
	Fail    int `json:"fail" yaml:"fail"`
	Dead    int `json:"dead" yaml:"dead"`
	Unknown int `json:"unknown" yaml:"unknown"`
	Total   int `json:"total" yaml:"total"`
}

// Aggregate counts jobs by status. Jobs that went through Normalize only
// carry the five known statuses, so the counts add up to Total.
func Aggregate(jobs []Job) Results {
	res := Results{Total: len(jobs)}

	for i := range jobs {
		switch jobs[i].Status {
		case JobStatusPass:
			res.Pass++
		case JobStatusRunning:
			res.Running++
		case JobStatusFail:
			res.Fail++
		case JobStatusDead:
			res.Dead++
		case JobStatusUnknown:
			res.Unknown++
		}
	}

	return res
}
