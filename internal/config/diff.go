package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider
// credentials and endpoints require a process restart to take effect and
// are intentionally not diffed here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RouterChanged bool
	NewRouter     RouterConfig

	VoiceChanged bool
	NewVoice     VoiceConfig

	JobQueueChanged bool
	NewJobQueue     JobQueueConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !routerEqual(old.Router, new.Router) {
		d.RouterChanged = true
		d.NewRouter = new.Router
	}

	if old.Voice != new.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Voice
	}

	if !jobQueueEqual(old.JobQueue, new.JobQueue) {
		d.JobQueueChanged = true
		d.NewJobQueue = new.JobQueue
	}

	return d
}

// routerEqual compares two RouterConfig values. RouterConfig holds a slice
// field, so it is not comparable with ==.
func routerEqual(a, b RouterConfig) bool {
	if a.SimilarityThreshold != b.SimilarityThreshold {
		return false
	}
	if len(a.CourseKeywords) != len(b.CourseKeywords) {
		return false
	}
	for i := range a.CourseKeywords {
		if a.CourseKeywords[i] != b.CourseKeywords[i] {
			return false
		}
	}
	return true
}

// jobQueueEqual compares two JobQueueConfig values. JobQueueConfig holds a
// slice field, so it is not comparable with ==.
func jobQueueEqual(a, b JobQueueConfig) bool {
	if a.Workers != b.Workers || a.SoftTimeout != b.SoftTimeout ||
		a.HardTimeout != b.HardTimeout || a.MaxTasksPerWorker != b.MaxTasksPerWorker {
		return false
	}
	if len(a.Queues) != len(b.Queues) {
		return false
	}
	for i := range a.Queues {
		if a.Queues[i] != b.Queues[i] {
			return false
		}
	}
	return true
}
