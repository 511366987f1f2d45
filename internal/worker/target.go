package worker

import (
	"fmt"
	"net/url"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// breakerTarget names the circuit-breaker bucket a step's attempts share:
// step kind composed with its destination, so a flaky endpoint trips
// independently of every other endpoint the same job (or a different job)
// happens to call.
func breakerTarget(step *domain.Step) string {
	switch step.Kind {
	case domain.StepHTTP:
		return fmt.Sprintf("http:%s", hostOf(step.Http.URL))
	case domain.StepDatabase:
		return fmt.Sprintf("database:%s:%s", step.Database.Engine, hostOf(step.Database.ConnectionString))
	case domain.StepSftp:
		return fmt.Sprintf("sftp:%s:%d", step.Sftp.Host, step.Sftp.Port)
	case domain.StepFile:
		return "file:blobstore"
	default:
		return fmt.Sprintf("%s:unknown", step.Kind)
	}
}

// hostOf extracts a connectable host from a URL or DSN for breaker keying,
// falling back to the raw string when it doesn't parse as a URL (plenty of
// database DSNs, e.g. MySQL's user:pass@tcp(host:port)/db, don't).
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}
