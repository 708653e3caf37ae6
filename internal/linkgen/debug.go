package linkgen

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/playwright-community/playwright-go"
)

// saveDebugArtifacts dumps page HTML, a screenshot and the observed
// network log under the debug directory. Best effort: a failed dump
// never masks the job's real error. Returns the artifact path prefix,
// or "" when debugging is disabled.
func (e *Engine) saveDebugArtifacts(jobID string, page playwright.Page, obs *observer) string {
	if e.opts.DebugDir == "" {
		return ""
	}
	if err := os.MkdirAll(e.opts.DebugDir, 0755); err != nil {
		e.logger.Warn("failed to create debug dir", "error", err)
		return ""
	}

	prefix := filepath.Join(e.opts.DebugDir, jobID)

	if page != nil {
		if html, err := page.Content(); err == nil {
			if err := os.WriteFile(prefix+".html", []byte(html), 0644); err != nil {
				e.logger.Warn("failed to write debug html", "job_id", jobID, "error", err)
			}
		}
		if _, err := page.Screenshot(playwright.PageScreenshotOptions{
			Path:     playwright.String(prefix + ".png"),
			FullPage: playwright.Bool(true),
		}); err != nil {
			e.logger.Warn("failed to capture debug screenshot", "job_id", jobID, "error", err)
		}
	}

	if obs != nil {
		if events := obs.networkLog(); len(events) > 0 {
			if data, err := json.MarshalIndent(events, "", "  "); err == nil {
				if err := os.WriteFile(prefix+"_network.json", data, 0644); err != nil {
					e.logger.Warn("failed to write debug network log", "job_id", jobID, "error", err)
				}
			}
		}
	}

	return prefix
}
