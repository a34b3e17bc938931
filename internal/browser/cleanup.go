package browser

import (
	"context"
	"strings"

	"upgradewatch/internal/components/telemetry"

	"github.com/shirou/gopsutil/v4/process"
)

const report_cleanup = "browser.cleanup"

func isStrayChrome(name, cmdline string) bool {
	name = strings.ToLower(name)
	if !strings.Contains(name, "chrome") && !strings.Contains(name, "chromium") {
		return false
	}
	return strings.Contains(cmdline, "--headless") &&
		strings.Contains(cmdline, "--remote-debugging")
}

// KillStray terminates headless chrome processes left behind by an earlier
// launch. Every failure is ignored, the process may already be gone.
func KillStray(ctx context.Context, tel telemetry.API) int {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		tel.ReportWarning(report_cleanup, err)
		return 0
	}

	killed := 0
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			continue
		}
		if !isStrayChrome(name, cmdline) {
			continue
		}
		err = p.KillWithContext(ctx)
		if err != nil {
			continue
		}
		killed++
	}
	if killed > 0 {
		tel.ReportDebug("killed stray chrome processes", telemetry.KV{Key: "count", Value: killed})
	}
	return killed
}
