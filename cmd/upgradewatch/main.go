package main

import (
	"upgradewatch/cmd/upgradewatch/commands"
	"upgradewatch/internal/components/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
