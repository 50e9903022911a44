package daemon

import "github.com/lightcar-iot/lightcar/internal/acquisition"

type (
	AppConfig = appConfig
)

// Config returns the configuration of the app.
func (a *App) Config() AppConfig {
	return a.config
}

// SetArgs set some arguments on root command for tests.
func (a *App) SetArgs(args ...string) {
	a.cmd.SetArgs(args)
}

// SetOutputOpener replaces how outputs are created from their names.
func (a *App) SetOutputOpener(open func(name string) (acquisition.Output, error)) {
	a.openOutput = open
}
