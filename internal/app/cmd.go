package app

// Command is the process mode.
type Command string

const (
	// CommandServe runs the HTTP API.
	CommandServe Command = "serve"
	// CommandWorker runs the code cleanup loop.
	CommandWorker Command = "worker"
	// CommandMigrate applies pending database migrations.
	CommandMigrate Command = "migrate"
	// CommandHealthcheck checks a running server's /health.
	// Used as the Docker health check in the distroless image.
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand returns the subcommand in args. Empty or unknown input
// means CommandServe.
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
