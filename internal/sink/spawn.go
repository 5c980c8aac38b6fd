package sink

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/vizlog-io/vizlog/internal/errcode"
)

// SpawnOptions configures launching a local viewer process.
type SpawnOptions struct {
	// Executable is the viewer binary. Defaults to "vizlogd" on PATH.
	Executable string
	// Port the spawned viewer listens on. Defaults to 9434.
	Port int
	// ConnectDelay gives the child time to bind its port before the
	// first frames arrive. The gRPC sink tolerates a slow start anyway,
	// so this is a nicety, not a correctness requirement.
	ConnectDelay time.Duration
}

const defaultViewerPort = 9434

// Spawn launches a viewer child process and returns a gRPC sink connected
// to it. The child is intentionally not reaped: it outlives the logging
// process so the user can keep inspecting the recording.
func Spawn(opts SpawnOptions, recordingID string, logger zerolog.Logger) (*GRPC, error) {
	exe := opts.Executable
	if exe == "" {
		exe = "vizlogd"
	}
	port := opts.Port
	if port <= 0 {
		port = defaultViewerPort
	}

	log := logger.With().Str("sink", "spawn").Logger()

	path, err := exec.LookPath(exe)
	if err != nil {
		return nil, errcode.Wrap(errcode.SpawnFailure, err, "viewer executable %q not found", exe)
	}

	cmd := exec.Command(path, "--grpc-port", fmt.Sprintf("%d", port))
	cmd.Stdout = os.Stderr // keep the child's output away from our stdout sink
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, errcode.Wrap(errcode.SpawnFailure, err, "starting viewer %q", path)
	}
	log.Info().Str("exe", path).Int("pid", cmd.Process.Pid).Int("port", port).Msg("Spawned viewer")

	// Detach: the child owns its own lifetime from here.
	go func() { _ = cmd.Wait() }()

	if opts.ConnectDelay > 0 {
		time.Sleep(opts.ConnectDelay)
	}

	return NewGRPC(fmt.Sprintf("localhost:%d", port), recordingID, logger)
}
