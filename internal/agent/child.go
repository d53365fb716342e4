package agent

import (
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// RenderBinaryEnv overrides the executable used for the render child.
// Without it the control process re-executes itself with the render
// subcommand.
const RenderBinaryEnv = "APPBRIDGE_RENDER_BINARY"

type renderChild struct {
	cmd *exec.Cmd
}

func spawnRenderChild(log *zap.Logger) (*renderChild, error) {
	bin := os.Getenv(RenderBinaryEnv)
	if bin == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, err
		}
		bin = self
	}

	cmd := exec.Command(bin, "render")
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	log.Info("spawned render process", zap.String("binary", bin), zap.Int("pid", cmd.Process.Pid))
	return &renderChild{cmd: cmd}, nil
}

// stop reaps the child. The render process exits on its own once it sees
// should_exit; killing is the backstop for a wedged child.
func (c *renderChild) stop(log *zap.Logger) {
	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			log.Debug("render process exited", zap.Error(err))
		}
	case <-time.After(3 * time.Second):
		log.Warn("render process did not exit, killing", zap.Int("pid", c.cmd.Process.Pid))
		_ = c.cmd.Process.Kill()
		<-done
	}
}
