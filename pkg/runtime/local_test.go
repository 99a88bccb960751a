package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tangramdotdev/tangram/pkg/process"
)

var _ process.Runner = (*LocalRunner)(nil)

func TestLocalRunnerCapturesOutputAndExitCode(t *testing.T) {
	r := NewLocalRunner()
	exit, output, err := r.Run(context.Background(), "proc_1", "echo hello")
	assert.NoError(t, err)
	assert.Equal(t, 0, exit)
	assert.Equal(t, "hello\n", output)
}

func TestLocalRunnerReportsNonZeroExit(t *testing.T) {
	r := NewLocalRunner()
	exit, _, err := r.Run(context.Background(), "proc_2", "exit 7")
	assert.NoError(t, err)
	assert.Equal(t, 7, exit)
}
