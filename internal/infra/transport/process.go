package transport

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"mcpgate/internal/domain"
)

// ProcessDialer launches tool servers as subprocesses and speaks MCP over
// their stdio pipes. The child inherits the gateway environment with the
// descriptor's env entries appended, so descriptor values win on conflict.
type ProcessDialer struct{}

func NewProcessDialer() *ProcessDialer {
	return &ProcessDialer{}
}

func (d *ProcessDialer) Dial(desc domain.ServerDescriptor) (mcp.Transport, error) {
	if len(desc.Command) == 0 {
		return nil, errors.New("command is required for process transport")
	}

	cmd := exec.Command(desc.Command[0], desc.Command[1:]...)
	cmd.Env = append(os.Environ(), formatEnv(desc.Env)...)

	return &mcp.CommandTransport{
		Command: cmd,
	}, nil
}

func formatEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(env))
	for _, key := range keys {
		out = append(out, fmt.Sprintf("%s=%s", key, env[key]))
	}
	return out
}
