package server

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"github.com/felixgeelhaar/libertydev/internal/application"
)

// DefaultContainerRuntime is the container CLI used for container sessions.
const DefaultContainerRuntime = "docker"

// serverScript returns the path of the server launcher script.
func serverScript(installDir string) string {
	name := "server"
	if runtime.GOOS == "windows" {
		name = "server.bat"
	}
	return filepath.Join(installDir, "bin", name)
}

// startCommand returns the argv used to launch the server.
func startCommand(p application.ServerParams, containerName, runtimeCLI string) ([]string, error) {
	if len(p.Command) > 0 {
		return append([]string(nil), p.Command...), nil
	}
	if p.Container {
		if p.ContainerImage == "" {
			return nil, fmt.Errorf("container mode requires a container image")
		}
		args := []string{runtimeCLI, "run", "--rm", "-i", "--name", containerName,
			"-v", p.ServerDir() + ":/config",
			"-p", "9080:9080", "-p", "9443:9443"}
		if p.Operation == application.OperationDebug && p.DebugPort > 0 {
			port := strconv.Itoa(p.DebugPort)
			args = append(args, "-p", port+":"+port, "-e", "WLP_DEBUG_ADDRESS=0.0.0.0:"+port)
		}
		for _, kv := range sortedEnv(p.Env) {
			args = append(args, "-e", kv)
		}
		return append(args, p.ContainerImage), nil
	}
	op := p.Operation
	if op == "" {
		op = application.OperationRun
	}
	return []string{serverScript(p.InstallDir), string(op), p.ServerName}, nil
}

// stopCommand returns the argv asking the server to stop, or nil when the exit
// token on stdin is the only stop request.
func stopCommand(p application.ServerParams, containerName, runtimeCLI string) []string {
	switch {
	case len(p.Command) > 0:
		return nil
	case p.Container:
		return []string{runtimeCLI, "stop", containerName}
	default:
		return []string{serverScript(p.InstallDir), "stop", p.ServerName}
	}
}

// environment returns the process environment for a local server.
func environment(p application.ServerParams) []string {
	env := os.Environ()
	if p.Container {
		return env
	}
	env = append(env, sortedEnv(p.Env)...)
	if p.Operation == application.OperationDebug && p.DebugPort > 0 {
		env = append(env, "WLP_DEBUG_ADDRESS="+strconv.Itoa(p.DebugPort), "WLP_DEBUG_SUSPEND=n")
	}
	return env
}

func sortedEnv(vars map[string]string) []string {
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
