// Package dinoctl shells out to the cbdinocluster CLI, which manages the
// disposable clusters the integration tests run against.
package dinoctl

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var defaultDinoPath = func() string {
	if envPath := os.Getenv("DINOCLUSTER_PATH"); envPath != "" {
		return envPath
	}

	return "cbdinocluster"
}()

type DinoCtl struct {
	Logger    *zap.Logger
	LogOutput bool
	Path      string
}

func (c DinoCtl) ExecPath() string {
	if c.Path != "" {
		return c.Path
	}

	return defaultDinoPath
}

// Ip resolves the address of one node, or of the cluster entry point when
// nodeId is empty.
func (c DinoCtl) Ip(clusterId string, nodeId string) (string, error) {
	args := []string{"ip", clusterId}
	if nodeId != "" {
		args = append(args, nodeId)
	}

	return c.Exec(args)
}

// NodesAdd grows the cluster by one unprovisioned node and returns its id.
func (c DinoCtl) NodesAdd(clusterId string) (string, error) {
	return c.Exec([]string{"nodes", "add", clusterId})
}

func (c DinoCtl) NodesRemove(clusterId string, nodeId string) error {
	_, err := c.Exec([]string{"nodes", "rm", clusterId, nodeId})
	return err
}

// ChaosBlockTraffic cuts traffic to the node.  trafficType selects the
// cbdinocluster block mode; empty means its default.
func (c DinoCtl) ChaosBlockTraffic(clusterId, nodeId, trafficType string) error {
	args := []string{"chaos", "block-traffic", clusterId, nodeId}
	if trafficType != "" {
		args = append(args, trafficType)
	}

	_, err := c.Exec(args)
	return err
}

func (c DinoCtl) ChaosAllowTraffic(clusterId, nodeId string) error {
	_, err := c.Exec([]string{"chaos", "allow-traffic", clusterId, nodeId})
	return err
}

// linePrinter echoes whole lines with a prefix while the command runs.
type linePrinter struct {
	prefix string
	buf    bytes.Buffer
}

func (p *linePrinter) Write(b []byte) (int, error) {
	p.buf.Write(b)
	for {
		line, err := p.buf.ReadString('\n')
		if err != nil {
			p.buf.WriteString(line)
			break
		}
		fmt.Printf("%s%s", p.prefix, line)
	}
	return len(b), nil
}

func (p *linePrinter) flush() {
	if p.buf.Len() > 0 {
		fmt.Printf("%s%s\n", p.prefix, p.buf.String())
		p.buf.Reset()
	}
}

func previewArgs(args []string) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		arg = strings.ReplaceAll(arg, "\n", "\\n")
		if len(arg) > 50 {
			arg = arg[:50] + "..."
		}
		parts = append(parts, "'"+arg+"'")
	}
	return strings.Join(parts, " ")
}

func (c DinoCtl) Exec(args []string) (string, error) {
	c.Logger.Debug("running dinoctl command",
		zap.String("execPath", c.ExecPath()),
		zap.Strings("args", args))

	if c.Logger.Core().Enabled(zapcore.DebugLevel) {
		args = append([]string{"-v"}, args...)
	}

	cmd := exec.Command(c.ExecPath(), args...)

	var stdOut bytes.Buffer
	var outPrinter, errPrinter *linePrinter
	if c.LogOutput {
		fmt.Printf("---- dino exec (path: %s, args: %s)\n",
			c.ExecPath(), previewArgs(args))

		outPrinter = &linePrinter{prefix: "dino-out: "}
		errPrinter = &linePrinter{prefix: "dino-err: "}
		cmd.Stdout = io.MultiWriter(&stdOut, outPrinter)
		cmd.Stderr = errPrinter
	} else {
		cmd.Stdout = &stdOut
	}

	err := cmd.Run()

	if c.LogOutput {
		outPrinter.flush()
		errPrinter.flush()
		fmt.Printf("---- dino exec completed\n")
	}

	if err != nil {
		return "", errors.Wrap(err, "dinoctl invocation failed")
	}

	result := strings.TrimRight(stdOut.String(), "\n")
	c.Logger.Debug("dinoctl output", zap.String("result", result))

	return result, nil
}
