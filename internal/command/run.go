package command

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeycumines/behaviord/internal/behavior"
	"github.com/joeycumines/behaviord/internal/client"
	"github.com/joeycumines/behaviord/internal/config"
	"github.com/joeycumines/behaviord/internal/host"
	"github.com/joeycumines/behaviord/internal/server"
)

// ErrTreeFailed is returned by run when the tree finishes with failure.
var ErrTreeFailed = errors.New("behavior tree failed")

// RunCommand ticks one behavior file to completion without a server,
// printing its lifecycle trace.
type RunCommand struct {
	*BaseCommand
	settingsFlags
	color bool
	quiet bool
}

// NewRunCommand returns the run command.
func NewRunCommand(cfg *config.Config) *RunCommand {
	return &RunCommand{
		BaseCommand: NewBaseCommand(
			"run",
			"Tick a behavior file until it finishes",
			"run [options] <file>",
		),
		settingsFlags: newSettingsFlags(cfg, "run"),
	}
}

// SetupFlags registers the run flags.
func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	c.settingsFlags.register(fs)
	fs.BoolVar(&c.color, "color", false, "Color the final tree")
	fs.BoolVar(&c.quiet, "quiet", false, "Only print the result")
}

// Execute runs the file.
func (c *RunCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(stderr, "run takes exactly one behavior file")
		return fmt.Errorf("invalid arguments")
	}
	path := args[0]
	s, err := c.resolve()
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(s, stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	doc, err := behavior.Decode(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	// Subtrees resolve next to the file unless -dir says otherwise.
	dir := filepath.Dir(path)
	if c.assetsDir != "" {
		dir = c.assetsDir
	}
	assets := server.NewAssets(dir, s.AssetsExt, logger)
	trace := behavior.NewTrace()
	world := behavior.NewWorld(
		behavior.WithMaxNodes(s.MaxNodes),
		behavior.WithEvaluator(behavior.NewEvaluator(s.EvalMode)),
		behavior.WithTrace(trace),
		behavior.WithAssets(assets),
		behavior.WithLogger(logger),
	)
	name := strings.TrimSuffix(filepath.Base(path), "."+strings.TrimPrefix(s.AssetsExt, "."))
	root, err := world.SpawnTree(doc, name)
	if err != nil {
		return err
	}
	h := host.New(world, nil, logger)

	printed := 0
	for {
		if done, _ := world.Status(root); done {
			break
		}
		if h.Ticks() >= uint64(s.RunMaxTicks) {
			return fmt.Errorf("%s did not finish within %d ticks", name, s.RunMaxTicks)
		}
		if err := h.Step(s.RunTick); err != nil {
			return err
		}
		// Loads started during the tick land before the next one.
		assets.Wait()
		if !c.quiet {
			entries := trace.Entries()
			for _, e := range entries[printed:] {
				_, _ = fmt.Fprintf(stdout, "%4d %s\n", h.Ticks(), e)
			}
			printed = len(entries)
		}
	}

	if !c.quiet {
		tel, err := world.TreeTelemetry(root)
		if err != nil {
			return err
		}
		var styles *client.Styles
		if c.color {
			st := client.DefaultStyles()
			styles = &st
		}
		_, _ = fmt.Fprint(stdout, client.Render(tel, styles))
	}
	_, ok := world.Status(root)
	result := "success"
	if !ok {
		result = "failure"
	}
	_, _ = fmt.Fprintf(stdout, "%s: %s after %d ticks (%v)\n", name, result, h.Ticks(), world.Elapsed)
	if !ok {
		return ErrTreeFailed
	}
	return nil
}
