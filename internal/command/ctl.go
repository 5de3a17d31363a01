package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joeycumines/behaviord/internal/behavior"
	"github.com/joeycumines/behaviord/internal/client"
	"github.com/joeycumines/behaviord/internal/config"
	"github.com/joeycumines/behaviord/internal/protocol"
	"github.com/joeycumines/behaviord/internal/store"
	"github.com/joeycumines/behaviord/internal/transport"
)

const ctlPollInterval = 10 * time.Millisecond

// CtlCommand drives a running server over WebSocket.
type CtlCommand struct {
	*BaseCommand
	settingsFlags
	addr     string
	timeout  time.Duration
	policy   string
	attach   string
	insert   string
	interval time.Duration
	count    int
	color    bool
}

// NewCtlCommand returns the ctl command.
func NewCtlCommand(cfg *config.Config) *CtlCommand {
	return &CtlCommand{
		BaseCommand: NewBaseCommand(
			"ctl",
			"Control a running behavior server",
			"ctl [options] list | start <name> | stop <name> | save <name> <file> | watch <name>",
		),
		settingsFlags: newSettingsFlags(cfg, "ctl"),
	}
}

// SetupFlags registers the ctl flags.
func (c *CtlCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&c.addr, "addr", "", "Server address (overrides server.addr)")
	fs.DurationVar(&c.timeout, "timeout", 5*time.Second, "How long to wait for the server")
	fs.StringVar(&c.policy, "policy", string(protocol.StopDespawn), "stop: despawn, detach or remove")
	fs.StringVar(&c.attach, "attach", "", "start: attach to this entity (e.g. #12) instead of spawning")
	fs.StringVar(&c.insert, "insert", "", "start: insert into this entity instead of spawning")
	fs.DurationVar(&c.interval, "interval", 500*time.Millisecond, "watch: redraw interval")
	fs.IntVar(&c.count, "count", 0, "watch: exit after this many frames, 0 for no limit")
	fs.BoolVar(&c.color, "color", false, "watch: color the tree")
}

// Execute runs one ctl action.
func (c *CtlCommand) Execute(args []string, stdout, stderr io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.run(ctx, args, stdout, stderr)
}

func (c *CtlCommand) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintf(stderr, "Usage: behaviord %s\n", c.Usage())
		return fmt.Errorf("missing action")
	}
	action, args := args[0], args[1:]
	want := map[string]int{"list": 0, "start": 1, "stop": 1, "save": 2, "watch": 1}
	n, ok := want[action]
	if !ok {
		return fmt.Errorf("unknown action: %s", action)
	}
	if len(args) != n {
		return fmt.Errorf("%s takes %d argument(s), got %d", action, n, len(args))
	}

	s, err := c.resolve()
	if err != nil {
		return err
	}
	override(&s.Addr, c.addr)
	logger, closer, err := newLogger(s, stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	sess, err := c.connect(ctx, s, logger)
	if err != nil {
		return err
	}
	defer sess.close()

	switch action {
	case "list":
		return sess.list(stdout)
	case "start":
		return c.start(sess, args[0], stdout)
	case "stop":
		return c.stop(sess, args[0], stdout)
	case "save":
		return sess.save(args[0], args[1], stdout)
	default:
		return c.watch(sess, args[0], stdout)
	}
}

type ctlSession struct {
	ctx     context.Context
	timeout time.Duration
	remote  *transport.Remote
	client  *client.Client
}

func (c *CtlCommand) connect(ctx context.Context, s config.Settings, logger *slog.Logger) (*ctlSession, error) {
	url := s.Addr
	if !strings.Contains(url, "://") {
		url = "ws://" + url
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	remote, err := transport.Dial(dialCtx, url, s.QueueSize, logger)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	sess := &ctlSession{
		ctx:     ctx,
		timeout: c.timeout,
		remote:  remote,
		client:  client.New(remote.End, logger),
	}
	if err := sess.sync(); err != nil {
		sess.close()
		return nil, err
	}
	return sess, nil
}

func (s *ctlSession) close() {
	_ = s.remote.Close()
}

// waitFor applies server messages until cond holds.
func (s *ctlSession) waitFor(what string, cond func() bool) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	ticker := time.NewTicker(ctlPollInterval)
	defer ticker.Stop()
	for {
		s.client.Update()
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", what, ctx.Err())
		case <-s.remote.Done():
			s.client.Update()
			if cond() {
				return nil
			}
			return errors.New("connection closed")
		case <-ticker.C:
		}
	}
}

// sync returns once the server has handled every request sent so far.
func (s *ctlSession) sync() error {
	pongs := s.client.Pongs
	if err := s.client.Ping(); err != nil {
		return err
	}
	return s.waitFor("pong", func() bool { return s.client.Pongs > pongs })
}

func (s *ctlSession) file(name string) (*client.File, error) {
	f, ok := s.client.FileByName(name)
	if !ok {
		return nil, fmt.Errorf("no behavior file named %q", name)
	}
	return f, nil
}

func (s *ctlSession) list(stdout io.Writer) error {
	files := s.client.Sorted()
	for _, f := range files {
		if err := s.client.ListInstances(f.ID); err != nil {
			return err
		}
	}
	if len(files) > 0 {
		if err := s.client.ListOrphans(files[0].ID); err != nil {
			return err
		}
	}
	if err := s.sync(); err != nil {
		return err
	}

	w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tID\tINSTANCES")
	for _, f := range files {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, f.ID, entities(f.Instances))
	}
	_ = w.Flush()
	if len(files) > 0 && len(files[0].Orphans) > 0 {
		_, _ = fmt.Fprintf(stdout, "orphans: %s\n", entities(files[0].Orphans))
	}
	return nil
}

func entities(es []protocol.RemoteEntity) string {
	if len(es) == 0 {
		return "-"
	}
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

func (c *CtlCommand) start(s *ctlSession, name string, stdout io.Writer) error {
	f, err := s.file(name)
	if err != nil {
		return err
	}
	opt := protocol.Spawn()
	switch {
	case c.attach != "" && c.insert != "":
		return errors.New("-attach and -insert are exclusive")
	case c.attach != "":
		id, err := parseEntity(c.attach)
		if err != nil {
			return err
		}
		opt = protocol.Attach(protocol.RemoteEntity{ID: id})
	case c.insert != "":
		id, err := parseEntity(c.insert)
		if err != nil {
			return err
		}
		opt = protocol.Insert(protocol.RemoteEntity{ID: id})
	}
	f.Log = nil
	if err := s.client.Start(f.ID, opt, nil); err != nil {
		return err
	}
	if err := s.waitFor("start", func() bool { return f.Running || f.Log != nil }); err != nil {
		return err
	}
	if f.Log != nil {
		return errors.New(f.Log.Message)
	}
	_, _ = fmt.Fprintf(stdout, "started %s on %s\n", name, f.Entity)
	return nil
}

func (c *CtlCommand) stop(s *ctlSession, name string, stdout io.Writer) error {
	f, err := s.file(name)
	if err != nil {
		return err
	}
	f.Log = nil
	if err := s.client.Stop(f.ID, protocol.StopOption(c.policy)); err != nil {
		return err
	}
	if err := s.sync(); err != nil {
		return err
	}
	if f.Log != nil {
		return errors.New(f.Log.Message)
	}
	_, _ = fmt.Fprintf(stdout, "stopped %s (%s)\n", name, c.policy)
	return nil
}

func (s *ctlSession) save(name, path string, stdout io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	doc, err := behavior.Decode(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	var id protocol.FileID
	if f, ok := s.client.FileByName(name); ok {
		id = f.ID
		f.Saved, f.Log = false, nil
	}
	logs := len(s.client.Logs)
	id, err = s.client.SaveFile(id, name, doc)
	if err != nil {
		return err
	}
	var failure *protocol.Log
	err = s.waitFor("save", func() bool {
		if f, ok := s.client.Files[id]; ok {
			if f.Log != nil {
				failure = f.Log
			}
			return f.Saved || f.Log != nil
		}
		if len(s.client.Logs) > logs {
			failure = &s.client.Logs[len(s.client.Logs)-1]
			return true
		}
		return false
	})
	if err != nil {
		return err
	}
	if failure != nil {
		return errors.New(failure.Message)
	}
	_, _ = fmt.Fprintf(stdout, "saved %s as %s\n", path, name)
	return nil
}

func (c *CtlCommand) watch(s *ctlSession, name string, stdout io.Writer) error {
	f, err := s.file(name)
	if err != nil {
		return err
	}
	var styles *client.Styles
	if c.color {
		st := client.DefaultStyles()
		styles = &st
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	var last *behavior.Telemetry
	for frames := 0; c.count <= 0 || frames < c.count; {
		select {
		case <-s.ctx.Done():
			return nil
		case <-s.remote.Done():
			return errors.New("connection closed")
		case <-ticker.C:
		}
		s.client.Update()
		if f.Telemetry == nil || f.Telemetry == last {
			continue
		}
		last = f.Telemetry
		frames++
		_, _ = fmt.Fprintf(stdout, "--- %s %s\n", name, time.Now().Format(time.TimeOnly))
		_, _ = fmt.Fprint(stdout, client.Render(f.Telemetry, styles))
	}
	return nil
}

// parseEntity accepts "#12", "12" or "name #12".
func parseEntity(s string) (store.ID, error) {
	if i := strings.LastIndexByte(s, '#'); i >= 0 {
		s = s[i+1:]
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || n == 0 {
		return store.None, fmt.Errorf("invalid entity %q", s)
	}
	return store.ID(n), nil
}
