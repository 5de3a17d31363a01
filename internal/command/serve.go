package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/behaviord/internal/behavior"
	"github.com/joeycumines/behaviord/internal/config"
	"github.com/joeycumines/behaviord/internal/host"
	"github.com/joeycumines/behaviord/internal/protocol"
	"github.com/joeycumines/behaviord/internal/server"
	"github.com/joeycumines/behaviord/internal/storage"
	"github.com/joeycumines/behaviord/internal/transport"
)

const shutdownTimeout = 5 * time.Second

// ServeCommand runs the behavior server: the tick loop, the asset directory
// and the WebSocket hub.
type ServeCommand struct {
	*BaseCommand
	settingsFlags
	addr string

	// listening, when set, receives the bound address.
	listening func(addr string)
}

// NewServeCommand returns the serve command.
func NewServeCommand(cfg *config.Config) *ServeCommand {
	return &ServeCommand{
		BaseCommand: NewBaseCommand(
			"serve",
			"Run the behavior server",
			"serve [options]",
		),
		settingsFlags: newSettingsFlags(cfg, "serve"),
	}
}

// SetupFlags registers the serve flags.
func (c *ServeCommand) SetupFlags(fs *flag.FlagSet) {
	c.settingsFlags.register(fs)
	fs.StringVar(&c.addr, "addr", "", "Listen address (overrides server.addr)")
}

// Execute serves until interrupted.
func (c *ServeCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.serve(ctx, stderr)
}

func (c *ServeCommand) serve(ctx context.Context, stderr io.Writer) error {
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

	if err := os.MkdirAll(s.AssetsDir, 0755); err != nil {
		return fmt.Errorf("failed to create asset directory: %w", err)
	}
	lock, err := storage.AcquireDirLock(s.AssetsDir)
	if err != nil {
		if errors.Is(err, storage.ErrWouldBlock) {
			return fmt.Errorf("%s is already served by another process", s.AssetsDir)
		}
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("[serve] failed to release lock", "path", lock.Path(), "error", err)
		}
	}()

	world := behavior.NewWorld(
		behavior.WithMaxNodes(s.MaxNodes),
		behavior.WithEvaluator(behavior.NewEvaluator(s.EvalMode)),
		behavior.WithLogger(logger),
	)
	end, _ := protocol.NewPair(s.QueueSize)
	defer end.Close()
	srv, err := server.New(world, end, server.Config{
		Dir:            s.AssetsDir,
		Ext:            s.AssetsExt,
		RetryDelay:     s.RetryDelay,
		ReloadInterval: s.ReloadInterval,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	h := host.New(world, srv, logger)
	hub := transport.NewHub(end, logger)

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{Handler: hub, ReadHeaderTimeout: 10 * time.Second}
	logger.Info("[serve] listening", "addr", ln.Addr().String(), "dir", s.AssetsDir, "tick", s.Tick)
	if c.listening != nil {
		c.listening(ln.Addr().String())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.Run(ctx, s.Tick)
	})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	srv.Assets().Wait()
	logger.Info("[serve] stopped", "ticks", h.Ticks(), "error", err)
	return err
}
