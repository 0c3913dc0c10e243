package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/facebridge-ai/facebridge/internal/curve"
	"github.com/facebridge-ai/facebridge/internal/eventbus"
	"github.com/facebridge-ai/facebridge/internal/mapper"
	"github.com/facebridge-ai/facebridge/internal/observability"
	"github.com/facebridge-ai/facebridge/internal/poller"
	"github.com/facebridge-ai/facebridge/internal/tracking"
)

func newRunCommand() *cobra.Command {
	runCmd := &cobra.Command{
		Use:           "run",
		Short:         "Connect to VTube Studio and forward tracking data until interrupted",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBridge,
	}
	addEndpointFlags(runCmd)
	runCmd.Flags().Bool("discover", true, "Resolve the API port from the UDP state broadcast before connecting")
	runCmd.Flags().String("tracker", "", "UDP address to receive tracking frames on (overrides stored setting)")
	runCmd.Flags().Duration("interval", 0, "Transmission interval (overrides stored setting)")
	runCmd.Flags().StringArray("map", nil, "Parameter mapping as id=expression (repeatable)")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return runCmd
}

func runBridge(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("tracker") {
		settings.TrackerAddr, _ = cmd.Flags().GetString("tracker")
	}
	if cmd.Flags().Changed("interval") {
		settings.SendInterval, _ = cmd.Flags().GetDuration("interval")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	discover, _ := cmd.Flags().GetBool("discover")
	client, err := connectClient(ctx, settings, discover)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client.Close(closeCtx, "bridge shutting down")
	}()

	authenticated, err := client.Authenticate(ctx, "")
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if !authenticated {
		return errors.New("authentication rejected; clear the token with 'facebridge auth --clear' and allow the plugin in VTube Studio")
	}

	mappings, _ := cmd.Flags().GetStringArray("map")
	paramMapper, err := buildMapper(mappings, settings.Curve)
	if err != nil {
		return err
	}

	source, err := tracking.NewUDPSource(settings.TrackerAddr, log.Default())
	if err != nil {
		return err
	}
	defer source.Close()

	holder := &tracking.Holder{}
	go func() {
		for frame := range source.Frames() {
			holder.Store(frame)
		}
	}()
	go func() {
		if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[facebridge] tracking source stopped: %v", err)
			stop()
		}
	}()

	bus := eventbus.New()

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		metrics := observability.New()
		go metrics.Watch(ctx, bus)
		go serveMetrics(ctx, addr, metrics)
	}

	p := poller.New(poller.Options{
		Client:   client,
		Frames:   holder,
		Mapper:   paramMapper,
		Bus:      bus,
		Interval: settings.SendInterval,
	})
	p.Start(ctx)
	defer p.Stop()

	log.Printf("[facebridge] bridging %s -> %s:%d (PID %d)", settings.TrackerAddr, settings.Host, settings.Port, os.Getpid())
	<-ctx.Done()
	log.Printf("[facebridge] shutting down")
	return nil
}

func buildMapper(mappings []string, curveName string) (*mapper.Mapper, error) {
	if len(mappings) == 0 {
		return nil, nil
	}

	shape := curve.Clamped(curve.ByName(curveName))
	rules := make([]mapper.Rule, 0, len(mappings))
	for _, entry := range mappings {
		id, expr, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --map entry %q, want id=expression", entry)
		}
		rules = append(rules, mapper.Rule{ParamID: id, Expr: expr, Curve: shape})
	}
	return mapper.New(rules)
}

func serveMetrics(ctx context.Context, addr string, metrics *observability.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[facebridge] metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("[facebridge] metrics server failed: %v", err)
	}
}
