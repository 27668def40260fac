package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/tonewatch/capture"
	"github.com/RyanBlaney/tonewatch/configs"
	"github.com/RyanBlaney/tonewatch/detection"
	"github.com/RyanBlaney/tonewatch/display"
	"github.com/RyanBlaney/tonewatch/logging"
	"github.com/RyanBlaney/tonewatch/pipeline"
)

// outputs is the sink set built from display settings.
type outputs struct {
	sink      display.Sink
	console   *display.ConsoleSink
	websocket *display.WebSocketSink
}

// buildOutputs creates the sink for the configured display mode, a websocket
// hub when an address is set, and a detection logger.
func buildOutputs(cmd *cobra.Command, cfg *configs.Config) *outputs {
	out := &outputs{}
	var sinks display.MultiSink

	switch strings.ToLower(cfg.Display.Mode) {
	case configs.DisplayConsole:
		out.console = display.NewConsoleSink(cmd.OutOrStdout(), cfg.ConsoleOptions())
		sinks = append(sinks, out.console)
	case configs.DisplayJSON:
		sinks = append(sinks, display.NewJSONSink(cmd.OutOrStdout(), display.JSONOptions{
			DetectionsOnly: cfg.Display.DetectionsOnly,
			SpectrumBins:   cfg.Display.SpectrumBins,
		}))
	}

	if cfg.Display.WebSocketAddr != "" {
		opts := display.DefaultWebSocketOptions()
		if cfg.Display.SpectrumBins > 0 {
			opts.SpectrumBins = cfg.Display.SpectrumBins
		}
		opts.DetectionsOnly = cfg.Display.DetectionsOnly
		out.websocket = display.NewWebSocketSink(opts)
		sinks = append(sinks, out.websocket)
	}

	logger := logging.WithFields(logging.Fields{"component": "detections"})
	sinks = append(sinks, display.NotifyOnDetection(func(ctx context.Context, r *display.Report) error {
		labels := make([]string, 0, len(r.Results))
		for _, res := range r.Detections() {
			labels = append(labels, res.Band.Label())
		}
		logger.WithContext(ctx).Info("Tone detected", logging.Fields{
			"seq":   r.Seq,
			"bands": labels,
		})
		return nil
	}))

	out.sink = sinks
	return out
}

// runPipeline analyzes src until it ends or the command context is cancelled,
// then prints the run summary.
func runPipeline(cmd *cobra.Command, src capture.Source, title string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	analyzer, err := detection.NewAnalyzer(appConfig.DetectorConfig())
	if err != nil {
		return err
	}

	out := buildOutputs(cmd, appConfig)
	defer out.sink.Close()

	serveErr := make(chan error, 1)
	if out.websocket != nil {
		go func() {
			serveErr <- out.websocket.ListenAndServe(ctx, appConfig.Display.WebSocketAddr)
		}()
	}

	p, err := pipeline.New(src, analyzer, out.sink, appConfig.PipelineOptions())
	if err != nil {
		return err
	}

	if out.console != nil {
		out.console.Banner(fmt.Sprintf("Start %s", title))
	}

	stats, runErr := p.Run(ctx)

	if out.console != nil {
		out.console.Banner("End")
	}
	fmt.Fprintln(cmd.ErrOrStderr(), stats.Summary())

	cancel()
	if out.websocket != nil {
		if err := <-serveErr; err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("dashboard server: %w", err))
		}
	}
	return runErr
}
