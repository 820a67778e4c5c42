package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skobkin/gcu-sentinel/internal/app"
	"github.com/skobkin/gcu-sentinel/internal/config"
	"github.com/skobkin/gcu-sentinel/internal/frame"
	"github.com/skobkin/gcu-sentinel/internal/thermal"
	"github.com/skobkin/gcu-sentinel/internal/units"
)

type options struct {
	file       string
	count      int
	timeout    time.Duration
	pngOut     string
	threshold  float64
	jsonOutput bool
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.file, "file", "", "Decode a frame stored in a file instead of dialing the configured stream")
	flag.IntVar(&opts.count, "n", 1, "Number of frames to read from the stream")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Give up waiting for frames after this long")
	flag.StringVar(&opts.pngOut, "png", "", "Write the last frame as a PNG to this path")
	flag.Float64Var(&opts.threshold, "threshold", 75, "Warning threshold used for the summary")
	flag.BoolVar(&opts.jsonOutput, "json", false, "Emit summaries as JSON")
	flag.Parse()
	return opts
}

type summary struct {
	UnitID     uint8   `json:"unit_id"`
	Label      string  `json:"label"`
	Timestamp  uint64  `json:"timestamp"`
	MaxTemp    float32 `json:"max_temp"`
	AvgTemp    float32 `json:"avg_temp"`
	PayloadLen uint32  `json:"payload_len"`
	Warning    bool    `json:"warning"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	MinCell    float64 `json:"min_cell,omitempty"`
	MaxCell    float64 `json:"max_cell,omitempty"`
}

func main() {
	opts := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	registry := units.NewRegistry(cfg.UnitLabels)

	var samples []frame.Sample
	if opts.file != "" {
		data, err := os.ReadFile(opts.file)
		if err != nil {
			logger.Error("read frame file", "err", err)
			os.Exit(1)
		}
		sample, err := frame.Decode(data)
		if err != nil {
			logger.Error("decode frame", "reason", frame.Reason(err), "err", err)
			os.Exit(1)
		}
		samples = append(samples, sample)
	} else {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		samples, err = readStream(ctx, cfg, opts, logger)
		if err != nil {
			logger.Error("read stream", "source", cfg.Stream.Source, "err", err)
			os.Exit(1)
		}
	}

	for _, sample := range samples {
		printSummary(describe(sample, registry, opts.threshold), opts.jsonOutput, logger)
	}

	if opts.pngOut != "" && len(samples) > 0 {
		if err := writePNG(opts.pngOut, samples[len(samples)-1], opts.threshold); err != nil {
			logger.Error("write png", "path", opts.pngOut, "err", err)
			os.Exit(1)
		}
		logger.Info("png written", "path", opts.pngOut)
	}
}

func readStream(ctx context.Context, cfg config.Config, opts options, logger *slog.Logger) ([]frame.Sample, error) {
	dialer, err := app.NewDialer(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	conn, err := dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var samples []frame.Sample
	for len(samples) < opts.count {
		data, err := conn.Read(ctx)
		if err != nil {
			return samples, err
		}
		sample, err := frame.Decode(data)
		if err != nil {
			logger.Warn("frame dropped", "reason", frame.Reason(err), "bytes", len(data))
			continue
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func describe(sample frame.Sample, registry *units.Registry, threshold float64) summary {
	out := summary{
		UnitID:     sample.UnitID,
		Label:      registry.Label(sample.UnitID),
		Timestamp:  sample.Timestamp,
		MaxTemp:    sample.MaxTemp,
		AvgTemp:    sample.AvgTemp,
		PayloadLen: sample.PayloadLen,
		Warning:    float64(sample.MaxTemp) > threshold,
	}
	if img, ok := thermal.Render(sample.Matrix, int(sample.PayloadLen), threshold); ok {
		out.Width = img.Width
		out.Height = img.Height
		out.MinCell = img.MinTemp
		out.MaxCell = img.MaxTemp
	}
	return out
}

func printSummary(s summary, jsonOutput bool, logger *slog.Logger) {
	if jsonOutput {
		data, err := json.Marshal(s)
		if err != nil {
			logger.Error("encode summary", "err", err)
			return
		}
		fmt.Println(string(data))
		return
	}
	fmt.Printf("%s ts=%d max=%.2f avg=%.2f cells=%d warning=%t", s.Label, s.Timestamp, s.MaxTemp, s.AvgTemp, s.PayloadLen, s.Warning)
	if s.Width > 0 {
		fmt.Printf(" grid=%dx%d range=[%.2f, %.2f]", s.Width, s.Height, s.MinCell, s.MaxCell)
	}
	fmt.Println()
}

func writePNG(path string, sample frame.Sample, threshold float64) error {
	img, ok := thermal.Render(sample.Matrix, int(sample.PayloadLen), threshold)
	if !ok {
		return fmt.Errorf("unit %d frame has no drawable cells", sample.UnitID)
	}
	data, err := thermal.EncodePNG(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
