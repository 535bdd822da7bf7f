// framescribe captures the screen or decodes a file, runs OCR or Vision on
// every frame and prints the ordered results as JSON.
//
//	framescribe capture -fps 2 -duration 30
//	framescribe upload -type Vision clip.mp4
//	framescribe serve -addr :8080
//	framescribe watch -url ws://localhost:8080/ws/frames
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-framescribe/internal/config"
	"github.com/teslashibe/go-framescribe/internal/httpc"
	applog "github.com/teslashibe/go-framescribe/internal/log"
	"github.com/teslashibe/go-framescribe/pkg/capture"
	"github.com/teslashibe/go-framescribe/pkg/opencv"
	"github.com/teslashibe/go-framescribe/pkg/pipeline"
	"github.com/teslashibe/go-framescribe/pkg/store"
	"github.com/teslashibe/go-framescribe/pkg/upload"
	"github.com/teslashibe/go-framescribe/pkg/vision"
	"github.com/teslashibe/go-framescribe/pkg/web"
)

const usage = `usage: framescribe <command> [flags]

commands:
  capture   capture the screen and process every frame
  upload    process an image or video file
  serve     run the HTTP API and live frame feed
  watch     print frames from a running server
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "capture":
		err = runCapture(args)
	case "upload":
		err = runUpload(args)
	case "serve":
		err = runServe(args)
	case "watch":
		err = runWatch(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		applog.L().Error("framescribe failed", "error", err)
		os.Exit(exitCode(err))
	}
}

// common holds the flags every processing command shares.
type common struct {
	configPath string
	logLevel   string
	workers    int
	policy     string
	procType   string
	model      string
	visionURL  string
	provider   string
	prompt     string
	noStore    bool
	out        string

	// storePath is the loaded store_path; empty means the default store.
	storePath string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "config file (default ./framescribe.yaml or ~/.framescribe/framescribe.yaml)")
	fs.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error")
	fs.IntVar(&c.workers, "workers", 0, "concurrent inference calls")
	fs.StringVar(&c.policy, "policy", "", "frame failure policy: fail-fast or partial")
	fs.StringVar(&c.procType, "type", "", "processing type: OCR or Vision")
	fs.StringVar(&c.model, "model", "", "OCR model (tesseract, google) or Vision model name")
	fs.StringVar(&c.visionURL, "vision-url", "", "OpenAI-compatible endpoint for Vision")
	fs.StringVar(&c.provider, "provider", "", "Vision provider: openai or gemini")
	fs.StringVar(&c.prompt, "prompt", "", "Vision prompt")
	fs.BoolVar(&c.noStore, "no-store", false, "do not record the run in the local store")
	fs.StringVar(&c.out, "out", "", "write the report here instead of stdout")
}

// load reads the config file and applies flag overrides.
func (c *common) load() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.workers > 0 {
		cfg.Workers = c.workers
	}
	if c.policy != "" {
		cfg.Policy = c.policy
	}
	if _, err := pipeline.ParsePolicy(cfg.Policy); err != nil {
		return nil, err
	}
	applog.Init(cfg.LogLevel)
	c.storePath = cfg.StorePath

	pc := &cfg.Processor
	if c.procType != "" {
		pc.ProcessingType = c.procType
	}
	switch pc.ProcessingType {
	case "OCR":
		if pc.OCR != nil && c.model != "" {
			pc.OCR.Model = c.model
		}
	case "Vision":
		if pc.Vision == nil {
			pc.Vision = &vision.Config{}
		}
		v := pc.Vision
		if c.model != "" {
			v.Model = c.model
		}
		if c.visionURL != "" {
			v.URL = c.visionURL
		}
		if c.provider != "" {
			v.Provider = c.provider
		}
		if c.prompt != "" {
			v.Prompt = c.prompt
		}
		if v.APIKey == "" {
			v.APIKey = visionKey(v.Provider)
		}
	}
	return cfg, nil
}

func visionKey(provider string) string {
	if provider == vision.ProviderGemini {
		return os.Getenv("GOOGLE_API_KEY")
	}
	return os.Getenv("OPENAI_API_KEY")
}

func runnerOptions(cfg *config.Config, logger *slog.Logger, dec upload.Decoder) []pipeline.Option {
	return append(cfg.RunnerOptions(),
		pipeline.WithLogger(logger),
		pipeline.WithHTTPClient(httpc.Client),
		pipeline.WithDecoder(dec),
		pipeline.WithRecorders(recorders),
	)
}

func recorders(dir, runID string, fps float64, chunk time.Duration, logger *slog.Logger) capture.Recorder {
	return opencv.NewRecorder(dir, runID, fps, chunk, logger)
}

func decoder(name string, every int) (upload.Decoder, error) {
	switch name {
	case "", "opencv":
		return opencv.Decoder{Every: every}, nil
	case "ffmpeg":
		return &upload.FFmpegDecoder{}, nil
	}
	return nil, fmt.Errorf("unknown decoder %q", name)
}

func runCapture(args []string) error {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	var c common
	c.register(fs)
	fps := fs.Float64("fps", 0, "frames per second (default 1, max 60)")
	duration := fs.Float64("duration", 0, "seconds to capture; 0 runs until interrupted")
	shots := fs.String("screenshots", "", "directory to save every captured frame")
	video := fs.String("video", "", "directory to save the capture as video chunks")
	chunk := fs.Float64("chunk", 0, "video chunk length in seconds (default 60)")
	quality := fs.Int("quality", -1, "frame quality 0-100; 100 is lossless PNG")
	captureOnly := fs.Bool("capture-only", false, "capture without processing")
	fs.Parse(args)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	cc := cfg.Capture
	setFloat(&cc.FPS, *fps)
	setFloat(&cc.Duration, *duration)
	setFloat(&cc.VideoChunkDuration, *chunk)
	if *quality >= 0 {
		cc.Quality = quality
	}
	if *shots != "" {
		cc.SaveScreenshotTo = *shots
	}
	if *video != "" {
		cc.SaveVideoTo = *video
	}

	logger := applog.With("cmd", "capture")
	sess := pipeline.NewSession(pipeline.NewRunner(runnerOptions(cfg, logger, opencv.Decoder{})...))
	if err := sess.SetCapturer(&cc); err != nil {
		return err
	}
	if !*captureOnly {
		if err := sess.SetProcessor(&cfg.Processor); err != nil {
			return err
		}
	}

	ctx, cancel := stopOnSignal(sess, logger)
	defer cancel()
	rep, err := sess.Run(ctx)
	return c.finish(pipeline.SourceCapture, "", rep, err)
}

func runUpload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	var c common
	c.register(fs)
	decName := fs.String("decoder", "opencv", "video decoder: opencv or ffmpeg")
	every := fs.Int("every", 0, "keep one decoded video frame out of every N (opencv only)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: framescribe upload [flags] <file>")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("upload takes exactly one file")
	}
	path := fs.Arg(0)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	if *every <= 0 {
		*every = cfg.DecodeEvery
	}
	dec, err := decoder(*decName, *every)
	if err != nil {
		return err
	}

	logger := applog.With("cmd", "upload")
	sess := pipeline.NewSession(pipeline.NewRunner(runnerOptions(cfg, logger, dec)...))
	if err := sess.SetUploader(path); err != nil {
		return c.finish(pipeline.SourceUpload, path, nil, err)
	}
	if err := sess.SetProcessor(&cfg.Processor); err != nil {
		return err
	}

	ctx, cancel := stopOnSignal(sess, logger)
	defer cancel()
	rep, err := sess.Run(ctx)
	return c.finish(pipeline.SourceUpload, path, rep, err)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var c common
	c.register(fs)
	addr := fs.String("addr", "", "listen address (default :8080)")
	storePath := fs.String("store", "", "run store file (default ~/.framescribe/runs.json)")
	fs.Parse(args)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *storePath != "" {
		cfg.StorePath = *storePath
	}
	st, err := openStore(cfg.StorePath)
	if err != nil {
		return err
	}

	logger := applog.L()
	srv := web.NewServer(cfg.Web(), st, logger,
		runnerOptions(cfg, logger, opencv.Decoder{Every: cfg.DecodeEvery})...)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	logger.Info("framescribe serving", "addr", cfg.Server.Addr, "store", st.Path())
	return srv.Start(ctx)
}

// stopOnSignal ends the session gracefully on the first interrupt and cancels
// it on the second.
func stopOnSignal(sess *pipeline.Session, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sig)
		select {
		case <-sig:
			logger.Info("stopping, interrupt again to abort")
			sess.Stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// finish records the run and writes the report.
func (c *common) finish(source, input string, rep *pipeline.Report, runErr error) error {
	if !c.noStore {
		if st, err := openStore(c.storePath); err != nil {
			applog.L().Warn("run not recorded", "error", err)
		} else if err := st.Save(store.NewRun(source, input, rep, runErr)); err != nil {
			applog.L().Warn("run not recorded", "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	var w io.Writer = os.Stdout
	if c.out != "" {
		f, err := os.Create(c.out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func openStore(path string) (*store.JSONStore, error) {
	if path == "" {
		return store.NewDefaultStore()
	}
	return store.NewJSONStore(path)
}

func setFloat(dst **float64, v float64) {
	if v > 0 {
		*dst = &v
	}
}

// exitCode maps error kinds to distinct process exit codes.
func exitCode(err error) int {
	switch pipeline.KindOf(err) {
	case pipeline.KindInvalidConfig:
		return 2
	case pipeline.KindFileNotFound, pipeline.KindUnsupportedFormat, pipeline.KindDecodeError:
		return 3
	case pipeline.KindCaptureError:
		return 4
	case pipeline.KindProcessingError:
		return 5
	case pipeline.KindCanceled:
		return 130
	}
	return 1
}
