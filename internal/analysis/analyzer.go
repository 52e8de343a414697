package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/medbill/internal/scanning"
)

// State is a step of the two-phase protocol
type State int

const (
	StateIdle State = iota
	StateDetecting
	StateDetected
	StateAnalyzing
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetecting:
		return "detecting"
	case StateDetected:
		return "detected"
	case StateAnalyzing:
		return "analyzing"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Phase tags carried by progress events
const (
	PhaseDetecting        = "detecting"
	PhaseDetected         = "detected"
	PhaseLocationMismatch = "location_mismatch"
	PhaseAnalyzing        = "analyzing"
	PhaseComplete         = "complete"
)

// Event is one progress notification. Events are values; observers cannot
// change the course of an analysis.
type Event struct {
	Phase     string             `json:"phase"`
	Status    string             `json:"status,omitempty"`
	Progress  int                `json:"progress,omitempty"`
	Detection *LocationDetection `json:"detectionData,omitempty"`
	Warning   string             `json:"warning,omitempty"`
}

// ProgressFunc receives events synchronously, in order
type ProgressFunc func(Event)

// Request names the countries an analysis is about
type Request struct {
	// TargetCountry is the market whose fair prices the bill is compared against
	TargetCountry string
	// OriginCountry is where the user says the bill was issued
	OriginCountry string
}

// Config holds the analyzer's explicit configuration
type Config struct {
	// CallTimeout bounds each model call. Zero leaves only the caller's context.
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Analyzer runs the two-phase protocol against a Scanner. It keeps no state
// between calls, so one Analyzer can serve concurrent requests; each call is
// strictly sequential inside.
type Analyzer struct {
	scanner scanning.Scanner
	cfg     Config
	logger  *slog.Logger
}

// NewAnalyzer creates an Analyzer
func NewAnalyzer(scanner scanning.Scanner, cfg Config) *Analyzer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{scanner: scanner, cfg: cfg, logger: logger}
}

// Detect runs phase 1 and returns the validated location detection
func (a *Analyzer) Detect(ctx context.Context, img scanning.Image) (*LocationDetection, error) {
	text, err := a.call(ctx, img, LocationDetectionPrompt())
	if err != nil {
		return nil, fmt.Errorf("detecting location: %w", err)
	}

	obj, err := Extract(text)
	if err != nil {
		return nil, err
	}
	return DecodeLocationDetection(obj)
}

// AnalyzePrices runs phase 2 with the phase-1 context and returns the
// validated result with its diagnostics attached. The result is not sanitized.
func (a *Analyzer) AnalyzePrices(ctx context.Context, img scanning.Image, req Request, detection *LocationDetection, match LocationMatch) (*Result, error) {
	text, err := a.call(ctx, img, PriceAnalysisPrompt(req, detection, match))
	if err != nil {
		return nil, fmt.Errorf("analyzing prices: %w", err)
	}

	obj, err := Extract(text)
	if err != nil {
		return nil, err
	}
	result, err := DecodeResult(obj)
	if err != nil {
		return nil, err
	}

	outcome := ValidateComplete(result, detection)
	if !outcome.Valid {
		return nil, &ReconciliationError{Errors: outcome.Errors}
	}

	if result.Currency == "" && detection != nil {
		result.Currency = detection.DetectedCurrency
	}

	result.Detection = detection
	result.LocationMatch = &match
	result.Validation = &ValidationReport{Warnings: outcome.Warnings, Stats: outcome.Stats}

	if len(outcome.Warnings) > 0 {
		a.logger.Warn("Analysis warnings", "warnings", outcome.Warnings)
	}
	return result, nil
}

// Analyze runs detection then priced analysis and returns the sanitized
// result. Any failure aborts with a *StageError; there are no partial results
// and no retries.
func (a *Analyzer) Analyze(ctx context.Context, img scanning.Image, req Request, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(Event) {}
	}
	state := StateIdle

	fail := func(err error) (*Result, error) {
		a.logger.Error("Analysis failed", "state", state, "error", err)
		return nil, &StageError{State: state, Err: err}
	}

	state = StateDetecting
	progress(Event{Phase: PhaseDetecting, Status: "Detecting bill location and currency...", Progress: 10})

	detection, err := a.Detect(ctx, img)
	if err != nil {
		return fail(err)
	}

	state = StateDetected
	a.logger.Info("Location detected",
		"country", detection.DetectedCountry,
		"currency", detection.DetectedCurrency,
		"confidence", detection.Confidence,
	)
	if len(detection.Warnings) > 0 {
		a.logger.Warn("Location detection advisories", "warnings", detection.Warnings)
	}
	progress(Event{
		Phase:     PhaseDetected,
		Status:    fmt.Sprintf("Detected %s (%s)", detection.DetectedCountry, detection.DetectedCurrency),
		Progress:  40,
		Detection: detection,
	})

	match := MatchLocation(detection.DetectedCountry, req.OriginCountry)
	if !match.IsMatch {
		a.logger.Warn("Location mismatch", "detected", detection.DetectedCountry, "claimed", req.OriginCountry)
		progress(Event{Phase: PhaseLocationMismatch, Warning: *match.Warning, Detection: detection})
	}

	state = StateAnalyzing
	progress(Event{Phase: PhaseAnalyzing, Status: fmt.Sprintf("Comparing prices against %s market rates...", req.TargetCountry), Progress: 60})

	result, err := a.AnalyzePrices(ctx, img, req, detection, match)
	if err != nil {
		return fail(err)
	}

	state = StateComplete
	progress(Event{Phase: PhaseComplete, Status: "Analysis complete", Progress: 90})

	return Sanitize(result), nil
}

func (a *Analyzer) call(ctx context.Context, img scanning.Image, prompt string) (string, error) {
	if a.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	text, err := a.scanner.Scan(ctx, img, prompt)
	if err != nil {
		var te *scanning.TransportError
		if !errors.As(err, &te) && ctx.Err() != nil {
			err = &scanning.TransportError{Category: scanning.ErrNetwork, Message: ctx.Err().Error(), Err: err}
		}
		return "", err
	}
	a.logger.Debug("Model call finished", "duration", time.Since(start), "response_bytes", len(text))
	return text, nil
}
