package cognitive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/alzheon/alzheon/internal/platform/gemini"
)

const (
	ReasonNoAPIKey        = "NO_API_KEY"
	ReasonAnalysisFailed  = "ANALYSIS_FAILED"
	ReasonAnalysisTimeout = "ANALYSIS_TIMEOUT"
)

// Analyzer is the AI collaborator. *gemini.Client implements it.
type Analyzer interface {
	Configured() bool
	Analyze(ctx context.Context, req gemini.Request) (json.RawMessage, error)
}

// AnalysisOutcome is the result of one orchestrated analysis. A missing
// credential is reported as Reason NO_API_KEY, never as an error.
type AnalysisOutcome struct {
	OK       bool     `json:"ok"`
	Reason   string   `json:"reason,omitempty"`
	Message  string   `json:"message,omitempty"`
	Analysis Document `json:"analysis,omitempty"`
	Attempts int      `json:"-"`
}

// Status maps the outcome onto the stored analisisEstado.
func (o AnalysisOutcome) Status() AnalysisStatus {
	switch {
	case o.OK:
		return AnalysisOK
	case o.Reason == ReasonNoAPIKey:
		return AnalysisSkipped
	}
	return AnalysisFailed
}

// AnalysisInput is everything sent to the model for one upload.
type AnalysisInput struct {
	AssignmentID string
	Template     *TestTemplate
	Notas        string
	FileName     string
	MimeType     string
	Data         []byte
}

type OrchestratorConfig struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after a transient failure.
	Retries int
	// RetryDelay is the base backoff; attempt n waits n*RetryDelay.
	RetryDelay time.Duration
}

type Orchestrator struct {
	analyzer Analyzer
	cfg      OrchestratorConfig
	logger   zerolog.Logger
}

func NewOrchestrator(analyzer Analyzer, cfg OrchestratorConfig, logger zerolog.Logger) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Orchestrator{
		analyzer: analyzer,
		cfg:      cfg,
		logger:   logger.With().Str("component", "analysis-orchestrator").Logger(),
	}
}

// Analyze runs the analysis for one upload. It returns without any network
// call when the analyzer has no credential.
func (o *Orchestrator) Analyze(ctx context.Context, in AnalysisInput) AnalysisOutcome {
	if o.analyzer == nil || !o.analyzer.Configured() {
		return AnalysisOutcome{OK: false, Reason: ReasonNoAPIKey}
	}

	req := gemini.Request{
		Prompt:   buildPrompt(in),
		MimeType: in.MimeType,
		Data:     in.Data,
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= o.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*o.cfg.RetryDelay); err != nil {
				break
			}
		}
		attempts++
		raw, err := o.attempt(ctx, req)
		if err == nil {
			if verr := validateAnalysis(raw); verr != nil {
				lastErr = verr
				break
			}
			return AnalysisOutcome{OK: true, Analysis: Document(raw), Attempts: attempts}
		}
		lastErr = err
		if errors.Is(err, gemini.ErrNoAPIKey) {
			return AnalysisOutcome{OK: false, Reason: ReasonNoAPIKey, Attempts: attempts}
		}
		if ctx.Err() != nil || !gemini.IsTemporary(err) {
			break
		}
		o.logger.Warn().Err(err).
			Str("assignment_id", in.AssignmentID).
			Int("attempt", attempts).
			Msg("transient analysis failure")
	}

	out := AnalysisOutcome{OK: false, Reason: ReasonAnalysisFailed, Attempts: attempts}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	if errors.Is(lastErr, context.DeadlineExceeded) {
		out.Reason = ReasonAnalysisTimeout
	}
	if lastErr != nil {
		out.Message = lastErr.Error()
	}
	o.logger.Error().Err(lastErr).
		Str("assignment_id", in.AssignmentID).
		Str("reason", out.Reason).
		Int("attempts", attempts).
		Msg("analysis failed")
	return out
}

func (o *Orchestrator) attempt(ctx context.Context, req gemini.Request) (json.RawMessage, error) {
	actx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	return o.analyzer.Analyze(actx, req)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// validateAnalysis checks the answer is an object of the expected shape with
// no '$' keys. The raw bytes are what gets stored.
func validateAnalysis(raw json.RawMessage) error {
	var a Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return fmt.Errorf("analysis does not match the expected schema: %w", err)
	}
	if strings.TrimSpace(a.Resumen) == "" && len(a.Indicadores) == 0 {
		return errors.New("analysis is empty")
	}
	if key := operatorKey(raw); key != "" {
		return fmt.Errorf("analysis has reserved key %q", key)
	}
	return nil
}

const analysisSchema = `{
  "tipoTest": "string",
  "resumen": "string, observaciones objetivas del resultado",
  "indicadores": [{"nombre": "string", "nivel": "bajo | medio | alto | no_evaluable"}],
  "utilParaComparacion": {"valor": true, "motivo": "string"},
  "alertas": ["string"],
  "calidadArchivo": {"nivel": "buena | aceptable | mala", "motivo": "string"},
  "recomendacionMedico": "string",
  "disclaimer": "string"
}`

func buildPrompt(in AnalysisInput) string {
	var b strings.Builder
	b.WriteString("Eres un asistente que ayuda a un médico a revisar resultados de pruebas cognitivas. ")
	b.WriteString("No emites diagnósticos. Describe lo que observas en el archivo adjunto.\n\n")
	if t := in.Template; t != nil {
		fmt.Fprintf(&b, "Tipo de prueba: %s\n", t.Tipo)
		fmt.Fprintf(&b, "Nombre de la prueba: %s\n", t.Nombre)
		if t.Instrucciones != "" {
			fmt.Fprintf(&b, "Instrucciones dadas al paciente: %s\n", t.Instrucciones)
		}
	}
	if in.FileName != "" {
		fmt.Fprintf(&b, "Archivo: %s (%s)\n", in.FileName, in.MimeType)
	}
	if notas := strings.TrimSpace(in.Notas); notas != "" {
		fmt.Fprintf(&b, "Notas de quien sube el archivo: %s\n", notas)
	}
	b.WriteString("\nResponde únicamente con un objeto JSON con esta forma:\n")
	b.WriteString(analysisSchema)
	return b.String()
}
