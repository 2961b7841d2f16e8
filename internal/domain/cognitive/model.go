package cognitive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("not allowed to access this resource")
	ErrInvalidInput = errors.New("invalid input")
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

// TestTemplate is a cognitive test a doctor can assign.
type TestTemplate struct {
	ID            string    `json:"_id" bson:"_id"`
	Tipo          string    `json:"tipo" bson:"tipo"`
	Nombre        string    `json:"nombre" bson:"nombre"`
	Descripcion   string    `json:"descripcion" bson:"descripcion"`
	Instrucciones string    `json:"instrucciones" bson:"instrucciones"`
	CreadoPor     string    `json:"creadoPor,omitempty" bson:"creadoPor,omitempty"`
	CreatedAt     time.Time `json:"createdAt" bson:"createdAt"`
}

const (
	EstadoPendiente  = "pendiente"
	EstadoCompletada = "completada"
)

// Assignment is an Asignacion: one template assigned by a doctor to a patient.
type Assignment struct {
	ID          string     `json:"_id" bson:"_id"`
	PatientID   string     `json:"paciente" bson:"paciente"`
	DoctorID    string     `json:"medico" bson:"medico"`
	TemplateID  string     `json:"template" bson:"template"`
	Estado      string     `json:"estado" bson:"estado"`
	Notas       string     `json:"notas" bson:"notas"`
	FechaLimite *time.Time `json:"fechaLimite,omitempty" bson:"fechaLimite,omitempty"`
	CreatedAt   time.Time  `json:"createdAt" bson:"createdAt"`

	// Template is populated on reads, never stored.
	Template *TestTemplate `json:"templateInfo,omitempty" bson:"-"`
}

type AnalysisStatus string

const (
	AnalysisOK      AnalysisStatus = "ok"
	AnalysisFailed  AnalysisStatus = "failed"
	AnalysisSkipped AnalysisStatus = "skipped"
)

// File describes the stored upload of a submission.
type File struct {
	BlobID      string `json:"blobId" bson:"blobId"`
	Nombre      string `json:"nombre" bson:"nombre"`
	ContentType string `json:"contentType" bson:"contentType"`
	Size        int64  `json:"size" bson:"size"`
	Hash        string `json:"hash" bson:"hash"`
}

// AnalysisError is the marker stored in place of an analysis that failed or
// was not attempted.
type AnalysisError struct {
	Reason  string `json:"reason" bson:"reason"`
	Message string `json:"message,omitempty" bson:"message,omitempty"`
}

// Submission is one uploaded result. Exactly one of Analisis and
// AnalisisError is set. Submissions are never updated.
type Submission struct {
	ID             string         `json:"_id" bson:"_id"`
	AssignmentID   string         `json:"asignacion" bson:"asignacion"`
	PatientID      string         `json:"paciente" bson:"paciente"`
	UploadedBy     string         `json:"subidoPor" bson:"subidoPor"`
	Archivo        File           `json:"archivo" bson:"archivo"`
	Notas          string         `json:"notas" bson:"notas"`
	Analisis       Document       `json:"analisis,omitempty" bson:"analisis,omitempty"`
	AnalisisError  *AnalysisError `json:"analisisError,omitempty" bson:"analisisError,omitempty"`
	AnalisisEstado AnalysisStatus `json:"analisisEstado" bson:"analisisEstado"`
	CreatedAt      time.Time      `json:"createdAt" bson:"createdAt"`
}

// ---------------------------------------------------------------------------
// Analysis schema
// ---------------------------------------------------------------------------

type Indicator struct {
	Nombre string `json:"nombre"`
	Nivel  string `json:"nivel"`
}

type Comparability struct {
	Valor  bool   `json:"valor"`
	Motivo string `json:"motivo"`
}

type FileQuality struct {
	Nivel  string `json:"nivel"`
	Motivo string `json:"motivo"`
}

// Analysis is the structure the model is asked to return. It is only used to
// check the answer; the stored copy is the raw document.
type Analysis struct {
	TipoTest            string        `json:"tipoTest"`
	Resumen             string        `json:"resumen"`
	Indicadores         []Indicator   `json:"indicadores"`
	UtilParaComparacion Comparability `json:"utilParaComparacion"`
	Alertas             []string      `json:"alertas"`
	CalidadArchivo      FileQuality   `json:"calidadArchivo"`
	RecomendacionMedico string        `json:"recomendacionMedico"`
	Disclaimer          string        `json:"disclaimer"`
}

// Document is a JSON object kept verbatim. Mongo stores it as an embedded
// document and postgres as JSONB, so it stays queryable in both.
type Document json.RawMessage

func (d Document) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = nil
		return nil
	}
	*d = append((*d)[:0], data...)
	return nil
}

func (d Document) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if len(d) == 0 {
		return bsontype.Null, nil, nil
	}
	if trimmed := bytes.TrimSpace(d); len(trimmed) == 0 || trimmed[0] != '{' {
		return 0, nil, errors.New("analysis is not a JSON object")
	}
	if key := operatorKey(d); key != "" {
		return 0, nil, fmt.Errorf("analysis has reserved key %q", key)
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(d, false, &doc); err != nil {
		return 0, nil, fmt.Errorf("analysis is not a JSON object: %w", err)
	}
	return bson.MarshalValue(doc)
}

// operatorKey returns the first object key starting with '$' anywhere in raw,
// or "" if there is none. Such keys are read as Extended JSON type wrappers
// on the way into BSON, so the stored document would no longer match the
// JSON that was received.
func operatorKey(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return findOperatorKey(v)
}

func findOperatorKey(v any) string {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if strings.HasPrefix(k, "$") {
				return k
			}
			if key := findOperatorKey(child); key != "" {
				return key
			}
		}
	case []any:
		for _, child := range t {
			if key := findOperatorKey(child); key != "" {
				return key
			}
		}
	}
	return ""
}

func (d *Document) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	switch t {
	case bsontype.Null, bsontype.Undefined:
		*d = nil
		return nil
	case bsontype.EmbeddedDocument:
		out, err := bson.MarshalExtJSON(bson.Raw(data), false, false)
		if err != nil {
			return fmt.Errorf("decode analysis: %w", err)
		}
		*d = out
		return nil
	}
	return fmt.Errorf("decode analysis: unexpected bson type %s", t)
}
