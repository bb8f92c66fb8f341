package wqi

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"riverwatch/internal/models"
)

var (
	// ErrValidationRejected marks a candidate reading that must be discarded
	ErrValidationRejected = errors.New("validation rejected")
	// ErrNotNewer marks a candidate carrying the same observation time as the current reading
	ErrNotNewer = errors.New("reading is not newer than current")
)

// Rejection describes why a candidate was rejected
type Rejection struct {
	Reason string // empty, not_finite, out_of_bounds, future, out_of_order
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidationRejected, r.Reason, r.Detail)
}

func (r *Rejection) Unwrap() error {
	return ErrValidationRejected
}

// Bound is an inclusive physical range for a parameter
type Bound struct {
	Min float64
	Max float64
}

// PhysicalBounds are the hard limits outside of which a value cannot be a real measurement
var PhysicalBounds = map[models.Parameter]Bound{
	models.ParamPH:           {0, 14},
	models.ParamTemperature:  {-10, 50},
	models.ParamDO:           {0, 20},
	models.ParamBOD:          {0, 100},
	models.ParamFC:           {0, 1e7},
	models.ParamTurbidity:    {0, 1000},
	models.ParamConductivity: {0, 10000},
	models.ParamTDS:          {0, 5000},
	models.ParamNitrate:      {0, 500},
}

// Validator scores candidate readings and decides whether they are accepted
type Validator struct {
	bounds            map[models.Parameter]Bound
	suspectConfidence float64
	maxFutureSkew     time.Duration
	clock             clockwork.Clock
}

// ValidatorOption customises a Validator
type ValidatorOption func(*Validator)

// WithSuspectConfidence sets the adapter confidence under which readings are flagged suspect
func WithSuspectConfidence(c float64) ValidatorOption {
	return func(v *Validator) { v.suspectConfidence = c }
}

// WithMaxFutureSkew sets how far in the future a timestamp may be
func WithMaxFutureSkew(d time.Duration) ValidatorOption {
	return func(v *Validator) { v.maxFutureSkew = d }
}

// WithClock sets the time source
func WithClock(c clockwork.Clock) ValidatorOption {
	return func(v *Validator) { v.clock = c }
}

// NewValidator creates a validator using PhysicalBounds
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		bounds:            PhysicalBounds,
		suspectConfidence: 0.7,
		maxFutureSkew:     5 * time.Minute,
		clock:             clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks a candidate against hard bounds and the station's current
// reading. Accepted readings are returned with their quality set; bad
// readings are returned as a *Rejection.
func (v *Validator) Validate(candidate models.Reading, current *models.Reading) (models.Reading, error) {
	if len(candidate.Values) == 0 {
		return models.Reading{}, &Rejection{Reason: "empty", Detail: "no parameter values"}
	}

	for p, value := range candidate.Values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return models.Reading{}, &Rejection{Reason: "not_finite", Detail: string(p)}
		}
		if b, ok := v.bounds[p]; ok && (value < b.Min || value > b.Max) {
			return models.Reading{}, &Rejection{
				Reason: "out_of_bounds",
				Detail: fmt.Sprintf("%s=%g outside [%g, %g]", p, value, b.Min, b.Max),
			}
		}
	}

	if candidate.Timestamp.After(v.clock.Now().Add(v.maxFutureSkew)) {
		return models.Reading{}, &Rejection{Reason: "future", Detail: candidate.Timestamp.Format(time.RFC3339)}
	}

	if current != nil {
		if candidate.Timestamp.Before(current.Timestamp) {
			return models.Reading{}, &Rejection{
				Reason: "out_of_order",
				Detail: fmt.Sprintf("%s before current %s",
					candidate.Timestamp.Format(time.RFC3339), current.Timestamp.Format(time.RFC3339)),
			}
		}
		if candidate.Timestamp.Equal(current.Timestamp) {
			return models.Reading{}, ErrNotNewer
		}
	}

	accepted := candidate.Clone()
	accepted.Quality = v.score(candidate)
	return accepted, nil
}

func (v *Validator) score(r models.Reading) models.Quality {
	if r.Confidence < v.suspectConfidence {
		return models.QualitySuspect
	}
	for _, p := range models.CoreParameters {
		if _, ok := r.Values[p]; !ok {
			return models.QualitySuspect
		}
	}
	return models.QualityGood
}

// RejectReason returns the rejection reason carried by err, or "unknown"
func RejectReason(err error) string {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return "unknown"
}
