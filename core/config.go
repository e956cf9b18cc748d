package core

import (
	"errors"
	"fmt"
	"time"
)

// PolicyKind selects the decision policy of a DeciderEngine.
type PolicyKind string

const (
	PolicyPassThrough    PolicyKind = "pass_through"
	PolicySNRThreshold   PolicyKind = "snr_threshold"
	PolicyBitError       PolicyKind = "bit_error"
	PolicyModulationBER  PolicyKind = "modulation_ber"
	PolicyMultiThreshold PolicyKind = "multi_threshold"
)

// Config is the per-receiver parameter set. It is built once and passed to
// NewDeciderEngine; nothing in this package keeps parameters in globals.
type Config struct {
	Policy PolicyKind

	// Sensitivity is the smallest received power (mW) at reception start
	// for a frame to be detected at all.
	Sensitivity float64

	// MaxConcurrentFrames bounds how many frames are tracked at once:
	// 1 tracks a single frame, 0 tracks every detected frame, n > 1 caps
	// the set at n. Frames beyond the limit end immediately as collisions.
	MaxConcurrentFrames int

	// TrackWeakFrames keeps sub-sensitivity frames tracked as interference
	// until their end. Only used when MaxConcurrentFrames is 0.
	TrackWeakFrames bool

	// Strict turns an invocation for an untracked, already started frame
	// into a ProtocolError instead of ignoring it.
	Strict bool

	// Seed seeds the uniform draws used by probabilistic policies.
	Seed uint64

	SNRThreshold   SNRThresholdConfig
	BitError       BitErrorConfig
	ModulationBER  ModulationBERConfig
	MultiThreshold MultiThresholdConfig
}

// SNRThresholdConfig configures the SNR-threshold policy.
type SNRThresholdConfig struct {
	// Threshold is the linear SNR the frame must stay strictly above.
	Threshold float64
}

// BitErrorConfig configures the per-segment bit-error policy.
type BitErrorConfig struct {
	Modulation string
	// SFDLength is the start-of-frame delimiter length in bits. A positive
	// value enables the header synchronisation phase.
	SFDLength     int
	BERLowerBound float64
	// Bitrate is used when a frame carries no bitrate function.
	Bitrate float64
}

// ModulationBERConfig configures the 802.11b style policy.
type ModulationBERConfig struct {
	Bandwidth     float64
	HeaderBitrate float64
	// HeaderBits is the PLCP header length without preamble, PHYHeaderBits
	// the full PHY header subtracted from the frame length.
	HeaderBits    int
	PHYHeaderBits int
	// HeaderGrace is skipped at the start of the frame when searching the
	// minimum SNR.
	HeaderGrace  time.Duration
	SNRThreshold float64
	// CollisionStats attributes losses that would not occur over thermal
	// noise alone to collisions.
	CollisionStats bool
}

// MultiThresholdConfig configures the multicarrier minimum-SNR policy.
type MultiThresholdConfig struct {
	SymbolTime time.Duration
	// CodeRates and Thresholds are indexed by frame mode.
	CodeRates  []float64
	Thresholds []float64
	// CCAThreshold is the linear SNR at or below which a frame is not
	// recognised at all and counts as a collision.
	CCAThreshold float64
}

// unreachableThreshold is used for frame modes without a threshold.
const unreachableThreshold = 9.9999e20

// ofdmRequiredSNRdB is the SNR each 802.11a mode needs for error-free
// decoding, used to derive the default mode thresholds.
var ofdmRequiredSNRdB = []float64{6, 7.8, 9, 10.8, 17, 18.8, 24, 24.6}

var ofdmCodeRates = []float64{0.5, 0.75, 0.5, 0.75, 0.5, 0.75, 2.0 / 3.0, 0.75}

// DefaultConfig returns a single-frame SNR-threshold receiver with sensible
// parameters for every policy.
func DefaultConfig() Config {
	symbol := 4 * time.Microsecond
	thresholds := make([]float64, len(ofdmRequiredSNRdB))
	for i, db := range ofdmRequiredSNRdB {
		thresholds[i] = fromDB(db) * symbol.Seconds() * codingGain(ofdmCodeRates[i])
	}
	return Config{
		Policy:              PolicySNRThreshold,
		Sensitivity:         fromDB(-100),
		MaxConcurrentFrames: 1,
		Strict:              true,
		Seed:                1,
		SNRThreshold:        SNRThresholdConfig{Threshold: fromDB(3)},
		BitError: BitErrorConfig{
			Modulation:    ModulationOQPSK16,
			SFDLength:     8,
			BERLowerBound: DefaultBERLowerBound,
			Bitrate:       250e3,
		},
		ModulationBER: ModulationBERConfig{
			Bandwidth:     2e6,
			HeaderBitrate: 1e6,
			HeaderBits:    48,
			PHYHeaderBits: 192,
			HeaderGrace:   20 * time.Microsecond,
			SNRThreshold:  fromDB(4),
		},
		MultiThreshold: MultiThresholdConfig{
			SymbolTime:   symbol,
			CodeRates:    append([]float64(nil), ofdmCodeRates...),
			Thresholds:   thresholds,
			CCAThreshold: fromDB(1),
		},
	}
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error
	if c.Sensitivity < 0 {
		errs = append(errs, fmt.Errorf("sensitivity must be >= 0, got %v", c.Sensitivity))
	}
	if c.MaxConcurrentFrames < 0 {
		errs = append(errs, fmt.Errorf("max concurrent frames must be >= 0, got %d", c.MaxConcurrentFrames))
	}
	switch c.Policy {
	case PolicyPassThrough:
	case PolicySNRThreshold:
		if c.SNRThreshold.Threshold < 0 {
			errs = append(errs, fmt.Errorf("snr threshold must be >= 0"))
		}
	case PolicyBitError:
		if _, err := BERForModulation(c.BitError.Modulation); err != nil {
			errs = append(errs, err)
		}
		if c.BitError.SFDLength < 0 {
			errs = append(errs, fmt.Errorf("sfd length must be >= 0"))
		}
		if c.BitError.Bitrate <= 0 {
			errs = append(errs, fmt.Errorf("bit error policy needs a positive fallback bitrate"))
		}
	case PolicyModulationBER:
		m := c.ModulationBER
		if m.Bandwidth <= 0 || m.HeaderBitrate <= 0 {
			errs = append(errs, fmt.Errorf("modulation policy needs positive bandwidth and header bitrate"))
		}
		if m.HeaderBits < 0 || m.PHYHeaderBits < 0 || m.HeaderGrace < 0 {
			errs = append(errs, fmt.Errorf("modulation policy header sizes must be >= 0"))
		}
	case PolicyMultiThreshold:
		m := c.MultiThreshold
		if m.SymbolTime <= 0 {
			errs = append(errs, fmt.Errorf("multi-threshold policy needs a positive symbol time"))
		}
		if len(m.CodeRates) != len(m.Thresholds) {
			errs = append(errs, fmt.Errorf("multi-threshold policy has %d code rates but %d thresholds",
				len(m.CodeRates), len(m.Thresholds)))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown policy %q", c.Policy))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// NewPolicy builds the decision policy selected by c.
func NewPolicy(c Config) (Policy, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Policy {
	case PolicyPassThrough:
		return PassThrough{}, nil
	case PolicySNRThreshold:
		return &SNRThreshold{Threshold: c.SNRThreshold.Threshold}, nil
	case PolicyBitError:
		ber, _ := BERForModulation(c.BitError.Modulation)
		return &BitErrorPolicy{
			BER:           ber,
			SFDLength:     c.BitError.SFDLength,
			BERLowerBound: c.BitError.BERLowerBound,
			Bitrate:       c.BitError.Bitrate,
		}, nil
	case PolicyModulationBER:
		m := c.ModulationBER
		return &ModulationBER{
			Bandwidth:      m.Bandwidth,
			HeaderBitrate:  m.HeaderBitrate,
			HeaderBits:     m.HeaderBits,
			PHYHeaderBits:  m.PHYHeaderBits,
			HeaderGrace:    m.HeaderGrace,
			SNRThreshold:   m.SNRThreshold,
			CollisionStats: m.CollisionStats,
		}, nil
	default:
		m := c.MultiThreshold
		return &MultiThreshold{
			SymbolTime:   m.SymbolTime,
			CodeRates:    append([]float64(nil), m.CodeRates...),
			Thresholds:   append([]float64(nil), m.Thresholds...),
			CCAThreshold: m.CCAThreshold,
		}, nil
	}
}
