// Package scenario loads scripted receiver scenarios: a decider
// configuration, a noise floor, the frames arriving at the receiver and the
// channel sense requests its MAC issues.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/phy-decider/core"
	"github.com/signalsfoundry/phy-decider/mapping"
	"github.com/signalsfoundry/phy-decider/model"
)

// Scenario is a parsed scenario file. JSON input works too since it is a
// YAML subset.
type Scenario struct {
	Name            string        `yaml:"name"`
	Receiver        Receiver      `yaml:"receiver"`
	ThermalNoiseDBm *float64      `yaml:"thermal_noise_dbm"`
	Retention       time.Duration `yaml:"retention"`
	Duration        time.Duration `yaml:"duration"`
	Frames          []Frame       `yaml:"frames"`
	Sense           []Sense       `yaml:"sense"`
}

// Receiver overrides core.DefaultConfig. Unset fields keep their defaults.
type Receiver struct {
	Policy              string   `yaml:"policy"`
	SensitivityDBm      *float64 `yaml:"sensitivity_dbm"`
	MaxConcurrentFrames *int     `yaml:"max_concurrent_frames"`
	TrackWeakFrames     bool     `yaml:"track_weak_frames"`
	Permissive          bool     `yaml:"permissive"`
	Seed                *uint64  `yaml:"seed"`

	SNRThresholdDB *float64 `yaml:"snr_threshold_db"`

	Modulation    string   `yaml:"modulation"`
	SFDLength     *int     `yaml:"sfd_length"`
	BERLowerBound *float64 `yaml:"ber_lower_bound"`
	Bitrate       *float64 `yaml:"bitrate"`

	HeaderGrace    *time.Duration `yaml:"header_grace"`
	ModulationSNR  *float64       `yaml:"modulation_snr_threshold_db"`
	CollisionStats bool           `yaml:"collision_stats"`

	CCAThresholdDB *float64 `yaml:"cca_threshold_db"`
}

// Frame describes one transmission as it arrives at the receiver.
type Frame struct {
	ID       uint64        `yaml:"id"`
	Sender   string        `yaml:"sender"`
	Start    time.Duration `yaml:"start"`
	Duration time.Duration `yaml:"duration"`
	PowerDBm float64       `yaml:"power_dbm"`
	// LossDB is applied as an attenuation stage.
	LossDB          float64 `yaml:"loss_db"`
	Bits            int     `yaml:"bits"`
	HeaderBits      int     `yaml:"header_bits"`
	HeaderBitrate   float64 `yaml:"header_bitrate"`
	PayloadBitrate  float64 `yaml:"payload_bitrate"`
	Mode            int     `yaml:"mode"`
	CenterFrequency float64 `yaml:"center_frequency"`
	Bandwidth       float64 `yaml:"bandwidth"`
}

// Sense is a channel sense request issued at At.
type Sense struct {
	ID      uint64        `yaml:"id"`
	At      time.Duration `yaml:"at"`
	Mode    string        `yaml:"mode"`
	Timeout time.Duration `yaml:"timeout"`
}

// TimedSense pairs a sense request with its issue time.
type TimedSense struct {
	At      time.Time
	Request *model.ChannelSenseRequest
}

// Load decodes and validates a scenario.
func Load(r io.Reader) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("scenario: decode failed: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads a scenario from path.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Validate checks frame and sense request entries.
func (s *Scenario) Validate() error {
	var errs []error
	seen := make(map[uint64]bool, len(s.Frames))
	for i, f := range s.Frames {
		switch {
		case f.ID == 0:
			errs = append(errs, fmt.Errorf("frame %d: id must be non-zero", i))
		case seen[f.ID]:
			errs = append(errs, fmt.Errorf("frame %d: duplicate id %d", i, f.ID))
		}
		seen[f.ID] = true
		if f.Start < 0 || f.Duration < 0 {
			errs = append(errs, fmt.Errorf("frame %d: start and duration must be >= 0", f.ID))
		}
	}
	csrs := make(map[uint64]bool, len(s.Sense))
	for i, c := range s.Sense {
		if c.ID == 0 || csrs[c.ID] {
			errs = append(errs, fmt.Errorf("sense %d: id must be unique and non-zero", i))
		}
		csrs[c.ID] = true
		if _, err := model.ParseSenseMode(c.Mode); err != nil {
			errs = append(errs, fmt.Errorf("sense %d: %w", c.ID, err))
		}
		if c.At < 0 || c.Timeout < 0 {
			errs = append(errs, fmt.Errorf("sense %d: at and timeout must be >= 0", c.ID))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("scenario: %w", err)
	}
	return nil
}

// DeciderConfig returns core.DefaultConfig with the receiver overrides
// applied.
func (s *Scenario) DeciderConfig() (core.Config, error) {
	r := s.Receiver
	cfg := core.DefaultConfig()
	if r.Policy != "" {
		cfg.Policy = core.PolicyKind(r.Policy)
	}
	if r.SensitivityDBm != nil {
		cfg.Sensitivity = dbmToMW(*r.SensitivityDBm)
	}
	if r.MaxConcurrentFrames != nil {
		cfg.MaxConcurrentFrames = *r.MaxConcurrentFrames
	}
	cfg.TrackWeakFrames = r.TrackWeakFrames
	cfg.Strict = !r.Permissive
	if r.Seed != nil {
		cfg.Seed = *r.Seed
	}
	if r.SNRThresholdDB != nil {
		cfg.SNRThreshold.Threshold = dbmToMW(*r.SNRThresholdDB)
	}
	if r.Modulation != "" {
		cfg.BitError.Modulation = r.Modulation
	}
	if r.SFDLength != nil {
		cfg.BitError.SFDLength = *r.SFDLength
	}
	if r.BERLowerBound != nil {
		cfg.BitError.BERLowerBound = *r.BERLowerBound
	}
	if r.Bitrate != nil {
		cfg.BitError.Bitrate = *r.Bitrate
	}
	if r.HeaderGrace != nil {
		cfg.ModulationBER.HeaderGrace = *r.HeaderGrace
	}
	if r.ModulationSNR != nil {
		cfg.ModulationBER.SNRThreshold = dbmToMW(*r.ModulationSNR)
	}
	cfg.ModulationBER.CollisionStats = r.CollisionStats
	if r.CCAThresholdDB != nil {
		cfg.MultiThreshold.CCAThreshold = dbmToMW(*r.CCAThresholdDB)
	}
	if err := cfg.Validate(); err != nil {
		return core.Config{}, fmt.Errorf("scenario: receiver: %w", err)
	}
	return cfg, nil
}

// ThermalNoiseMW returns the noise floor in mW, 0 when none is set.
func (s *Scenario) ThermalNoiseMW() float64 {
	if s.ThermalNoiseDBm == nil {
		return 0
	}
	return dbmToMW(*s.ThermalNoiseDBm)
}

// BuildFrames converts the frame entries to model frames relative to epoch,
// sorted by reception start.
func (s *Scenario) BuildFrames(epoch time.Time) ([]*model.Frame, error) {
	out := make([]*model.Frame, 0, len(s.Frames))
	for _, fs := range s.Frames {
		sig := model.NewSignal(epoch.Add(fs.Start), fs.Duration, dbmToMW(fs.PowerDBm))
		sig.CenterFrequency = fs.CenterFrequency
		sig.Bandwidth = fs.Bandwidth
		if fs.LossDB != 0 {
			if err := sig.AddAttenuation(mapping.Constant(dbmToMW(-fs.LossDB))); err != nil {
				return nil, fmt.Errorf("scenario: frame %d: %w", fs.ID, err)
			}
		}
		f := &model.Frame{
			ID:           model.FrameID(fs.ID),
			Sender:       fs.Sender,
			Signal:       sig,
			BitLength:    fs.Bits,
			HeaderLength: fs.HeaderBits,
			Mode:         fs.Mode,
		}
		if fs.HeaderBitrate > 0 || fs.PayloadBitrate > 0 {
			header := fs.HeaderBitrate
			if header <= 0 {
				header = fs.PayloadBitrate
			}
			var headerDur time.Duration
			if fs.HeaderBits > 0 {
				headerDur = time.Duration(float64(fs.HeaderBits) / header * float64(time.Second))
			}
			payload := fs.PayloadBitrate
			if payload <= 0 {
				payload = header
			}
			sig.SetBitrate(headerDur, header, payload)
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Signal.ReceptionStart.Before(out[j].Signal.ReceptionStart)
	})
	return out, nil
}

// SenseRequests converts the sense entries relative to epoch, sorted by
// issue time.
func (s *Scenario) SenseRequests(epoch time.Time) []TimedSense {
	out := make([]TimedSense, 0, len(s.Sense))
	for _, c := range s.Sense {
		mode, _ := model.ParseSenseMode(c.Mode)
		out = append(out, TimedSense{
			At:      epoch.Add(c.At),
			Request: &model.ChannelSenseRequest{ID: c.ID, Requester: "mac", Mode: mode, Timeout: c.Timeout},
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// End returns the time the scenario should run until: the configured
// duration, or the last frame end or sense timeout.
func (s *Scenario) End(epoch time.Time) time.Time {
	if s.Duration > 0 {
		return epoch.Add(s.Duration)
	}
	var last time.Duration
	for _, f := range s.Frames {
		last = max(last, f.Start+f.Duration)
	}
	for _, c := range s.Sense {
		last = max(last, c.At+c.Timeout)
	}
	return epoch.Add(last)
}

// dbmToMW converts a dB value to linear scale; for powers in dBm the result
// is in mW.
func dbmToMW(db float64) float64 {
	return math.Pow(10, db/10)
}
