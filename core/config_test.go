package core

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = PolicyBitError
	cfg.Sensitivity = -1
	cfg.MaxConcurrentFrames = -2
	cfg.BitError.Modulation = "fm"

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Validate error = %v, want ErrInvalidConfig", err)
	}
	for _, want := range []string{"sensitivity", "max concurrent", `modulation "fm"`} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidateMultiThresholdTables(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = PolicyMultiThreshold
	cfg.MultiThreshold.Thresholds = cfg.MultiThreshold.Thresholds[:3]
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg.MultiThreshold.Thresholds = nil
	cfg.MultiThreshold.CodeRates = nil
	cfg.MultiThreshold.SymbolTime = 0
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestNewPolicySelectsKind(t *testing.T) {
	for _, kind := range []PolicyKind{PolicyPassThrough, PolicySNRThreshold, PolicyBitError, PolicyModulationBER, PolicyMultiThreshold} {
		cfg := DefaultConfig()
		cfg.Policy = kind
		p, err := NewPolicy(cfg)
		require.NoError(t, err, kind)
		assert.Equal(t, string(kind), p.Name())
	}
}

func TestNewPolicyCopiesTables(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = PolicyMultiThreshold
	p, err := NewPolicy(cfg)
	require.NoError(t, err)
	cfg.MultiThreshold.Thresholds[0] = 0
	assert.NotZero(t, p.(*MultiThreshold).Threshold(0))
}

func TestDefaultThresholdsFollowRequiredSNR(t *testing.T) {
	mt := DefaultConfig().MultiThreshold
	p := &MultiThreshold{SymbolTime: mt.SymbolTime, CodeRates: mt.CodeRates, Thresholds: mt.Thresholds}
	for mode, db := range ofdmRequiredSNRdB {
		need := fromDB(db)
		above := need * 1.01 * (4 * time.Microsecond).Seconds() * p.gain(mode)
		below := need * 0.99 * (4 * time.Microsecond).Seconds() * p.gain(mode)
		assert.Greater(t, above, p.Threshold(mode), "mode %d", mode)
		assert.Less(t, below, p.Threshold(mode), "mode %d", mode)
	}
}

func TestCodingGain(t *testing.T) {
	cases := []struct {
		rate, want float64
	}{
		{0.5, 5.1},
		{2.0 / 3.0, 4.6},
		{0.75, 4.2},
	}
	for _, tc := range cases {
		if got := codingGain(tc.rate); got != tc.want {
			t.Fatalf("codingGain(%v) = %v, want %v", tc.rate, got, tc.want)
		}
	}
}

func TestBERForModulation(t *testing.T) {
	for _, name := range []string{ModulationMSK, ModulationOQPSK16, ModulationGFSK} {
		if _, err := BERForModulation(name); err != nil {
			t.Fatalf("BERForModulation(%q) error: %v", name, err)
		}
	}
	if _, err := BERForModulation("ook"); err == nil {
		t.Fatalf("expected error for unknown modulation")
	}
}

func TestBERCurvesAreProbabilitiesAndDecreasing(t *testing.T) {
	curves := map[string]BERFunc{"msk": BERMSK, "gfsk": BERGFSK, "oqpsk16": BEROQPSK16}
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.SampledFrom([]string{"msk", "gfsk", "oqpsk16"}).Draw(t, "curve")
		lo := rapid.Float64Range(0, 30).Draw(t, "snr")
		hi := lo + rapid.Float64Range(0.01, 30).Draw(t, "delta")
		ber := curves[name]

		a, b := ber(lo), ber(hi)
		assert.GreaterOrEqual(t, a, 0.0)
		assert.LessOrEqual(t, a, 1.0)
		assert.LessOrEqual(t, b, a+1e-12, "%s BER rose from snr %v to %v", name, lo, hi)
	})
}

func TestSyncBERMatchesClosedForm(t *testing.T) {
	assert.InDelta(t, 0.5*math.Exp(-2.5), syncBER(5), 1e-15)
	assert.Equal(t, 0.5, syncBER(0))
}

func TestNoErrorProbability(t *testing.T) {
	assert.Equal(t, 1.0, noErrorProbability(0.3, 0))
	assert.InDelta(t, 0.81, noErrorProbability(0.1, 2), 1e-12)
}

func TestNextString(t *testing.T) {
	assert.Equal(t, "not-again", NotAgain.String())
	_, ok := NotAgain.Recall()
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(RecallAt(ms(1)).String(), "recall@"))
}

func TestProtocolErrorMessage(t *testing.T) {
	err := &ProtocolError{Op: "process signal", Frame: 4, Err: ErrUnknownFrame}
	assert.Equal(t, "decider process signal frame 4: frame is not tracked by the decider", err.Error())
	assert.ErrorIs(t, err, ErrUnknownFrame)
}
