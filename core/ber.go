package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/combin"
)

// Modulation names accepted by the bit-error policy.
const (
	ModulationMSK     = "msk"
	ModulationOQPSK16 = "oqpsk16"
	ModulationGFSK    = "gfsk"
)

// DefaultBERLowerBound is the smallest bit error rate the bit-error policy
// will assume for any segment.
const DefaultBERLowerBound = 1e-8

// BERFunc maps a linear SNR to a bit error rate.
type BERFunc func(snr float64) float64

// BERForModulation returns the bit error rate curve for a modulation.
func BERForModulation(name string) (BERFunc, error) {
	switch name {
	case ModulationMSK:
		return BERMSK, nil
	case ModulationOQPSK16:
		return BEROQPSK16, nil
	case ModulationGFSK:
		return BERGFSK, nil
	default:
		return nil, fmt.Errorf("unknown modulation %q", name)
	}
}

// BERMSK is the bit error rate of coherent MSK.
func BERMSK(snr float64) float64 {
	return clampBER(0.5 * math.Erfc(math.Sqrt(snr)))
}

// BERGFSK is the bit error rate of non-coherent GFSK.
func BERGFSK(snr float64) float64 {
	return clampBER(0.5 * math.Erfc(math.Sqrt(0.5*snr)))
}

// BEROQPSK16 is the bit error rate of the 2.4 GHz 802.15.4 O-QPSK PHY with
// 16-ary orthogonal spreading.
func BEROQPSK16(snr float64) float64 {
	var sum float64
	for k := 2; k <= 16; k++ {
		sign := 1.0
		if k%2 == 1 {
			sign = -1.0
		}
		sum += sign * float64(combin.Binomial(16, k)) * math.Exp(20*snr*(1.0/float64(k)-1.0))
	}
	return clampBER((8.0 / 15.0) * (1.0 / 16.0) * sum)
}

// syncBER is the bit error rate used to test start-of-frame delimiter
// synchronisation from the instantaneous SNR.
func syncBER(snr float64) float64 {
	return clampBER(0.5 * math.Exp(-snr/2))
}

// headerBER is the PLCP header bit error rate of 802.11b (DBPSK at the
// header bitrate).
func headerBER(snr, bandwidth, headerBitrate float64) float64 {
	return clampBER(0.5 * math.Exp(-snr*bandwidth/headerBitrate))
}

// payloadBER is the MPDU bit error rate of 802.11b: PSK at 1 and 2 Mbit/s,
// CCK modelled as 16-QAM at 5.5 Mbit/s and as 256-QAM above.
func payloadBER(snr, bandwidth, bitrate float64) float64 {
	switch bitrate {
	case 1e6, 2e6:
		return clampBER(0.5 * math.Exp(-snr*bandwidth/bitrate))
	case 5.5e6:
		return clampBER(qamBER(16, snr, bandwidth, bitrate))
	default:
		return clampBER(qamBER(256, snr, bandwidth, bitrate))
	}
}

func qamBER(m, snr, bandwidth, bitrate float64) float64 {
	return 2 * (1 - 1/math.Sqrt(m)) * math.Erfc(math.Sqrt(2*snr*bandwidth/bitrate))
}

// Numeric cancellation in the series above can leave tiny negative values
// or values above one for extreme SNRs.
func clampBER(ber float64) float64 {
	switch {
	case math.IsNaN(ber), ber < 0:
		return 0
	case ber > 1:
		return 1
	default:
		return ber
	}
}

// noErrorProbability returns (1-ber)^bits.
func noErrorProbability(ber float64, bits int) float64 {
	if bits <= 0 {
		return 1
	}
	return math.Pow(1-ber, float64(bits))
}

// codingGain returns the convolutional coding gain for an 802.11a code rate.
func codingGain(codeRate float64) float64 {
	switch {
	case codeRate < 2.0/3.0:
		return 5.1
	case codeRate < 0.75:
		return 4.6
	default:
		return 4.2
	}
}

func toDB(linear float64) float64 {
	return 10 * math.Log10(linear)
}

func fromDB(db float64) float64 {
	return math.Pow(10, db/10)
}
