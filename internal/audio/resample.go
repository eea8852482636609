package audio

import (
	"fmt"
	"math"
	"sync"
)

// Resample converts mono 16-bit PCM samples from fromRate to toRate using
// rational-factor polyphase filtering: upsample by toRate/gcd, filter, then
// downsample by fromRate/gcd. Naive linear interpolation produces audible
// aliasing at typical TTS rate pairs (24000 -> 16000), so an anti-aliased
// windowed-sinc filter is used instead.
//
// Output samples are rounded and clamped to the signed 16-bit range.
// Non-positive rates are programmer errors and panic. The function is
// deterministic and allocates only the output buffer (and the filter, which
// is cached per rate pair).
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate <= 0 || toRate <= 0 {
		panic(fmt.Sprintf("audio: non-positive sample rate (%d -> %d)", fromRate, toRate))
	}
	if fromRate == toRate {
		return samples
	}
	if len(samples) == 0 {
		return []int16{}
	}

	g := gcd(fromRate, toRate)
	up := toRate / g
	down := fromRate / g

	h := filterFor(up, down)
	center := (len(h) - 1) / 2

	outLen := (len(samples)*up + down - 1) / down
	out := make([]int16, outLen)

	for n := 0; n < outLen; n++ {
		// Position of output sample n on the upsampled grid.
		t := n*down + center

		// Input samples m contribute through tap index t - m*up.
		mMin := (t - (len(h) - 1) + up - 1) / up
		if mMin < 0 {
			mMin = 0
		}
		mMax := t / up
		if mMax > len(samples)-1 {
			mMax = len(samples) - 1
		}

		var acc float64
		for m := mMin; m <= mMax; m++ {
			acc += float64(samples[m]) * h[t-m*up]
		}

		v := math.Round(acc)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[n] = int16(v)
	}

	return out
}

// ResampleBytes is a convenience wrapper operating on raw little-endian
// 16-bit PCM bytes, the form frames arrive in off the wire.
func ResampleBytes(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate {
		return pcm
	}
	return SamplesToBytes(Resample(BytesToSamples(pcm), fromRate, toRate))
}

// BytesToSamples decodes little-endian 16-bit PCM bytes into samples.
// A trailing odd byte is dropped.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM bytes.
func SamplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

// filterCache memoizes the FIR filter per (up, down) pair. Sessions use one
// rate pair for their whole lifetime, so this stays tiny.
var (
	filterMu    sync.Mutex
	filterCache = map[[2]int][]float64{}
)

func filterFor(up, down int) []float64 {
	key := [2]int{up, down}
	filterMu.Lock()
	defer filterMu.Unlock()
	if h, ok := filterCache[key]; ok {
		return h
	}
	h := designLowpass(up, down)
	filterCache[key] = h
	return h
}

// designLowpass builds a Hamming-windowed sinc low-pass filter on the
// upsampled grid. Cutoff sits at the narrower of the two Nyquist frequencies;
// gain is scaled by the upsampling factor so DC passes at unity.
func designLowpass(up, down int) []float64 {
	maxFactor := up
	if down > maxFactor {
		maxFactor = down
	}

	halfLen := 10 * maxFactor
	n := 2*halfLen + 1
	fc := 1.0 / float64(maxFactor)

	h := make([]float64, n)
	for i := 0; i < n; i++ {
		x := float64(i - halfLen)
		var sinc float64
		if x == 0 {
			sinc = 1
		} else {
			sinc = math.Sin(math.Pi*fc*x) / (math.Pi * fc * x)
		}
		window := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		h[i] = float64(up) * fc * sinc * window
	}
	return h
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
