package model

import (
	"math"
	"strings"

	"github.com/samcharles93/minijarvis/internal/gguf"
)

// YaRN correction range, in rotations over the original context.
const (
	yarnBetaFast = 32
	yarnBetaSlow = 1
)

// RopeScaling is context extension for rotary embeddings, read from the
// {arch}.rope.scaling.* keys.
type RopeScaling struct {
	Type       string // "linear" or "yarn"
	Factor     float64
	OrigCtx    int
	AttnFactor float64 // 0 derives it from Factor for yarn
}

// ropeScalingFromGGUF returns nil when the model does not scale.
func ropeScalingFromGGUF(kv map[string]gguf.Value, arch string, ctxLen int) *RopeScaling {
	key := func(s string) string { return arch + ".rope.scaling." + s }

	typ, _ := gguf.GetString(kv, key("type"))
	typ = strings.ToLower(strings.TrimSpace(typ))
	factor, _ := gguf.GetFloat64(kv, key("factor"))
	if typ == "" || typ == "none" {
		if factor <= 1 {
			return nil
		}
		typ = "linear"
	}
	if typ != "linear" && typ != "yarn" {
		return nil
	}

	rs := &RopeScaling{Type: typ, Factor: factor, OrigCtx: ctxLen}
	if v, ok := gguf.GetUint64(kv, key("original_context_length")); ok && v > 0 {
		rs.OrigCtx = int(v)
	}
	rs.AttnFactor, _ = gguf.GetFloat64(kv, key("attn_factor"))
	if rs.Factor <= 0 && rs.OrigCtx > 0 && ctxLen > rs.OrigCtx {
		rs.Factor = float64(ctxLen) / float64(rs.OrigCtx)
	}
	if rs.Factor <= 0 {
		rs.Factor = 1
	}
	return rs
}

// ropeInvFreq returns base^(-2i/dim) for each rotated pair, adjusted for
// rs, and the factor by which cos and sin are scaled.
func ropeInvFreq(dim int, base float64, rs *RopeScaling) ([]float64, float64) {
	if base <= 0 {
		base = 10_000
	}
	inv := make([]float64, dim/2)
	for i := range inv {
		inv[i] = math.Pow(base, -float64(2*i)/float64(dim))
	}
	if rs == nil || rs.Factor == 1 {
		return inv, 1
	}

	attn := rs.AttnFactor
	if attn <= 0 {
		attn = 1
	}
	switch rs.Type {
	case "yarn":
		low, high := yarnCorrDims(dim, base, rs.OrigCtx)
		for i, f := range inv {
			// 1 keeps the original frequency, 0 interpolates fully.
			keep := 1 - clamp01((float64(i)-low)/math.Max(0.001, high-low))
			inv[i] = f/rs.Factor*(1-keep) + f*keep
		}
		if rs.AttnFactor <= 0 {
			attn = 1 + 0.1*math.Log(rs.Factor)
		}
	default:
		for i := range inv {
			inv[i] /= rs.Factor
		}
	}
	return inv, attn
}

// yarnCorrDims is the pair index range over which YaRN blends from
// extrapolation to interpolation.
func yarnCorrDims(dim int, base float64, origCtx int) (float64, float64) {
	corr := func(rotations float64) float64 {
		return float64(dim) * math.Log(float64(origCtx)/(rotations*2*math.Pi)) / (2 * math.Log(base))
	}
	low := math.Max(0, math.Floor(corr(yarnBetaFast)))
	high := math.Min(float64(dim-1), math.Ceil(corr(yarnBetaSlow)))
	return low, high
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// applyRoPE rotates the first ropeDim values of every head in place.
// With neox the pairs are (i, i+ropeDim/2), otherwise (2i, 2i+1).
func applyRoPE(x []float32, heads, headDim, ropeDim, pos int, invFreq []float64, attnFactor float64, neox bool) {
	half := ropeDim / 2
	stride, offset := 2, 1
	if neox {
		stride, offset = 1, half
	}
	for i := range half {
		s, c := math.Sincos(float64(pos) * invFreq[i])
		sin, cos := float32(s*attnFactor), float32(c*attnFactor)
		for h := range heads {
			a := h*headDim + i*stride
			b := a + offset
			x0, x1 := x[a], x[b]
			x[a] = x0*cos - x1*sin
			x[b] = x0*sin + x1*cos
		}
	}
}
