package model

import (
	"math"
	"testing"

	"github.com/samcharles93/minijarvis/internal/gguf"
)

func TestApplyRoPE(t *testing.T) {
	t.Parallel()

	inv, attn := ropeInvFreq(4, 10000, nil)
	if attn != 1 || inv[0] != 1 || math.Abs(inv[1]-0.01) > 1e-12 {
		t.Fatalf("inv=%v attn=%v", inv, attn)
	}

	x := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	applyRoPE(x, 2, 4, 4, 0, inv, attn, false)
	for i, v := range []float32{1, 2, 3, 4, 5, 6, 7, 8} {
		if x[i] != v {
			t.Fatalf("position 0 changed x[%d] to %v", i, x[i])
		}
	}

	cases := map[bool][][2]int{
		false: {{0, 1}, {2, 3}},
		true:  {{0, 2}, {1, 3}},
	}
	for neox, pairs := range cases {
		orig := []float32{1, 2, 3, 4}
		x := append([]float32(nil), orig...)
		applyRoPE(x, 1, 4, 4, 7, inv, attn, neox)
		for _, p := range pairs {
			before := math.Hypot(float64(orig[p[0]]), float64(orig[p[1]]))
			after := math.Hypot(float64(x[p[0]]), float64(x[p[1]]))
			if math.Abs(before-after) > 1e-5 {
				t.Fatalf("neox=%v pair %v norm %v -> %v", neox, p, before, after)
			}
		}
	}
}

func TestRopeScaling(t *testing.T) {
	t.Parallel()

	plain, _ := ropeInvFreq(64, 10000, nil)

	linear, attn := ropeInvFreq(64, 10000, &RopeScaling{Type: "linear", Factor: 2})
	if attn != 1 {
		t.Fatalf("linear attention factor = %v", attn)
	}
	for i := range plain {
		if math.Abs(linear[i]-plain[i]/2) > 1e-15 {
			t.Fatalf("linear[%d] = %g, want %g", i, linear[i], plain[i]/2)
		}
	}

	yarn, attn := ropeInvFreq(64, 10000, &RopeScaling{Type: "yarn", Factor: 4, OrigCtx: 2048})
	if yarn[0] != plain[0] {
		t.Fatalf("yarn changed the highest frequency: %g vs %g", yarn[0], plain[0])
	}
	last := len(yarn) - 1
	if math.Abs(yarn[last]-plain[last]/4) > 1e-15 {
		t.Fatalf("yarn did not interpolate the lowest frequency: %g vs %g", yarn[last], plain[last]/4)
	}
	if want := 1 + 0.1*math.Log(4); math.Abs(attn-want) > 1e-12 {
		t.Fatalf("yarn attention factor = %v, want %v", attn, want)
	}
}

func TestRopeScalingFromGGUF(t *testing.T) {
	t.Parallel()

	str := func(s string) gguf.Value { return gguf.Value{Type: gguf.TypeString, Value: s} }
	f32 := func(f float32) gguf.Value { return gguf.Value{Type: gguf.TypeFloat32, Value: f} }

	if rs := ropeScalingFromGGUF(map[string]gguf.Value{}, "llama", 4096); rs != nil {
		t.Fatalf("expected no scaling, got %+v", rs)
	}
	rs := ropeScalingFromGGUF(map[string]gguf.Value{"llama.rope.scaling.factor": f32(2)}, "llama", 4096)
	if rs == nil || rs.Type != "linear" || rs.Factor != 2 || rs.OrigCtx != 4096 {
		t.Fatalf("factor-only scaling = %+v", rs)
	}
	rs = ropeScalingFromGGUF(map[string]gguf.Value{
		"gemma.rope.scaling.type":                    str("YaRN"),
		"gemma.rope.scaling.original_context_length": {Type: gguf.TypeUint32, Value: uint32(2048)},
	}, "gemma", 8192)
	if rs == nil || rs.Type != "yarn" || rs.OrigCtx != 2048 || rs.Factor != 4 {
		t.Fatalf("yarn scaling = %+v", rs)
	}
	if rs := ropeScalingFromGGUF(map[string]gguf.Value{"llama.rope.scaling.type": str("longrope")}, "llama", 4096); rs != nil {
		t.Fatalf("unknown scaling type should be ignored, got %+v", rs)
	}
}
