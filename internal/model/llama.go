package model

import (
	"fmt"
	"math"
	"math/bits"
	"strings"

	"github.com/samcharles93/minijarvis/internal/gguf"
)

type Layer struct {
	AttnNorm []float32
	Wq       *Mat
	Wk       *Mat
	Wv       *Mat
	Wo       *Mat
	FfnNorm  []float32
	FfnGate  *Mat
	FfnUp    *Mat
	FfnDown  *Mat

	// KV cache, MaxContext rows of KVDim each.
	k []float32
	v []float32
}

// Instance is a llama or gemma decoder. Weight matrices are views into the
// GGUF mapping, so the file must stay open for the life of the Instance.
type Instance struct {
	Config     Config
	MaxContext int

	Embeddings *Mat
	Layers     []Layer
	OutputNorm []float32
	Output     *Mat

	pos        int
	neox       bool
	gated      func(float32) float32
	embScale   float32
	invFreq    []float64
	attnFactor float64
	mv         *matvec
	scratch    scratch
}

type scratch struct {
	x      []float32
	xb     []float32
	q      []float32
	att    []float32
	attOut []float32
	proj   []float32
	gate   []float32
	up     []float32
	logits []float32
}

// Load resolves every tensor of a llama or gemma model and preallocates the
// KV cache for maxContext positions. Allocation failures are reported as
// ErrOutOfMemory.
func Load(f *gguf.File, maxContext int) (inst *Instance, err error) {
	cfg, err := ConfigFromGGUF(f)
	if err != nil {
		return nil, err
	}
	if maxContext <= 0 {
		return nil, fmt.Errorf("%w: context size %d", ErrInvalidModel, maxContext)
	}

	defer func() {
		if r := recover(); r != nil {
			inst = nil
			err = fmt.Errorf("%w: %v", ErrOutOfMemory, r)
		}
	}()

	emb, err := loadEmbeddings(f, cfg.EmbeddingLength)
	if err != nil {
		return nil, err
	}
	if cfg.VocabSize != 0 && cfg.VocabSize != emb.Rows {
		return nil, fmt.Errorf("%w: vocab_size %d but token_embd has %d rows", ErrInvalidModel, cfg.VocabSize, emb.Rows)
	}
	cfg.VocabSize = emb.Rows

	m := &Instance{
		Config:     cfg,
		MaxContext: maxContext,
		Embeddings: emb,
		Layers:     make([]Layer, cfg.BlockCount),
		neox:       cfg.Arch == "gemma",
		gated:      silu,
		embScale:   1,
	}
	if cfg.Arch == "gemma" {
		m.gated = gelu
		m.embScale = float32(math.Sqrt(float64(cfg.EmbeddingLength)))
	}

	if m.OutputNorm, err = loadVec(f, "output_norm.weight", cfg.EmbeddingLength); err != nil {
		return nil, err
	}
	if _, ok := f.TensorByName("output.weight"); ok {
		if m.Output, err = loadMat(f, "output.weight", cfg.EmbeddingLength, cfg.VocabSize); err != nil {
			return nil, err
		}
	} else {
		m.Output = emb
	}

	qDim, kvDim := cfg.QDim(), cfg.KVDim()
	for i := range m.Layers {
		if err := m.loadLayer(f, i, qDim, kvDim); err != nil {
			return nil, err
		}
	}

	if err := m.allocate(); err != nil {
		return nil, err
	}
	m.invFreq, m.attnFactor = ropeInvFreq(cfg.RopeDim, cfg.RopeFreqBase, cfg.RopeScaling)
	return m, nil
}

func loadEmbeddings(f *gguf.File, nEmbd int) (*Mat, error) {
	info, ok := f.TensorByName("token_embd.weight")
	if !ok {
		return nil, fmt.Errorf("%w: missing token_embd.weight", ErrInvalidModel)
	}
	if len(info.Dims) != 2 {
		return nil, fmt.Errorf("%w: token_embd.weight has shape %v", ErrInvalidModel, info.Dims)
	}
	return loadMat(f, "token_embd.weight", nEmbd, int(info.Dims[1]))
}

func (m *Instance) loadLayer(f *gguf.File, i, qDim, kvDim int) error {
	cfg := m.Config
	l := &m.Layers[i]
	name := func(s string) string { return fmt.Sprintf("blk.%d.%s.weight", i, s) }
	var err error
	if l.AttnNorm, err = loadVec(f, name("attn_norm"), cfg.EmbeddingLength); err != nil {
		return err
	}
	if l.FfnNorm, err = loadVec(f, name("ffn_norm"), cfg.EmbeddingLength); err != nil {
		return err
	}
	mats := []struct {
		dst        **Mat
		name       string
		cols, rows int
	}{
		{&l.Wq, "attn_q", cfg.EmbeddingLength, qDim},
		{&l.Wk, "attn_k", cfg.EmbeddingLength, kvDim},
		{&l.Wv, "attn_v", cfg.EmbeddingLength, kvDim},
		{&l.Wo, "attn_output", qDim, cfg.EmbeddingLength},
		{&l.FfnGate, "ffn_gate", cfg.EmbeddingLength, cfg.FFNLength},
		{&l.FfnUp, "ffn_up", cfg.EmbeddingLength, cfg.FFNLength},
		{&l.FfnDown, "ffn_down", cfg.FFNLength, cfg.EmbeddingLength},
	}
	for _, mt := range mats {
		if *mt.dst, err = loadMat(f, name(mt.name), mt.cols, mt.rows); err != nil {
			return err
		}
	}
	return nil
}

// allocate sizes the KV cache and scratch buffers. The total is checked
// against cacheBudget before calling make: the runtime aborts the process
// on an allocation it cannot back, which recover does not catch.
func (m *Instance) allocate() error {
	cfg := m.Config
	perLayer, ok := mulInts(m.MaxContext, cfg.KVDim())
	if !ok {
		return fmt.Errorf("%w: kv cache of %d x %d overflows", ErrOutOfMemory, m.MaxContext, cfg.KVDim())
	}
	total, ok := mulInts(perLayer, 2*cfg.BlockCount)
	if !ok || total > math.MaxInt/4 {
		return fmt.Errorf("%w: kv cache for %d layers overflows", ErrOutOfMemory, cfg.BlockCount)
	}
	floats := total + m.MaxContext + 3*cfg.EmbeddingLength + 3*cfg.QDim() + cfg.KVDim() +
		2*cfg.FFNLength + cfg.VocabSize
	if floats < total || floats > math.MaxInt/4 {
		return fmt.Errorf("%w: buffers for context %d overflow", ErrOutOfMemory, m.MaxContext)
	}
	if need, budget := int64(floats)*4, cacheBudget(); need > budget {
		return fmt.Errorf("%w: context %d needs %d MiB of buffers, budget is %d MiB",
			ErrOutOfMemory, m.MaxContext, need>>20, budget>>20)
	}
	for i := range m.Layers {
		m.Layers[i].k = make([]float32, perLayer)
		m.Layers[i].v = make([]float32, perLayer)
	}

	maxCols := max(cfg.EmbeddingLength, cfg.FFNLength, cfg.QDim())
	m.mv = newMatVec(maxCols)
	m.scratch = scratch{
		x:      make([]float32, cfg.EmbeddingLength),
		xb:     make([]float32, cfg.EmbeddingLength),
		q:      make([]float32, cfg.QDim()),
		att:    make([]float32, m.MaxContext),
		attOut: make([]float32, cfg.QDim()),
		proj:   make([]float32, max(cfg.EmbeddingLength, cfg.KVDim())),
		gate:   make([]float32, cfg.FFNLength),
		up:     make([]float32, cfg.FFNLength),
		logits: make([]float32, cfg.VocabSize),
	}
	return nil
}

func mulInts(a, b int) (int, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt {
		return 0, false
	}
	return int(lo), true
}

func (m *Instance) Pos() int       { return m.pos }
func (m *Instance) VocabSize() int { return m.Config.VocabSize }

// ForwardToken runs one autoregressive step for the provided token id.
// It returns a logits slice owned by the model (overwritten on next call).
func (m *Instance) ForwardToken(tok int) ([]float32, error) {
	cfg := m.Config
	if tok < 0 || tok >= cfg.VocabSize {
		return nil, fmt.Errorf("%w: %d", ErrTokenRange, tok)
	}
	if m.pos >= m.MaxContext {
		return nil, fmt.Errorf("%w: %d >= %d", ErrContextFull, m.pos, m.MaxContext)
	}
	eps := float32(cfg.RMSEpsilon)
	s := &m.scratch

	if err := m.Embeddings.RowTo(s.x, tok); err != nil {
		return nil, err
	}
	if m.embScale != 1 {
		for i := range s.x {
			s.x[i] *= m.embScale
		}
	}

	for i := range m.Layers {
		layer := &m.Layers[i]

		rmsNorm(s.xb, s.x, layer.AttnNorm, eps)
		if err := m.attention(layer, s.xb); err != nil {
			return nil, err
		}
		add(s.x, s.proj[:cfg.EmbeddingLength])

		rmsNorm(s.xb, s.x, layer.FfnNorm, eps)
		if err := m.ffn(layer, s.xb); err != nil {
			return nil, err
		}
		add(s.x, s.proj[:cfg.EmbeddingLength])
	}

	rmsNorm(s.xb, s.x, m.OutputNorm, eps)
	if err := m.mv.Run(s.logits, m.Output, s.xb); err != nil {
		return nil, err
	}

	m.pos++
	return s.logits, nil
}

// attention writes the attention block output into scratch.proj.
func (m *Instance) attention(layer *Layer, xb []float32) error {
	cfg := m.Config
	s := &m.scratch
	kvDim := cfg.KVDim()
	hd := cfg.HeadDim
	pos := m.pos

	kRow := layer.k[pos*kvDim : (pos+1)*kvDim]
	vRow := layer.v[pos*kvDim : (pos+1)*kvDim]
	if err := m.mv.Run(s.q, layer.Wq, xb); err != nil {
		return err
	}
	if err := m.mv.Run(kRow, layer.Wk, xb); err != nil {
		return err
	}
	if err := m.mv.Run(vRow, layer.Wv, xb); err != nil {
		return err
	}
	applyRoPE(s.q, cfg.HeadCount, hd, cfg.RopeDim, pos, m.invFreq, m.attnFactor, m.neox)
	applyRoPE(kRow, cfg.HeadCountKV, hd, cfg.RopeDim, pos, m.invFreq, m.attnFactor, m.neox)

	group := cfg.HeadCount / cfg.HeadCountKV
	scale := float32(1 / math.Sqrt(float64(hd)))
	att := s.att[:pos+1]
	for h := range cfg.HeadCount {
		q := s.q[h*hd : (h+1)*hd]
		kvOff := (h / group) * hd
		for t := 0; t <= pos; t++ {
			k := layer.k[t*kvDim+kvOff : t*kvDim+kvOff+hd]
			att[t] = dot(q, k) * scale
		}
		softmax(att)
		out := s.attOut[h*hd : (h+1)*hd]
		clear(out)
		for t := 0; t <= pos; t++ {
			v := layer.v[t*kvDim+kvOff : t*kvDim+kvOff+hd]
			a := att[t]
			for j := range out {
				out[j] += a * v[j]
			}
		}
	}
	return m.mv.Run(s.proj[:cfg.EmbeddingLength], layer.Wo, s.attOut)
}

// ffn writes the gated feed-forward output into scratch.proj.
func (m *Instance) ffn(layer *Layer, xb []float32) error {
	s := &m.scratch
	if err := m.mv.Run(s.gate, layer.FfnGate, xb); err != nil {
		return err
	}
	if err := m.mv.Run(s.up, layer.FfnUp, xb); err != nil {
		return err
	}
	for i := range s.gate {
		s.gate[i] = m.gated(s.gate[i]) * s.up[i]
	}
	return m.mv.Run(s.proj[:m.Config.EmbeddingLength], layer.FfnDown, s.gate)
}

func (m *Instance) Reset() {
	m.pos = 0
	for i := range m.Layers {
		clear(m.Layers[i].k)
		clear(m.Layers[i].v)
	}
}

// Describe returns a one-line summary used in logs.
func (m *Instance) Describe() string {
	cfg := m.Config
	var b strings.Builder
	fmt.Fprintf(&b, "%s layers=%d embd=%d heads=%d/%d ffn=%d vocab=%d ctx=%d",
		cfg.Arch, cfg.BlockCount, cfg.EmbeddingLength, cfg.HeadCount, cfg.HeadCountKV, cfg.FFNLength, cfg.VocabSize, m.MaxContext)
	if cfg.RopeScaling != nil {
		fmt.Fprintf(&b, " rope=%s x%.2f", cfg.RopeScaling.Type, cfg.RopeScaling.Factor)
	}
	fmt.Fprintf(&b, " workers=%d", m.mv.workers)
	return b.String()
}
