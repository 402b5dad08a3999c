package session

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/samcharles93/minijarvis/internal/gguf"
	"github.com/samcharles93/minijarvis/internal/model"
)

// Metadata describes the model file behind a Session.
type Metadata struct {
	Name          string `json:"name"`
	Architecture  string `json:"architecture"`
	GGUFVersion   uint32 `json:"gguf_version"`
	FileSize      int64  `json:"file_size"`
	TensorCount   int    `json:"tensor_count"`
	VocabSize     int    `json:"vocab_size"`
	ContextLength int    `json:"context_length"`
	FileType      string `json:"file_type"`
	// Fingerprint is the xxhash64 of the header, metadata and tensor table.
	Fingerprint uint64 `json:"fingerprint"`
}

func (m Metadata) FingerprintHex() string {
	return fmt.Sprintf("%016x", m.Fingerprint)
}

func metadataOf(f *gguf.File, cfg model.Config) Metadata {
	name := cfg.Name
	if name == "" {
		name, _ = gguf.GetString(f.KV, "general.name")
	}
	return Metadata{
		Name:          name,
		Architecture:  cfg.Arch,
		GGUFVersion:   f.Header.Version,
		FileSize:      f.Size,
		TensorCount:   len(f.Tensors),
		VocabSize:     cfg.VocabSize,
		ContextLength: cfg.ContextLength,
		FileType:      model.FileTypeName(cfg.FileType),
		Fingerprint:   xxhash.Sum64(f.Meta()),
	}
}
