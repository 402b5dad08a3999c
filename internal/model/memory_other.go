//go:build !linux

package model

func totalMemory() uint64 { return 0 }
