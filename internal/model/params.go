// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "github.com/jeranaias/parley/internal/ollama"

// =============================================================================
// GENERATION PARAMETERS
// =============================================================================

// Params holds per-conversation generation parameters. Pointer fields
// distinguish "unset" from an explicit zero; only set fields are
// forwarded to the backend.
type Params struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	Mirostat      *int     `json:"mirostat,omitempty"`
	Seed          *int     `json:"seed,omitempty"`

	// ShowThinking controls whether reasoning is requested from the
	// backend and whether finalized thinking messages are retained.
	ShowThinking bool `json:"show_thinking"`
}

// DefaultParams returns the starting parameter set for a new
// conversation. Seed stays unset so the backend picks its own.
func DefaultParams() Params {
	return Params{
		Temperature:   ptr(0.7),
		TopK:          ptr(40),
		TopP:          ptr(0.9),
		RepeatPenalty: ptr(1.1),
		Mirostat:      ptr(0),
		ShowThinking:  true,
	}
}

// ToOptions converts the set parameters into backend options. Returns
// nil when nothing is set.
func (p *Params) ToOptions() *ollama.Options {
	opts := &ollama.Options{
		Temperature:   p.Temperature,
		TopK:          p.TopK,
		TopP:          p.TopP,
		RepeatPenalty: p.RepeatPenalty,
		Mirostat:      p.Mirostat,
		Seed:          p.Seed,
	}
	if p.ShowThinking {
		opts.IncludeThinking = ptr(true)
		opts.Thinking = ptr(true)
	}
	if opts.Temperature == nil && opts.TopK == nil && opts.TopP == nil &&
		opts.RepeatPenalty == nil && opts.Mirostat == nil && opts.Seed == nil &&
		opts.IncludeThinking == nil {
		return nil
	}
	return opts
}

func ptr[T any](v T) *T {
	return &v
}
