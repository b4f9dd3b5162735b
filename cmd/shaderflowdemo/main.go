// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command shaderflowdemo runs a small shaderflow graph and saves a
// preview of the result. Without a GPU it falls back to logical mode,
// where programs compile but render passes are skipped.
package main

import (
	"flag"
	"image"
	"image/png"
	"log"
	"log/slog"
	"os"

	"github.com/gogpu/shaderflow"
)

const plasmaBody = `fn run(uv: vec2<f32>) -> vec4<f32> {
    let prev = textureSample(state, src_sampler, uv);
    let wave = 0.5 + 0.5 * sin(uv.x * 20.0 + uv.y * 13.0);
    return vec4<f32>(mix(prev.rgb, vec3<f32>(wave, uv.y, 1.0 - wave), 0.1), 1.0);
}`

func main() {
	var (
		width   = flag.Int("width", 512, "buffer width")
		height  = flag.Int("height", 512, "buffer height")
		ticks   = flag.Int("ticks", 60, "evaluation ticks to run")
		output  = flag.String("output", "demo.png", "output file")
		verbose = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		shaderflow.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	eng, err := shaderflow.NewEngine(shaderflow.Config{OpenDevice: true})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	defer eng.Close()

	buf, err := eng.AddBuffer("state", *width, *height)
	if err != nil {
		log.Fatalf("Failed to create buffer: %v", err)
	}
	prog, err := eng.AddProgram("plasma", plasmaBody)
	if err != nil {
		log.Fatalf("Failed to create program: %v", err)
	}

	// Feedback loop: the program reads the buffer and writes it back.
	eng.Connect(buf, 0, prog, 0)
	eng.Connect(prog, 0, buf, 0)

	for i := 0; i < *ticks; i++ {
		stats := eng.Evaluate()
		if stats.Failures > 0 {
			log.Fatalf("Tick %d failed: %s", stats.Tick, prog.Err())
		}
	}

	frame := image.NewRGBA(image.Rect(0, 0, *width, *height))
	if err := eng.DrawPreview(buf, frame); err != nil {
		log.Fatalf("Failed to render preview: %v", err)
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", *output, err)
	}
	defer f.Close()
	if err := png.Encode(f, frame); err != nil {
		log.Fatalf("Failed to encode PNG: %v", err)
	}

	log.Printf("Saved %s after %d ticks (gpu=%v)\n", *output, *ticks, eng.Manager().HasDevice())
}
