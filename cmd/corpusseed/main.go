// Command corpusseed writes initial inputs for a campaign's -seed-dir: either
// freshly generated random inputs or the corpus saved in a checkpoint.
package main

import (
	"archive/zip"
	"encoding/hex"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/sha256-simd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"alma.local/greybox/fuzzer"
	"alma.local/greybox/generator"
	"alma.local/greybox/input"
	"alma.local/greybox/internal/osutil"
)

var (
	flagOut        = flag.String("out", "corpus/export", "output directory, or zip file when -format=zip")
	flagFormat     = flag.String("format", "dir", "output format: dir or zip")
	flagCount      = flag.Int("count", 32, "number of inputs to generate")
	flagLength     = flag.Int("length", generator.DefaultLength, "length of generated inputs")
	flagSeed       = flag.Uint64("seed", 1, "random seed for generation")
	flagCheckpoint = flag.String("checkpoint", "", "export the corpus of this checkpoint instead of generating")
)

func main() {
	flag.Parse()

	format := strings.ToLower(*flagFormat)
	if format != "dir" && format != "zip" {
		logrus.Fatalf("unsupported format %q (expected dir or zip)", format)
	}

	var (
		seeds []input.Input
		err   error
	)
	if *flagCheckpoint != "" {
		seeds, err = fromCheckpoint(*flagCheckpoint)
	} else {
		seeds = generate(*flagCount, *flagLength, *flagSeed)
	}
	if err != nil {
		logrus.Fatalf("collect seeds: %v", err)
	}

	if format == "dir" {
		err = emitDir(*flagOut, seeds)
	} else {
		err = emitZip(*flagOut, seeds)
	}
	if err != nil {
		logrus.Fatalf("write %s: %v", *flagOut, err)
	}
	fmt.Printf("[corpus] %d seeds -> %s (%s)\n", len(seeds), *flagOut, format)
}

func generate(count, length int, seed uint64) []input.Input {
	rng := rand.New(rand.NewPCG(seed, seed))
	g := generator.NewRandBytes(length)
	seeds := make([]input.Input, count)
	for i := range seeds {
		seeds[i] = g.Generate(rng)
	}
	return seeds
}

func fromCheckpoint(path string) ([]input.Input, error) {
	state, err := fuzzer.LoadCheckpoint(path, nil)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errors.Errorf("no checkpoint at %s", path)
	}
	var seeds []input.Input
	for _, e := range state.Corpus.Entries() {
		seeds = append(seeds, e.Input)
	}
	return seeds, nil
}

func seedName(seed []byte) string {
	sum := sha256.Sum256(seed)
	return hex.EncodeToString(sum[:16])
}

func emitDir(dest string, seeds []input.Input) error {
	if err := osutil.MkdirAll(dest); err != nil {
		return err
	}
	for _, seed := range seeds {
		if err := osutil.WriteFileAtomic(filepath.Join(dest, seedName(seed)), seed); err != nil {
			return err
		}
	}
	return nil
}

func emitZip(path string, seeds []input.Input) error {
	if err := osutil.MkdirAll(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zipw := zip.NewWriter(f)
	seen := make(map[string]bool)
	for _, seed := range seeds {
		name := seedName(seed)
		if seen[name] {
			continue
		}
		seen[name] = true
		w, err := zipw.Create(name)
		if err != nil {
			return err
		}
		if _, err := w.Write(seed); err != nil {
			return err
		}
	}
	return zipw.Close()
}
