// Package optimizer is the "path to an external AIG optimiser" interface
// spec.md §6's CLI surface names: the extractor's output circuit is valid
// but not minimal, and a post-processing pass belongs outside this module's
// scope rather than as a reimplemented AIG rewriter.
package optimizer

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/operator-framework/demiurge-synth/internal/aiger"
)

// Optimizer rewrites a circuit, ideally into a smaller equivalent one.
// Implementations must not mutate g; they return a fresh graph.
type Optimizer interface {
	Optimize(g *aiger.Graph) (*aiger.Graph, error)
}

// NoOp returns g unchanged; it is the default when no external optimiser
// path is configured (spec.md §6's CLI flag is optional).
type NoOp struct{}

func (NoOp) Optimize(g *aiger.Graph) (*aiger.Graph, error) { return g, nil }

// External shells out to a third-party AIG optimiser (e.g. ABC's `dc2`/
// `drw` scripts) that reads and writes AIGER ASCII on the given paths.
// Temporary files are created in Dir with unique names and removed on
// every return path, matching spec.md §6's "Persistent state: none" -
// this is the one place the pipeline touches the filesystem beyond the
// caller's own input/output paths.
type External struct {
	// Path is the optimiser binary to invoke.
	Path string
	// Args are extra arguments inserted before the input/output paths
	// External appends (e.g. ABC script flags).
	Args []string
	// Dir is the directory unique temporary files are created in. Defaults
	// to os.TempDir() if empty.
	Dir string
}

func (e External) Optimize(g *aiger.Graph) (*aiger.Graph, error) {
	dir := e.Dir
	if dir == "" {
		dir = os.TempDir()
	}

	in, err := os.CreateTemp(dir, "demiurge-synth-opt-in-*.aag")
	if err != nil {
		return nil, errors.Wrap(err, "optimizer: create input temp file")
	}
	inPath := in.Name()
	defer os.Remove(inPath)

	if err := aiger.Write(in, g); err != nil {
		in.Close()
		return nil, errors.Wrap(err, "optimizer: write input circuit")
	}
	if err := in.Close(); err != nil {
		return nil, errors.Wrap(err, "optimizer: close input temp file")
	}

	outPath := filepath.Join(dir, filepath.Base(inPath)+".out")
	defer os.Remove(outPath)

	args := append(append([]string(nil), e.Args...), inPath, outPath)
	cmd := exec.Command(e.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "optimizer: %s failed: %s", e.Path, stderr.String())
	}

	out, err := os.Open(outPath)
	if err != nil {
		return nil, errors.Wrap(err, "optimizer: open optimised output")
	}
	defer out.Close()

	g2, err := aiger.Parse(io.Reader(out))
	if err != nil {
		return nil, errors.Wrap(err, "optimizer: parse optimised output")
	}
	return g2, nil
}
