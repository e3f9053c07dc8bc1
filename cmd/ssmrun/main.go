// Command ssmrun builds a state-space stack and pushes random batches through
// it, reporting output shapes and timing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	tensor3d "github.com/sw965/stablessm/blas32/tensor/3d"
	"github.com/sw965/stablessm/kernel"
	"github.com/sw965/stablessm/mathx/randx"
	"github.com/sw965/stablessm/model"
	"github.com/sw965/stablessm/model/spsa"
	"github.com/sw965/stablessm/optimizer"
)

func main() {
	var (
		channels   = flag.Int("channels", 256, "model width H")
		stateDim   = flag.Int("state-dim", 64, "state dimension N (even)")
		layers     = flag.Int("layers", 4, "number of residual blocks")
		dropout    = flag.Float64("dropout", 0.2, "dropout probability")
		dt         = flag.Float64("dt", 0.33, "upper bound of the kernel learning rate hint")
		paramName  = flag.String("param", "exp", "decay parameterization: exp, softplus, best, direct")
		preNorm    = flag.Bool("prenorm", false, "normalize before each block instead of after")
		sequence   = flag.Bool("seq", false, "return the full sequence instead of the length average")
		strict     = flag.Bool("strict", false, "reject growing modes")
		batch      = flag.Int("batch", 8, "batch size")
		length     = flag.Int("length", 1024, "sequence length")
		steps      = flag.Int("steps", 10, "number of forward passes")
		training   = flag.Bool("train", false, "enable dropout")
		seed       = flag.Uint64("seed", 1, "random seed")
		loadPath   = flag.String("load", "", "load parameters from a JSON file")
		savePath   = flag.String("save", "", "write parameters to a JSON file")
		verbose    = flag.Bool("v", false, "debug logging")
		noProgress = flag.Bool("quiet", false, "hide the progress bar")
		fitSteps   = flag.Int("fit", 0, "SPSA steps fitting the stack to reproduce its input before the run")
		lr         = flag.Float64("lr", 0.01, "default learning rate of the fit")
		spsaC      = flag.Float64("spsa-c", 0.01, "SPSA perturbation size")
		spsaN      = flag.Int("spsa-samples", 4, "SPSA directions per step")
	)
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	p, err := kernel.ParseParameterization(*paramName)
	if err != nil {
		log.Fatal(err)
	}

	cfg := model.NewConfig(
		model.WithChannels(*channels),
		model.WithStateDim(*stateDim),
		model.WithLayers(*layers),
		model.WithDropout(float32(*dropout)),
		model.WithDt(*dt),
		model.WithParameterization(p),
		model.WithPreNorm(*preNorm),
		model.WithReturnSequence(*sequence),
		model.WithStrict(*strict),
		model.WithLogger(log),
	)

	rng := randx.NewPCG(*seed)
	stack, err := model.New(cfg, rng)
	if err != nil {
		log.Fatal(err)
	}

	if *loadPath != "" {
		snap, err := model.LoadParameterJSON(*loadPath)
		if err != nil {
			log.Fatal(err)
		}
		if err := stack.SetParameters(snap); err != nil {
			log.Fatal(err)
		}
	}

	if *fitSteps > 0 {
		x := tensor3d.NewRandNormal(*batch, *length, *channels, 1, rng)
		loss := reconstructionLoss(stack, x)
		est, err := spsa.NewEstimator(float32(*spsaC), *spsaN, rng)
		if err != nil {
			log.Fatal(err)
		}
		opt, err := optimizer.NewMomentum(float32(*lr), 0.01, 0.9)
		if err != nil {
			log.Fatal(err)
		}

		bar := newBar(*fitSteps, "Fit", *noProgress)
		for i := 0; i < *fitSteps; i++ {
			grads, err := est.Estimate(stack.Registry(), loss)
			if err != nil {
				log.Fatal(err)
			}
			if err := opt.Step(stack.Registry(), grads); err != nil {
				log.Fatal(err)
			}
			if bar != nil {
				bar.Add(1)
			}
		}
		finish(bar)

		final, err := loss()
		if err != nil {
			log.Fatal(err)
		}
		log.WithFields(logrus.Fields{
			"steps": *fitSteps,
			"loss":  final,
		}).Info("fit")
		if _, err := stack.CheckStability(); err != nil {
			log.Fatal(err)
		}
	}

	bar := newBar(*steps, "Forward", *noProgress)

	var out model.Output
	var total time.Duration
	for i := 0; i < *steps; i++ {
		x := tensor3d.NewRandNormal(*batch, *length, *channels, 1, rng)
		start := time.Now()
		out, err = stack.Forward(x, *training, rng)
		if err != nil {
			log.Fatal(err)
		}
		elapsed := time.Since(start)
		total += elapsed

		log.WithFields(logrus.Fields{
			"batch":   i,
			"length":  *length,
			"elapsed": elapsed,
		}).Debug("forward")
		if bar != nil {
			bar.Add(1)
		}
	}
	finish(bar)

	log.WithFields(logrus.Fields{
		"batch":       *batch,
		"length":      *length,
		"elapsed":     total,
		"fingerprint": fmt.Sprintf("%016x", stack.Registry().Fingerprint()),
	}).Info("done")

	if out.IsPooled {
		fmt.Printf("output (B, H) = (%d, %d)\n", out.Pooled.Rows, out.Pooled.Cols)
	} else {
		fmt.Printf("output (B, L, H) = %v\n", out.Sequence.Shape())
	}

	if *savePath != "" {
		if err := stack.WriteJSON(*savePath); err != nil {
			log.Fatal(err)
		}
	}
}

func newBar(n int, desc string, quiet bool) *progressbar.ProgressBar {
	if quiet {
		return nil
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
	)
}

func finish(bar *progressbar.ProgressBar) {
	if bar == nil {
		return
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)
}

// reconstructionLoss is the mean squared distance between the stack output
// and the input, or its length average when the stack pools.
func reconstructionLoss(stack *model.Stack, x tensor3d.General) spsa.LossFunc {
	mean := x.Transpose021().MeanLength()
	return func() (float32, error) {
		out, err := stack.Forward(x, false, nil)
		if err != nil {
			return 0, err
		}
		want, got := x.Data, out.Sequence.Data
		if out.IsPooled {
			want, got = mean.Data, out.Pooled.Data
		}
		var sum float32
		for i := range want {
			d := got[i] - want[i]
			sum += d * d
		}
		return sum / float32(len(want)), nil
	}
}
