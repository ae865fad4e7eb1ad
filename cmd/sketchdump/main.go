// Command sketchdump round-trips a Bloom filter, Count-Min sketch, or
// cuckoo filter through its binary export format from the shell. It exists
// purely to demonstrate Export/Load usage, not as a product in its own
// right.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"probex.lopezb.com/bloom"
	"probex.lopezb.com/cms"
	"probex.lopezb.com/cuckoo"
)

type config struct {
	kind string
	path string
	add  string
	n    uint64
	fpr  float64
}

func main() {
	var cfg config
	flag.StringVar(&cfg.kind, "kind", "bloom", "structure kind: bloom, cms, cuckoo")
	flag.StringVar(&cfg.path, "path", "", "export file path")
	flag.StringVar(&cfg.add, "add", "", "key to add before exporting (optional)")
	flag.Uint64Var(&cfg.n, "n", 10000, "estimated elements")
	flag.Float64Var(&cfg.fpr, "fpr", 0.01, "target false positive rate")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if cfg.path == "" {
		logger.Error("missing required -path flag")
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("sketchdump failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	switch cfg.kind {
	case "bloom":
		return runBloom(cfg, logger)
	case "cms":
		return runCMS(cfg, logger)
	case "cuckoo":
		return runCuckoo(cfg, logger)
	default:
		return fmt.Errorf("unknown kind %q", cfg.kind)
	}
}

func runBloom(cfg config, logger *slog.Logger) error {
	var f *bloom.Filter
	if _, err := os.Stat(cfg.path); err == nil {
		loaded, err := bloom.Load(cfg.path, nil)
		if err != nil {
			return err
		}
		f = loaded
		logger.Info("loaded bloom filter", "m", f.M(), "k", f.K(), "inserted", f.InsertedCount())
	} else {
		created, err := bloom.New(bloom.Config{EstimatedElements: cfg.n, FalsePositiveRate: cfg.fpr})
		if err != nil {
			return err
		}
		f = created
		logger.Info("created bloom filter", "m", f.M(), "k", f.K())
	}

	if cfg.add != "" {
		f.Add([]byte(cfg.add))
		logger.Info("added key", "key", cfg.add, "present", f.Check([]byte(cfg.add)))
	}

	if err := f.Export(cfg.path); err != nil {
		return err
	}
	logger.Info("exported bloom filter", "path", cfg.path, "estimated_elements", f.EstimateElements())
	return nil
}

func runCMS(cfg config, logger *slog.Logger) error {
	var sk *cms.Sketch
	if _, err := os.Stat(cfg.path); err == nil {
		loaded, err := cms.Load(cfg.path, cms.PolicyMin, nil)
		if err != nil {
			return err
		}
		sk = loaded
		logger.Info("loaded sketch", "width", sk.Width(), "depth", sk.Depth())
	} else {
		w, d := cms.DimensionsFromProb(0.001, 0.01)
		created, err := cms.New(cms.Config{Width: w, Depth: d, Policy: cms.PolicyMin})
		if err != nil {
			return err
		}
		sk = created
		logger.Info("created sketch", "width", sk.Width(), "depth", sk.Depth())
	}

	if cfg.add != "" {
		sk.Add([]byte(cfg.add), 1)
		logger.Info("incremented key", "key", cfg.add, "estimate", sk.Query([]byte(cfg.add)))
	}

	if err := sk.Export(cfg.path); err != nil {
		return err
	}
	logger.Info("exported sketch", "path", cfg.path, "inserted", sk.InsertedCount())
	return nil
}

func runCuckoo(cfg config, logger *slog.Logger) error {
	var f *cuckoo.Filter
	if _, err := os.Stat(cfg.path); err == nil {
		loaded, err := cuckoo.Load(cfg.path, nil)
		if err != nil {
			return err
		}
		f = loaded
		logger.Info("loaded cuckoo filter", "num_buckets", f.NumBuckets(), "elements", f.NumElements())
	} else {
		created, err := cuckoo.NewFromRate(cfg.n, cfg.fpr)
		if err != nil {
			return err
		}
		f = created
		logger.Info("created cuckoo filter", "num_buckets", f.NumBuckets())
	}

	if cfg.add != "" {
		if err := f.Add([]byte(cfg.add)); err != nil {
			return err
		}
		logger.Info("added key", "key", cfg.add, "present", f.Check([]byte(cfg.add)))
	}

	if err := f.Export(cfg.path); err != nil {
		return err
	}
	logger.Info("exported cuckoo filter", "path", cfg.path, "elements", f.NumElements())
	return nil
}
