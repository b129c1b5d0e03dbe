package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"neurotomo/internal/phantom"
	"neurotomo/pkg/config"
	"neurotomo/pkg/metrics"
	"neurotomo/pkg/trainer"
	"neurotomo/pkg/visualization"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	volumeSize := flag.Int("size", 64, "Cubic phantom volume resolution in voxels")
	numProjections := flag.Int("projections", 16, "Number of parallel-beam projection angles")
	raySamples := flag.Int("ray-samples", 64, "Density samples per ray")
	extractSlices := flag.Bool("extract-slices", false, "Save the final reconstructed volume as slice sequences along all axes")
	slicesDir := flag.String("slices-dir", "reconstructed_slices", "Directory to save extracted slices")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.Runtime.OutputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	mode := "projection"
	if cfg.Training.ImagefitMode {
		mode = "imagefit"
	}
	fmt.Println("================================")
	fmt.Println("NEUROTOMO: IMPLICIT NEURAL FIELD RECONSTRUCTION")
	fmt.Printf("mode=%s activation=%s hidden=%dx%d epochs=%d\n",
		mode, cfg.Model.ActivationFunction,
		cfg.Model.NumHiddenLayers, cfg.Model.NumHiddenFeatures,
		cfg.Training.Epochs)
	fmt.Println("================================")

	opts := phantom.Options{
		Size:           *volumeSize,
		NumProjections: *numProjections,
		RaySamples:     *raySamples,
		BatchSize:      cfg.Training.BatchSize,
	}

	var data *phantom.Dataset
	if cfg.Training.ImagefitMode {
		data = phantom.NewImagefit(opts)
	} else {
		data = phantom.NewProjection(opts)
		fmt.Printf("Generated %d valid rays over %d projections\n", data.NumRays(), *numProjections)
	}

	logger := metrics.NewRunLogger(visualization.ImageSaver(cfg.Runtime.OutputDir))

	fld, err := trainer.New(cfg, data, 1, logger)
	if err != nil {
		log.Fatalf("Failed to construct field: %v", err)
	}

	runner := &trainer.Runner{
		Field:  fld,
		Train:  data,
		Val:    data,
		Epochs: cfg.Training.Epochs,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("Starting training...")
	startTime := time.Now()
	if err := runner.Run(ctx); err != nil {
		log.Fatalf("Training failed: %v", err)
	}
	fmt.Printf("\nTraining completed in %.2f seconds\n", time.Since(startTime).Seconds())

	if psnr, ok := logger.Scalar("val/reconstruction"); ok {
		fmt.Printf("Final reconstruction PSNR: %.2f dB\n", psnr)
	}
	if mse, ok := logger.Scalar("val/loss_reconstruction"); ok {
		fmt.Printf("Final reconstruction MSE: %.6f\n", mse)
	}

	if *extractSlices {
		fmt.Println("\nExtracting reconstructed slices along all axes...")
		recon, err := trainer.EvaluateGrid(fld.Network(), *volumeSize, *volumeSize, *volumeSize, cfg.Runtime.NumWorkers)
		if err != nil {
			log.Fatalf("Dense reconstruction failed: %v", err)
		}

		viewer := visualization.NewViewer(recon)
		slicesPath := filepath.Join(cfg.Runtime.OutputDir, *slicesDir)
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(slicesPath, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)
			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Printf("Warning: Failed to save %s-axis slices: %v", axis, err)
			}
		}
		fmt.Println("Slice extraction completed!")
	}
}
