package cmd

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"gpusched-backend/internal/registry"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

type variantSpec struct {
	Id               string  `json:"id"`
	BaseModelId      string  `json:"base_model_id"`
	MemoryFraction   float64 `json:"memory_fraction"`
	ProjectedQuality float64 `json:"projected_quality"`
}

// SeedVariantRegistry loads the model variant table from either a JSON file
// (MODEL_VARIANTS_FILE) or an inline JSON env var (MODEL_VARIANTS). An empty
// registry is valid: degradation then falls back to chunking only.
func SeedVariantRegistry(maxSize int, maxIdle time.Duration, minAccess int) *registry.VariantRegistry {
	reg := registry.NewVariantRegistry(maxSize, maxIdle, minAccess)

	raw := os.Getenv("MODEL_VARIANTS")
	if path := os.Getenv("MODEL_VARIANTS_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("error reading model variants file '%s': %v", path, err)
		}
		raw = string(data)
	}

	if raw == "" {
		log.Printf("no model variants configured, degradation will use chunking only")
		return reg
	}

	var specs []variantSpec
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		log.Fatalf("error parsing model variants: %v", err)
	}

	for _, spec := range specs {
		reg.Put(registry.ModelVariant{
			Id:               spec.Id,
			BaseModelId:      spec.BaseModelId,
			MemoryFraction:   spec.MemoryFraction,
			ProjectedQuality: spec.ProjectedQuality,
		})
	}

	log.Printf("seeded %d model variants", len(specs))
	return reg
}
