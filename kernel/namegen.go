package kernel

import (
	"time"

	"github.com/goombaio/namegenerator"
)

// generateWorkdirName produces a human-readable default name for a
// container instance's data directory, the way the teacher names sandbox
// clone directories, but using namegenerator instead of a random hex
// suffix so operators get something memorable in logs and directory
// listings.
func generateWorkdirName() string {
	seed := time.Now().UnixNano()
	gen := namegenerator.NewNameGenerator(seed)
	return gen.Generate()
}
