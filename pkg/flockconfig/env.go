package flockconfig

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env.local then .env into the process environment
// (first file wins on a key collision, matching godotenv.Load's own
// first-wins semantics across multiple paths). Neither file existing is
// not an error — most deployments configure entirely through the real
// environment or a flock.yaml.
func LoadEnvFiles() error {
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("flockconfig: load %s: %w", name, err)
		}
	}
	return nil
}
