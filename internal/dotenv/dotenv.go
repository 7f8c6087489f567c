// Package dotenv loads secrets from .env files. Only credentials live there;
// everything tunable lives in the YAML config.
package dotenv

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Load reads the given .env files, defaulting to ./.env. A missing file is
// not an error so deployments can rely on real environment variables.
func Load(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
