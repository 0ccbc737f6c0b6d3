package exact

import (
	"fmt"
	"log"
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/config"
)

// Config is the run configuration supplied by the host process. The
// file is YAML (plain JSON configs parse as YAML too) with env-var
// expansion, e.g. `refresh_token: ${EXACT_REFRESH_TOKEN}`.
type Config struct {
	RefreshToken string
	ClientID     string
	ClientSecret string

	// CurrentDivision selects the tenant sub-account in the API path.
	CurrentDivision string

	// Environment overrides the region derived from the refresh token
	// ("nl", "co.uk", "com"). BaseURL overrides the whole host (tests).
	Environment string
	BaseURL     string

	// WarehouseUUID is the cached warehouse identifier attached to
	// purchase orders.
	WarehouseUUID string

	// InputPath points at the directory holding attachment files.
	InputPath string

	// LookupTaxCodes selects whether VAT codes on invoice lines are
	// resolved remotely or passed through verbatim.
	LookupTaxCodes bool

	// MaxParallelism caps the dispatcher worker pool; zero selects the
	// default.
	MaxParallelism int

	// StateBackend is the dedup-state DSN ("mem:", "file:<path>",
	// "postgres://..."). Empty selects the in-memory store.
	StateBackend string
}

// LoadConfig reads a config file with env-var expansion.
func LoadConfig(path string) (Config, error) {
	var result Config
	f, err := os.Open(path)
	if err != nil {
		return result, fmt.Errorf("failed to open config %w", err)
	}
	defer f.Close()

	yaml, err := config.NewYAML(config.Source(f), config.Expand(os.LookupEnv))
	if err != nil {
		return result, fmt.Errorf("failed to read yaml config %w", err)
	}
	readError := func(key string, cause error) error {
		return fmt.Errorf("failed to read '%s' from yaml config %w", key, cause)
	}

	key := "refresh_token"
	result.RefreshToken = yaml.Get(key).String()
	key = "client_id"
	result.ClientID = yaml.Get(key).String()
	key = "client_secret"
	result.ClientSecret = yaml.Get(key).String()
	key = "current_division"
	result.CurrentDivision = yaml.Get(key).String()
	key = "environment"
	result.Environment = yaml.Get(key).String()
	key = "base_url"
	result.BaseURL = yaml.Get(key).String()
	key = "warehouse_uuid"
	result.WarehouseUUID = yaml.Get(key).String()
	key = "input_path"
	result.InputPath = yaml.Get(key).String()
	key = "state_backend"
	result.StateBackend = yaml.Get(key).String()
	key = "lookup_tax_codes"
	if yaml.Get(key).HasValue() {
		if err = yaml.Get(key).Populate(&result.LookupTaxCodes); err != nil {
			return result, readError(key, err)
		}
	}
	key = "max_parallelism"
	if yaml.Get(key).HasValue() {
		if err = yaml.Get(key).Populate(&result.MaxParallelism); err != nil {
			return result, readError(key, err)
		}
	}

	if result.RefreshToken == "" {
		return result, fmt.Errorf("config %s is missing refresh_token", path)
	}
	if result.CurrentDivision == "" {
		return result, fmt.Errorf("config %s is missing current_division", path)
	}
	return result, nil
}

// SaveRefreshToken writes a rotated refresh token back into the config
// file, preserving every other key. Wired to TokenStore.OnTokenRotated
// so a rotation survives the process. Only the JSON config form is
// rewritten in place; a YAML config is left untouched with a logged
// warning so the rewrite cannot corrupt it.
func SaveRefreshToken(path string, newToken string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config for token rotation %w", err)
	}
	if !gjson.ValidBytes(contents) {
		log.Printf("Warning: config %s is not JSON, rotated refresh token not persisted", path)
		return nil
	}
	updated, err := sjson.Set(string(contents), "refresh_token", newToken)
	if err != nil {
		return fmt.Errorf("failed to update refresh_token %w", err)
	}
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		return fmt.Errorf("failed to persist rotated refresh token %w", err)
	}
	log.Printf("persisted rotated refresh token to %s", path)
	return nil
}
