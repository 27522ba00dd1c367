package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/aemupload/internal/app"
)

// envPrefix is stripped from environment variables during config loading (e.g., AEMUPLOAD_UPLOAD__DAM_PATH → upload.dam_path)
const envPrefix = "AEMUPLOAD_"

// defaultEnvFile is read when present; a missing default file is not an error.
const defaultEnvFile = ".env"

// legacyEnvKeys maps the flat variable names used by existing deployments to config keys.
var legacyEnvKeys = map[string]string{
	"AEM_TOKEN_URL":        "token.url",
	"AEM_CLIENT_ID":        "token.client_id",
	"AEM_CLIENT_SECRET":    "token.client_secret",
	"AEM_SCOPE":            "token.scope",
	"AEM_UPLOAD_BASE_URL":  "upload.base_url",
	"AEM_ASSETS_DAM_PATH":  "upload.dam_path",
	"AEM_MOCK_MODE":        "simulation",
	"DB_SERVER":            "storage.sqlserver.server",
	"DB_NAME":              "storage.sqlserver.database",
	"DB_USER":              "storage.sqlserver.user",
	"DB_PASSWORD":          "storage.sqlserver.password",
	"DB_TABLE_TOKEN_STORE": "storage.table",
}

// loadConfig loads application configuration from various sources with precedence:
// config file → legacy environment variables → prefixed environment variables → CLI flags → defaults
//
// Variables from envFile fill in for anything the process environment does not set.
func loadConfig(configPath, envFile string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	// 1. Load from config file if provided
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: loading config file: %w", app.ErrConfiguration, err)
		}
	}

	environ, err := mergeEnvFile(envFile, environFunc)
	if err != nil {
		return nil, err
	}

	// 2. Load from legacy environment variables
	legacyProvider := env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			// Unknown variables map to an empty key and are skipped.
			return legacyEnvKeys[key], value
		},
		EnvironFunc: environ,
	})
	if err := k.Load(legacyProvider, nil); err != nil {
		return nil, fmt.Errorf("loading legacy environment variables: %w", err)
	}
	// Deployments that only set DB_* expect the SQL Server cache.
	if !k.Exists("storage.type") && k.Exists("storage.sqlserver.server") {
		if err := k.Set("storage.type", string(app.TokenStorageTypeSQLServer)); err != nil {
			return nil, fmt.Errorf("selecting sqlserver storage: %w", err)
		}
	}

	// 3. Load from environment variables
	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			stripped := strings.TrimPrefix(key, envPrefix)
			nested := strings.ToLower(strings.ReplaceAll(stripped, "__", "."))
			return nested, value
		},
		EnvironFunc: environ,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	// 4. Load from CLI flags if provided
	if cmd != nil {
		flagValues := extractAndTransformFlags(cmd)
		if err := k.Load(confmap.Provider(flagValues, "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling config: %w", app.ErrConfiguration, err)
	}

	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("%w: applying defaults: %w", app.ErrConfiguration, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// mergeEnvFile returns an environ function combining envFile with the process
// environment; process values win. An empty envFile means the default .env,
// which may be absent.
func mergeEnvFile(envFile string, environFunc func() []string) (func() []string, error) {
	path := envFile
	if path == "" {
		path = defaultEnvFile
	}

	fileVars, err := godotenv.Read(path)
	if err != nil {
		if envFile == "" && errors.Is(err, fs.ErrNotExist) {
			return environFunc, nil
		}
		return nil, fmt.Errorf("%w: reading env file %s: %w", app.ErrConfiguration, path, err)
	}

	merged := maps.Clone(fileVars)
	for _, kv := range environFunc() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			merged[key] = value
		}
	}

	environ := make([]string, 0, len(merged))
	for key, value := range merged {
		environ = append(environ, key+"="+value)
	}

	return func() []string { return environ }, nil
}

// extractAndTransformFlags transforms CLI flag names to match config structure.
// Includes parent flags. Examples: --upload--dam-path → upload.dam_path, --log-level → log_level
func extractAndTransformFlags(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	// FlagNames() includes flags from parent commands (via lineage)
	for _, name := range cmd.FlagNames() {
		// Skip unset flags to preserve precedence from earlier config sources
		if !cmd.IsSet(name) {
			continue
		}

		if value := cmd.Value(name); value != nil {
			key := strings.ReplaceAll(name, "--", ".")
			key = strings.ReplaceAll(key, "-", "_")
			values[key] = value
		}
	}

	return values
}
