package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/security"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "beacon-migrate",
	Short: "Import legacy JSON key and assignment files into the Beacon database",
	Long: `Import the legacy events_apikeys.json and trackers_events.json files into
the Beacon database.

Keys are imported in file order. When a file lists several valid keys for
one event, the last one stays valid. Keys whose ID already exists in the
database are skipped, so the import can be re-run safely.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().String("data-dir", "./data", "Beacon data directory")
	rootCmd.Flags().String("keys-file", os.Getenv("LOCAL_DB_EVENTS_APIKEYS_FILE_PATH"), "Legacy events_apikeys.json")
	rootCmd.Flags().String("devices-file", os.Getenv("LOCAL_DB_TRACKERS_EVENTS_FILE_PATH"), "Legacy trackers_events.json")
	rootCmd.Flags().String("encryption-key", os.Getenv("BEACON_STORAGE_ENCRYPTION_KEY"), "Seal imported secrets with this key")
	rootCmd.Flags().Bool("dry-run", false, "Show what would be migrated without making changes")
	rootCmd.Flags().String("backup", "", "Path to backup the database before migration (default: <data-dir>/beacon.db.backup)")
}

func main() {
	log.Init(log.Config{Level: log.InfoLevel})
	if err := rootCmd.Execute(); err != nil {
		log.Errorf("Migration failed", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	keysFile, _ := cmd.Flags().GetString("keys-file")
	devicesFile, _ := cmd.Flags().GetString("devices-file")
	encryptionKey, _ := cmd.Flags().GetString("encryption-key")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	backupPath, _ := cmd.Flags().GetString("backup")

	if keysFile == "" && devicesFile == "" {
		return fmt.Errorf("nothing to migrate: set --keys-file and/or --devices-file")
	}

	logger := log.WithComponent("migrate")

	var legacy legacyData
	if keysFile != "" {
		keys, err := loadLegacyKeys(keysFile)
		if err != nil {
			return err
		}
		legacy.keys = keys
		logger.Info().Str("file", keysFile).Int("keys", len(keys)).Msg("Read legacy API keys")
	}
	if devicesFile != "" {
		devices, err := loadLegacyAssignments(devicesFile)
		if err != nil {
			return err
		}
		legacy.assignments = devices
		logger.Info().Str("file", devicesFile).Int("devices", len(devices)).Msg("Read legacy assignments")
	}

	if dryRun {
		for _, k := range legacy.keys {
			logger.Info().Str("id", k.ID).Str("event", k.Event).Bool("valid", k.Valid).Msg("[DRY RUN] Would import key")
		}
		logger.Info().Int("devices", len(legacy.assignments)).Msg("[DRY RUN] Would import assignments")
		logger.Info().Msg("Dry run completed. No changes made.")
		return nil
	}

	// Back up an existing database before touching it
	dbPath := filepath.Join(dataDir, storage.DBFileName)
	if _, err := os.Stat(dbPath); err == nil {
		if backupPath == "" {
			backupPath = dbPath + ".backup"
		}
		if err := copyFile(dbPath, backupPath); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
		logger.Info().Str("backup", backupPath).Msg("✓ Backup created")
	}

	opts := storage.Options{}
	if encryptionKey != "" {
		sm, err := security.NewSecretsManagerFromPassword(encryptionKey)
		if err != nil {
			return fmt.Errorf("failed to initialize secrets manager: %w", err)
		}
		opts.Secrets = sm
	}
	store, err := storage.NewBoltStore(dataDir, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := migrate(store, legacy)
	if err != nil {
		return err
	}

	logger.Info().
		Int("keys_imported", result.keysImported).
		Int("keys_skipped", result.keysSkipped).
		Int("devices_imported", result.devicesImported).
		Msg("✓ Migration completed successfully")
	return nil
}

type legacyData struct {
	keys        []*types.EventAPIKey
	assignments types.Assignments
}

type migrateResult struct {
	keysImported    int
	keysSkipped     int
	devicesImported int
}

// migrate writes legacy records into store
func migrate(store storage.Store, legacy legacyData) (migrateResult, error) {
	var result migrateResult
	logger := log.WithComponent("migrate")

	existing, err := store.ListAPIKeys()
	if err != nil {
		return result, fmt.Errorf("failed to list existing keys: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, k := range existing {
		known[k.ID] = true
	}

	for _, k := range legacy.keys {
		if known[k.ID] {
			logger.Warn().Str("id", k.ID).Msg("Key already exists, skipping")
			result.keysSkipped++
			continue
		}
		if err := store.IssueAPIKey(k); err != nil {
			return result, fmt.Errorf("failed to import key %s: %w", k.ID, err)
		}
		known[k.ID] = true
		result.keysImported++
	}

	if len(legacy.assignments) > 0 {
		if err := store.PutAssignments(legacy.assignments); err != nil {
			return result, fmt.Errorf("failed to import assignments: %w", err)
		}
		result.devicesImported = len(legacy.assignments)
	}

	return result, nil
}

// legacyKey mirrors one events_apikeys.json record. Pointers tell a
// missing field from a zero value.
type legacyKey struct {
	ID          *string `json:"id"`
	Event       *string `json:"event"`
	APIKey      *string `json:"apiKey"`
	GeneratedAt *string `json:"generatedAt"`
	Valid       *bool   `json:"valid"`
}

// loadLegacyKeys reads and validates an events_apikeys.json file: an array
// of records that all carry id, event, apiKey, a parseable generatedAt and
// a boolean valid.
func loadLegacyKeys(path string) ([]*types.EventAPIKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var records []legacyKey
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: %s is not an array of key records: %v", types.ErrMalformedInput, path, err)
	}

	keys := make([]*types.EventAPIKey, 0, len(records))
	for i, r := range records {
		if r.ID == nil || r.Event == nil || r.APIKey == nil || r.GeneratedAt == nil || r.Valid == nil {
			return nil, fmt.Errorf("%w: record %d is missing fields", types.ErrMalformedInput, i)
		}
		if *r.ID == "" || *r.Event == "" {
			return nil, fmt.Errorf("%w: record %d has an empty id or event", types.ErrMalformedInput, i)
		}
		issuedAt, err := time.Parse(time.RFC3339Nano, *r.GeneratedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d has invalid generatedAt: %v", types.ErrMalformedInput, i, err)
		}
		keys = append(keys, &types.EventAPIKey{
			ID:       *r.ID,
			Event:    *r.Event,
			Secret:   *r.APIKey,
			IssuedAt: issuedAt,
			Valid:    *r.Valid,
		})
	}
	return keys, nil
}

// loadLegacyAssignments reads a trackers_events.json object of
// tracker ID to event name strings.
func loadLegacyAssignments(path string) (types.Assignments, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var assignments types.Assignments
	if err := json.Unmarshal(raw, &assignments); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: %s must map tracker IDs to event names", types.ErrMalformedInput, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", types.ErrMalformedInput, path, err)
	}
	if assignments == nil {
		return nil, fmt.Errorf("%w: %s must be an object", types.ErrMalformedInput, path)
	}
	for id, event := range assignments {
		if id == "" || event == "" {
			return nil, fmt.Errorf("%w: empty tracker or event in %s", types.ErrMalformedInput, path)
		}
	}
	return assignments, nil
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
