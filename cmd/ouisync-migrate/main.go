package main

import (
	"encoding/binary"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/ouisync/ouisync/pkg/repository"
	bolt "go.etcd.io/bbolt"
)

var (
	storeDir = flag.String("store-dir", "/var/lib/ouisync", "Directory holding repository .db files")
	dryRun   = flag.Bool("dry-run", false, "Report schema versions without making changes")
	backup   = flag.Bool("backup", true, "Back up a repository's .db file before bumping its schema version")
)

var bucketMetadata = []byte("metadata")
var keySchemaVersion = []byte("schema_version")

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("ouisync schema migration tool (current schema version: %d)", repository.CurrentSchemaVersion)

	entries, err := os.ReadDir(*storeDir)
	if err != nil {
		log.Fatalf("reading store directory: %v", err)
	}

	var migrated, current, tooNew int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		path := filepath.Join(*storeDir, entry.Name())

		switch result, err := migrateOne(path); {
		case err != nil:
			log.Fatalf("%s: %v", path, err)
		case result == resultTooNew:
			tooNew++
		case result == resultMigrated:
			migrated++
		default:
			current++
		}
	}

	log.Printf("done: %d already current, %d migrated, %d newer than this binary supports", current, migrated, tooNew)
	if tooNew > 0 {
		os.Exit(1)
	}
}

type migrationResult int

const (
	resultCurrent migrationResult = iota
	resultMigrated
	resultTooNew
)

func migrateOne(path string) (migrationResult, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	version, err := readSchemaVersion(db)
	if err != nil {
		return 0, err
	}

	if version > repository.CurrentSchemaVersion {
		log.Printf("%s: schema version %d is newer than this binary's %d, refusing to touch it", path, version, repository.CurrentSchemaVersion)
		return resultTooNew, nil
	}
	if version == repository.CurrentSchemaVersion {
		log.Printf("%s: already at schema version %d", path, version)
		return resultCurrent, nil
	}

	log.Printf("%s: schema version %d, migrating to %d", path, version, repository.CurrentSchemaVersion)
	if *dryRun {
		log.Printf("%s: dry run, no changes made", path)
		return resultMigrated, nil
	}

	if *backup {
		backupPath := path + ".backup"
		if err := copyFile(path, backupPath); err != nil {
			return 0, err
		}
		log.Printf("%s: backed up to %s", path, backupPath)
	}

	// No schema migration logic exists yet: CurrentSchemaVersion has
	// never been bumped past 1, so there is nothing to transform between
	// versions. This is where a version-specific upgrade step would be
	// added once one exists.
	if err := writeSchemaVersion(db, repository.CurrentSchemaVersion); err != nil {
		return 0, err
	}
	return resultMigrated, nil
}

func readSchemaVersion(db *bolt.DB) (uint32, error) {
	var version uint32
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		if b == nil {
			return nil
		}
		v := b.Get(keySchemaVersion)
		if v == nil {
			return nil
		}
		version = binary.BigEndian.Uint32(v)
		return nil
	})
	return version, err
}

func writeSchemaVersion(db *bolt.DB, version uint32) error {
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketMetadata)
		if err != nil {
			return err
		}
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], version)
		return b.Put(keySchemaVersion, v[:])
	})
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0o600)
}
