package config

import (
	"os"
	"testing"
)

func TestLoadDefault(t *testing.T) {
	oldPort := os.Getenv("PORT")
	oldEnv := os.Getenv("ENVIRONMENT")
	defer func() {
		os.Setenv("PORT", oldPort)
		os.Setenv("ENVIRONMENT", oldEnv)
	}()
	os.Unsetenv("PORT")
	os.Unsetenv("ENVIRONMENT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}

	if cfg.Environment != "development" {
		t.Errorf("Expected environment to be 'development', got %s", cfg.Environment)
	}

	if cfg.Server.Port != 28080 {
		t.Errorf("Expected server port to be 28080, got %d", cfg.Server.Port)
	}

	if cfg.Database.Driver != "postgres" {
		t.Errorf("Expected database driver to be 'postgres', got %s", cfg.Database.Driver)
	}

	if cfg.S3.Backend != "s3" {
		t.Errorf("Expected s3 backend to be 's3', got %s", cfg.S3.Backend)
	}

	if cfg.LakeFS.RepoNamespace != "hub" {
		t.Errorf("Expected lakefs repo namespace to be 'hub', got %s", cfg.LakeFS.RepoNamespace)
	}

	if cfg.LFS.KeepVersions != 5 {
		t.Errorf("Expected lfs keep_versions to be 5, got %d", cfg.LFS.KeepVersions)
	}
}

func TestLoadFromEnv(t *testing.T) {
	oldPort := os.Getenv("PORT")
	oldEnv := os.Getenv("ENVIRONMENT")
	oldDriver := os.Getenv("DB_DRIVER")

	defer func() {
		os.Setenv("PORT", oldPort)
		os.Setenv("ENVIRONMENT", oldEnv)
		os.Setenv("DB_DRIVER", oldDriver)
	}()

	os.Setenv("PORT", "9000")
	os.Setenv("ENVIRONMENT", "production")
	os.Setenv("DB_DRIVER", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config from env: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Expected server port to be 9000, got %d", cfg.Server.Port)
	}

	if cfg.Environment != "production" {
		t.Errorf("Expected environment to be 'production', got %s", cfg.Environment)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Expected database driver to be 'sqlite', got %s", cfg.Database.Driver)
	}
}
