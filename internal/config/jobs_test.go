package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const seedYAML = `
jobs:
  - name: bankSyncJob
    schedule: "0 */4 * * *"
    description: Sync all active bank accounts
    config:
      batch_size: 25
  - name: jobLogRetention
    schedule: "30 3 * * *"
    enabled: false
`

func TestLoadJobSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	seeds, err := LoadJobSeeds(path)
	if err != nil {
		t.Fatalf("LoadJobSeeds() error = %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("LoadJobSeeds() returned %d seeds, want 2", len(seeds))
	}

	sync, err := seeds[0].ToCronJob()
	if err != nil {
		t.Fatalf("ToCronJob() error = %v", err)
	}
	if !sync.IsEnabled {
		t.Error("job without enabled key should default to enabled")
	}
	if string(sync.Config) != `{"batch_size":25}` {
		t.Errorf("Config = %s", sync.Config)
	}

	retention, _ := seeds[1].ToCronJob()
	if retention.IsEnabled {
		t.Error("enabled: false was ignored")
	}
	if retention.Config != nil {
		t.Errorf("expected nil config, got %s", retention.Config)
	}
}

func TestLoadJobSeedsEmptyPath(t *testing.T) {
	seeds, err := LoadJobSeeds("")
	if err != nil || seeds != nil {
		t.Fatalf("LoadJobSeeds(\"\") = %v, %v", seeds, err)
	}
}

func TestParseJobSeedsValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad schedule",
			yaml:    "jobs:\n  - name: a\n    schedule: hourly-ish\n",
			wantErr: "invalid schedule 'hourly-ish'",
		},
		{
			name:    "bad name",
			yaml:    "jobs:\n  - name: \"9lives\"\n    schedule: \"* * * * *\"\n",
			wantErr: "invalid name '9lives'",
		},
		{
			name:    "duplicate",
			yaml:    "jobs:\n  - name: a\n    schedule: \"* * * * *\"\n  - name: a\n    schedule: \"* * * * *\"\n",
			wantErr: "duplicate name 'a'",
		},
		{
			name:    "not yaml",
			yaml:    "jobs: [",
			wantErr: "failed to parse jobs seed file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJobSeeds([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("ParseJobSeeds() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
