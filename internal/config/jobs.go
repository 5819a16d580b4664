package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"banksync/internal/core"
)

var jobNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,99}$`)

// JobsFile is the on-disk shape of JOBS_SEED_FILE.
type JobsFile struct {
	Jobs []JobSeed `yaml:"jobs"`
}

// JobSeed declares a job row to create on first boot. Existing rows are never
// overwritten by a seed.
type JobSeed struct {
	Name        string         `yaml:"name"`
	Schedule    string         `yaml:"schedule"`
	Description string         `yaml:"description,omitempty"`
	Enabled     *bool          `yaml:"enabled,omitempty"`
	Config      map[string]any `yaml:"config,omitempty"`
}

// LoadJobSeeds reads and validates a YAML jobs file. An empty path yields no seeds.
func LoadJobSeeds(path string) ([]JobSeed, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs seed file: %w", err)
	}
	return ParseJobSeeds(data)
}

func ParseJobSeeds(data []byte) ([]JobSeed, error) {
	var file JobsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse jobs seed file: %w", err)
	}

	var problems []string
	seen := make(map[string]bool, len(file.Jobs))
	for i, seed := range file.Jobs {
		if !jobNamePattern.MatchString(seed.Name) {
			problems = append(problems, fmt.Sprintf("jobs[%d]: invalid name '%s'", i, seed.Name))
			continue
		}
		if seen[seed.Name] {
			problems = append(problems, fmt.Sprintf("jobs[%d]: duplicate name '%s'", i, seed.Name))
		}
		seen[seed.Name] = true
		if _, err := cron.ParseStandard(seed.Schedule); err != nil {
			problems = append(problems, fmt.Sprintf("jobs[%d] %s: invalid schedule '%s': %v", i, seed.Name, seed.Schedule, err))
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("jobs seed validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return file.Jobs, nil
}

// ToCronJob converts a seed into a job row. Jobs are enabled unless the seed
// says otherwise.
func (s JobSeed) ToCronJob() (core.CronJob, error) {
	job := core.CronJob{
		Name:        s.Name,
		Schedule:    s.Schedule,
		Description: s.Description,
		IsEnabled:   s.Enabled == nil || *s.Enabled,
	}
	if len(s.Config) > 0 {
		raw, err := json.Marshal(s.Config)
		if err != nil {
			return core.CronJob{}, fmt.Errorf("failed to encode config for job %s: %w", s.Name, err)
		}
		job.Config = raw
	}
	return job, nil
}
