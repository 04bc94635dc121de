// Package batch runs recurring questions on a cron schedule, so standing
// questions ("what changed about X?") get a fresh run without anyone typing
// them in.
package batch

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"corpusqa/internal/domain"
)

// ScheduleEntry is one recurring question.
type ScheduleEntry struct {
	Name              string   `toml:"name"`
	Cron              string   `toml:"cron"`
	Question          string   `toml:"question"`
	SingleTemplate    string   `toml:"single_template"`
	AggregateTemplate string   `toml:"aggregate_template"`
	Categories        []string `toml:"categories"`
	Parallel          int      `toml:"parallel"`
}

// ScheduleConfig holds all scheduled questions.
type ScheduleConfig struct {
	Schedules []ScheduleEntry `toml:"schedule"`
}

// Validate checks the entry and fills defaults.
func (e *ScheduleEntry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if e.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(e.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if e.Question == "" {
		return fmt.Errorf("question is required")
	}
	if e.SingleTemplate == "" {
		e.SingleTemplate = "baseline"
	}
	if e.AggregateTemplate == "" {
		e.AggregateTemplate = "consensus"
	}
	return nil
}

// Parameters converts the entry into run parameters.
func (e *ScheduleEntry) Parameters() domain.Parameters {
	return domain.Parameters{
		Question:          e.Question,
		SingleTemplate:    e.SingleTemplate,
		AggregateTemplate: e.AggregateTemplate,
		Parallel:          e.Parallel,
		Categories:        e.Categories,
	}
}

// LoadScheduleConfig loads the schedule from a TOML file. A missing file is
// an empty schedule, not an error.
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScheduleConfig{}, nil
		}
		return nil, err
	}

	var cfg ScheduleConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Schedules {
		if err := cfg.Schedules[i].Validate(); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
	}
	return &cfg, nil
}
