// Package catalog loads the per-level form definitions, reporting periods and
// school lists the form engine is driven by.
package catalog

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/mea/internal/model"
)

//go:embed default.yaml
var defaultYAML []byte

// ErrUnknownLevel is returned for level ids the catalog does not define.
var ErrUnknownLevel = errors.New("unknown level")

// Period is a reporting interval and the ranges it is split into.
type Period struct {
	ID     string   `yaml:"id"`
	Ranges []string `yaml:"ranges"`
}

// Catalog is the full form configuration.
type Catalog struct {
	District      string                        `yaml:"district"`
	SchoolYears   []string                      `yaml:"schoolYears"`
	DefaultPeriod string                        `yaml:"defaultPeriod"`
	Periods       []Period                      `yaml:"periods"`
	Schools       map[model.SchoolTier][]string `yaml:"schools"`
	Profile       model.FormSection             `yaml:"profile"`
	Levels        []model.LevelConfig           `yaml:"levels"`

	digest string
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded default: %v", err))
	}
	return c
}

// Load reads a catalog from a YAML file. An empty path yields Default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.Profile.Kind = model.SectionStatic
	for i := range c.Levels {
		for j := range c.Levels[i].Sections {
			c.Levels[i].Sections[j].Kind = model.SectionStatic
		}
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	c.digest = hex.EncodeToString(sum[:])
	return &c, nil
}

// Digest is the SHA-256 of the YAML the catalog was parsed from.
func (c *Catalog) Digest() string {
	return c.digest
}

func (c *Catalog) validate() error {
	if len(c.Periods) == 0 {
		return errors.New("no periods defined")
	}
	if c.DefaultPeriod == "" {
		c.DefaultPeriod = c.Periods[0].ID
	}
	if _, ok := c.period(c.DefaultPeriod); !ok {
		return fmt.Errorf("default period %q is not defined", c.DefaultPeriod)
	}
	if len(c.Profile.Fields) == 0 {
		return errors.New("profile section has no fields")
	}
	seen := make(map[string]bool, len(c.Levels))
	for _, l := range c.Levels {
		if l.ID == "" {
			return errors.New("level without id")
		}
		if seen[l.ID] {
			return fmt.Errorf("duplicate level %q", l.ID)
		}
		seen[l.ID] = true
		switch l.SubjectStrategy {
		case "", model.StrategyNone, model.StrategyCurriculum, model.StrategyLibrary:
		default:
			return fmt.Errorf("level %q: unknown subject strategy %q", l.ID, l.SubjectStrategy)
		}
		if l.SplitSubject != "" && !slices.Contains(l.Subjects, l.SplitSubject) {
			return fmt.Errorf("level %q: split subject %q not in subject list", l.ID, l.SplitSubject)
		}
	}
	return nil
}

func (c *Catalog) period(id string) (Period, bool) {
	for _, p := range c.Periods {
		if p.ID == id {
			return p, true
		}
	}
	return Period{}, false
}

// Level returns the configuration for a level id.
func (c *Catalog) Level(id string) (model.LevelConfig, error) {
	for _, l := range c.Levels {
		if l.ID == id {
			return l, nil
		}
	}
	return model.LevelConfig{}, fmt.Errorf("%w: %q", ErrUnknownLevel, id)
}

// PeriodIDs lists the period identifiers in declared order.
func (c *Catalog) PeriodIDs() []string {
	ids := make([]string, len(c.Periods))
	for i, p := range c.Periods {
		ids[i] = p.ID
	}
	return ids
}

// Ranges returns the sub-ranges of a period; unknown periods have none.
func (c *Catalog) Ranges(period string) []string {
	p, ok := c.period(period)
	if !ok {
		return nil
	}
	return slices.Clone(p.Ranges)
}

// SchoolsFor returns the school names offered to a level tier.
func (c *Catalog) SchoolsFor(tier model.SchoolTier) []string {
	switch tier {
	case model.TierElementary, model.TierSecondary:
		return slices.Clone(c.Schools[tier])
	default:
		all := slices.Clone(c.Schools[model.TierElementary])
		return append(all, c.Schools[model.TierSecondary]...)
	}
}

// DefaultSchoolYear is the first configured school year.
func (c *Catalog) DefaultSchoolYear() string {
	if len(c.SchoolYears) == 0 {
		return ""
	}
	return c.SchoolYears[0]
}

// LabelReports fills in level labels on an export.
func (c *Catalog) LabelReports(exp *model.ReportExport) {
	for i := range exp.Reports {
		if l, err := c.Level(exp.Reports[i].Level); err == nil {
			exp.Reports[i].LevelLabel = l.Label
		}
	}
}
