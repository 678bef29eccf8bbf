package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// Pack is an immutable, validated set of remediation rules, ordered by
// priority then ID. A pack either loads completely or not at all; a file
// with one bad rule changes nothing.
type Pack struct {
	Rules    []models.RemediationRule
	Checksum string
	LoadedAt time.Time
}

// packFile is the YAML root structure.
type packFile struct {
	Rules []ruleDoc `yaml:"rules"`
}

type ruleDoc struct {
	ID            string            `yaml:"id"`
	Priority      int               `yaml:"priority"`
	Enabled       *bool             `yaml:"enabled"`
	Action        string            `yaml:"action"`
	Target        string            `yaml:"target"`
	Params        map[string]string `yaml:"params"`
	Cooldown      time.Duration     `yaml:"cooldown"`
	MinConfidence float64           `yaml:"min_confidence"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Retries       int               `yaml:"retries"`
	When          conditionDoc      `yaml:"when"`
}

type conditionDoc struct {
	All []conditionDoc `yaml:"all"`
	Any []conditionDoc `yaml:"any"`
	Not *conditionDoc  `yaml:"not"`

	Metric  string   `yaml:"metric"`
	Anomaly string   `yaml:"anomaly"`
	Op      string   `yaml:"op"`
	Value   *float64 `yaml:"value"`
}

// LoadPack reads and validates a rule pack from path. Validation problems
// across all rules are reported together so a rule file can be fixed in
// one pass.
func LoadPack(path string) (*Pack, error) {
	if path == "" {
		return nil, fmt.Errorf("rule pack path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule pack: %w", err)
	}

	var file packFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}

	var errs []error
	seen := make(map[string]struct{}, len(file.Rules))
	rules := make([]models.RemediationRule, 0, len(file.Rules))

	for i, doc := range file.Rules {
		label := doc.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}

		if doc.ID == "" {
			errs = append(errs, fmt.Errorf("rule %s: id is required", label))
		} else if _, dup := seen[doc.ID]; dup {
			errs = append(errs, fmt.Errorf("rule %s: duplicate id", label))
		} else {
			seen[doc.ID] = struct{}{}
		}

		action := models.ActionType(doc.Action)
		if !action.Valid() {
			errs = append(errs, fmt.Errorf("rule %s: unknown action %q", label, doc.Action))
		}
		if doc.Target == "" {
			errs = append(errs, fmt.Errorf("rule %s: target is required", label))
		}
		if doc.Cooldown < 0 {
			errs = append(errs, fmt.Errorf("rule %s: cooldown must not be negative", label))
		}
		if doc.MinConfidence < 0 || doc.MinConfidence > 1 {
			errs = append(errs, fmt.Errorf("rule %s: min_confidence must be in [0, 1]", label))
		}
		if doc.MaxConcurrent < 0 {
			errs = append(errs, fmt.Errorf("rule %s: max_concurrent must not be negative", label))
		}
		if doc.Retries < 0 {
			errs = append(errs, fmt.Errorf("rule %s: retries must not be negative", label))
		}
		if condErrs := validateCondition(doc.When, label, "when"); len(condErrs) > 0 {
			errs = append(errs, condErrs...)
		}

		rules = append(rules, toRule(doc))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid rule pack %s: %w", path, errors.Join(errs...))
	}

	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})

	sum := sha256.Sum256(data)
	return &Pack{
		Rules:    rules,
		Checksum: hex.EncodeToString(sum[:])[:12],
		LoadedAt: time.Now().UTC(),
	}, nil
}

func toRule(doc ruleDoc) models.RemediationRule {
	enabled := true
	if doc.Enabled != nil {
		enabled = *doc.Enabled
	}
	maxConcurrent := doc.MaxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = 1
	}
	return models.RemediationRule{
		ID:            doc.ID,
		Priority:      doc.Priority,
		Enabled:       enabled,
		Action:        models.ActionType(doc.Action),
		Target:        doc.Target,
		Params:        doc.Params,
		Cooldown:      doc.Cooldown,
		MinConfidence: doc.MinConfidence,
		MaxConcurrent: maxConcurrent,
		Retries:       doc.Retries,
		When:          toCondition(doc.When),
	}
}

func toCondition(doc conditionDoc) models.Condition {
	cond := models.Condition{
		Metric:  doc.Metric,
		Anomaly: doc.Anomaly,
		Op:      doc.Op,
	}
	if doc.Value != nil {
		cond.Value = *doc.Value
	}
	for _, child := range doc.All {
		cond.All = append(cond.All, toCondition(child))
	}
	for _, child := range doc.Any {
		cond.Any = append(cond.Any, toCondition(child))
	}
	if doc.Not != nil {
		not := toCondition(*doc.Not)
		cond.Not = &not
	}
	return cond
}

func validateCondition(doc conditionDoc, rule, path string) []error {
	var errs []error

	branches := 0
	if len(doc.All) > 0 {
		branches++
	}
	if len(doc.Any) > 0 {
		branches++
	}
	if doc.Not != nil {
		branches++
	}
	leaf := doc.Metric != "" || doc.Anomaly != "" || doc.Op != "" || doc.Value != nil
	if leaf {
		branches++
	}

	switch {
	case branches == 0:
		return []error{fmt.Errorf("rule %s: %s: empty condition", rule, path)}
	case branches > 1:
		return []error{fmt.Errorf("rule %s: %s: condition must be exactly one of all, any, not, or a comparison", rule, path)}
	}

	switch {
	case len(doc.All) > 0:
		for i, child := range doc.All {
			errs = append(errs, validateCondition(child, rule, fmt.Sprintf("%s.all[%d]", path, i))...)
		}
	case len(doc.Any) > 0:
		for i, child := range doc.Any {
			errs = append(errs, validateCondition(child, rule, fmt.Sprintf("%s.any[%d]", path, i))...)
		}
	case doc.Not != nil:
		errs = append(errs, validateCondition(*doc.Not, rule, path+".not")...)
	default:
		if doc.Metric != "" && doc.Anomaly != "" {
			errs = append(errs, fmt.Errorf("rule %s: %s: comparison cannot name both metric and anomaly", rule, path))
		}
		if doc.Metric == "" && doc.Anomaly == "" {
			errs = append(errs, fmt.Errorf("rule %s: %s: comparison needs a metric or anomaly field", rule, path))
		}
		switch doc.Op {
		case models.OpGT, models.OpGTE, models.OpLT, models.OpLTE, models.OpEQ, models.OpNE:
		case "":
			errs = append(errs, fmt.Errorf("rule %s: %s: comparison op is required", rule, path))
		default:
			errs = append(errs, fmt.Errorf("rule %s: %s: unknown op %q", rule, path, doc.Op))
		}
		if doc.Anomaly != "" {
			switch doc.Anomaly {
			case models.AnomalyFieldScore, models.AnomalyFieldConfidence, models.AnomalyFieldIsAnomaly:
			default:
				errs = append(errs, fmt.Errorf("rule %s: %s: unknown anomaly field %q", rule, path, doc.Anomaly))
			}
		}
		if doc.Value == nil {
			errs = append(errs, fmt.Errorf("rule %s: %s: comparison value is required", rule, path))
		}
	}

	return errs
}
