// Package catalog loads SLA rules and business calendars from a YAML file and serves
// them through the same interfaces as the Postgres configuration store.
package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/helpdesk-sla/ticket-sla/internal/businesshours"
	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	"github.com/helpdesk-sla/ticket-sla/internal/repository"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

var (
	_ repository.SLARuleRepository       = (*Catalog)(nil)
	_ repository.BusinessHoursRepository = (*Catalog)(nil)
)

// Document is the on-disk layout.
type Document struct {
	Rules     []RuleDoc     `yaml:"rules"`
	Calendars []CalendarDoc `yaml:"calendars"`
}

// RuleDoc is a rule as written in YAML. Active defaults to true.
type RuleDoc struct {
	ID                int64                  `yaml:"id"`
	EntityID          *string                `yaml:"entity_id,omitempty"`
	Name              string                 `yaml:"name"`
	Priority          string                 `yaml:"priority"`
	ResponseHours     *int                   `yaml:"response_hours,omitempty"`
	ResolutionHours   *int                   `yaml:"resolution_hours,omitempty"`
	EscalationHours   *int                   `yaml:"escalation_hours,omitempty"`
	BusinessHoursOnly *bool                  `yaml:"business_hours_only,omitempty"`
	Active            *bool                  `yaml:"active,omitempty"`
	Precedence        int                    `yaml:"precedence"`
	Conditions        []domain.RuleCondition `yaml:"conditions,omitempty"`
}

// CalendarDoc is a calendar as written in YAML.
type CalendarDoc struct {
	EntityID string           `yaml:"entity_id"`
	Timezone string           `yaml:"timezone,omitempty"`
	Windows  []WindowDoc      `yaml:"windows"`
	Holidays []domain.Holiday `yaml:"holidays,omitempty"`
}

// WindowDoc accepts weekday names ("monday", "mon") or numbers (0 = Sunday).
type WindowDoc struct {
	Day    string           `yaml:"day"`
	Start  domain.ClockTime `yaml:"start"`
	End    domain.ClockTime `yaml:"end"`
	Active *bool            `yaml:"active,omitempty"`
}

// Catalog is an in-memory rule catalog and calendar store.
type Catalog struct {
	mu        sync.RWMutex
	rules     []domain.SLARule
	calendars map[string]domain.BusinessHoursCalendar
	nextID    int64
}

// New builds a catalog from already-decoded values.
func New(rules []domain.SLARule, calendars []domain.BusinessHoursCalendar) *Catalog {
	c := &Catalog{calendars: make(map[string]domain.BusinessHoursCalendar)}
	for _, r := range rules {
		c.rules = append(c.rules, r)
		if r.ID > c.nextID {
			c.nextID = r.ID
		}
	}
	for _, cal := range calendars {
		c.calendars[cal.EntityID] = cal
	}
	return c
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML. Rules without an id are numbered in file order.
func Parse(data []byte) (*Catalog, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.NewValidationError("invalid catalog yaml", map[string]any{"error": err.Error()})
	}

	calendars := make([]domain.BusinessHoursCalendar, 0, len(doc.Calendars))
	seen := make(map[string]bool)
	for _, cd := range doc.Calendars {
		cal, err := cd.toDomain()
		if err != nil {
			return nil, err
		}
		if seen[cal.EntityID] {
			return nil, apperrors.NewValidationError("duplicate calendar", map[string]any{"entity_id": cal.EntityID})
		}
		seen[cal.EntityID] = true
		if _, err := businesshours.New(cal, time.UTC); err != nil {
			return nil, err
		}
		calendars = append(calendars, cal)
	}

	rules := make([]domain.SLARule, 0, len(doc.Rules))
	ids := make(map[int64]bool)
	var maxID int64
	for _, rd := range doc.Rules {
		if rd.ID > maxID {
			maxID = rd.ID
		}
	}
	for _, rd := range doc.Rules {
		rule := rd.toDomain()
		if rule.ID == 0 {
			maxID++
			rule.ID = maxID
		}
		if ids[rule.ID] {
			return nil, apperrors.NewValidationError("duplicate rule id", map[string]any{"rule_id": rule.ID})
		}
		ids[rule.ID] = true
		if err := rule.Validate(); err != nil {
			return nil, apperrors.NewValidationError(err.Error(), map[string]any{"rule": rule.Name})
		}
		rules = append(rules, rule)
	}

	return New(rules, calendars), nil
}

func (rd RuleDoc) toDomain() domain.SLARule {
	priority := domain.TicketPriority(strings.ToUpper(strings.TrimSpace(rd.Priority)))
	if priority == "" || priority == "ANY" {
		priority = domain.PriorityDefault
	}
	rule := domain.SLARule{
		ID:                rd.ID,
		EntityID:          rd.EntityID,
		Name:              rd.Name,
		Priority:          priority,
		ResponseHours:     rd.ResponseHours,
		ResolutionHours:   rd.ResolutionHours,
		EscalationHours:   rd.EscalationHours,
		BusinessHoursOnly: true,
		Active:            true,
		Precedence:        rd.Precedence,
		Conditions:        rd.Conditions,
	}
	if rd.BusinessHoursOnly != nil {
		rule.BusinessHoursOnly = *rd.BusinessHoursOnly
	}
	if rd.Active != nil {
		rule.Active = *rd.Active
	}
	return rule
}

func (cd CalendarDoc) toDomain() (domain.BusinessHoursCalendar, error) {
	if cd.EntityID == "" {
		return domain.BusinessHoursCalendar{}, apperrors.NewValidationError("calendar entity_id is required", nil)
	}
	cal := domain.BusinessHoursCalendar{EntityID: cd.EntityID, Timezone: cd.Timezone, Holidays: cd.Holidays}
	for _, wd := range cd.Windows {
		day, err := ParseWeekday(wd.Day)
		if err != nil {
			return domain.BusinessHoursCalendar{}, apperrors.NewValidationError(err.Error(), map[string]any{"entity_id": cd.EntityID})
		}
		active := true
		if wd.Active != nil {
			active = *wd.Active
		}
		cal.Windows = append(cal.Windows, domain.BusinessWindow{Day: day, Start: wd.Start, End: wd.End, Active: active})
	}
	return cal, nil
}

// ParseWeekday accepts full or three-letter English names, or 0-6 with 0 as Sunday.
func ParseWeekday(s string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("weekday %d out of range", n)
		}
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if v == name || v == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func (c *Catalog) ListActiveRules(_ context.Context, entityID string) ([]domain.SLARule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.SLARule
	for _, r := range c.rules {
		if r.Active && (r.EntityID == nil || *r.EntityID == entityID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Catalog) ListAll(_ context.Context) ([]domain.SLARule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := append([]domain.SLARule(nil), c.rules...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Catalog) GetByID(_ context.Context, id int64) (*domain.SLARule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rules {
		if r.ID == id {
			rule := r
			return &rule, nil
		}
	}
	return nil, apperrors.NewNotFound("sla rule", map[string]any{"rule_id": id})
}

func (c *Catalog) Upsert(_ context.Context, rule *domain.SLARule) error {
	if err := rule.Validate(); err != nil {
		return apperrors.NewValidationError(err.Error(), map[string]any{"rule": rule.Name})
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rule.ID == 0 {
		c.nextID++
		rule.ID = c.nextID
	} else if rule.ID > c.nextID {
		c.nextID = rule.ID
	}
	for i := range c.rules {
		if c.rules[i].ID == rule.ID {
			c.rules[i] = *rule
			return nil
		}
	}
	c.rules = append(c.rules, *rule)
	return nil
}

func (c *Catalog) GetCalendar(_ context.Context, entityID string) (*domain.BusinessHoursCalendar, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cal, ok := c.calendars[entityID]
	if !ok {
		return nil, apperrors.NewNotFound("entity", map[string]any{"entity_id": entityID})
	}
	return &cal, nil
}

func (c *Catalog) SaveCalendar(_ context.Context, cal domain.BusinessHoursCalendar) error {
	if cal.EntityID == "" {
		return apperrors.NewValidationError("entity_id is required", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calendars[cal.EntityID] = cal
	return nil
}

// Calendars returns every calendar ordered by entity.
func (c *Catalog) Calendars() []domain.BusinessHoursCalendar {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.BusinessHoursCalendar, 0, len(c.calendars))
	for _, cal := range c.calendars {
		out = append(out, cal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// ImportResult counts what an import wrote.
type ImportResult struct {
	Calendars int
	Rules     int
}

// ImportInto copies the catalog into persistent stores. Calendars go first so rules
// can reference their entities.
func (c *Catalog) ImportInto(ctx context.Context, rules repository.SLARuleRepository, hours repository.BusinessHoursRepository) (ImportResult, error) {
	var res ImportResult
	for _, cal := range c.Calendars() {
		if err := hours.SaveCalendar(ctx, cal); err != nil {
			return res, fmt.Errorf("import calendar %s: %w", cal.EntityID, err)
		}
		res.Calendars++
	}
	all, err := c.ListAll(ctx)
	if err != nil {
		return res, err
	}
	for i := range all {
		if err := rules.Upsert(ctx, &all[i]); err != nil {
			return res, fmt.Errorf("import rule %d: %w", all[i].ID, err)
		}
		res.Rules++
	}
	return res, nil
}
