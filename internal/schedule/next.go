package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule yields the next activation after a given time.
type Schedule struct {
	spec ParsedSpec
	cron cron.Schedule
	loc  *time.Location
}

// Compile parses raw and resolves cron expressions in loc.
func Compile(raw string, loc *time.Location) (Schedule, error) {
	spec, err := ParseSchedule(raw)
	if err != nil {
		return Schedule{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	s := Schedule{spec: spec, loc: loc}
	if spec.Kind == SpecCron {
		c, err := cronParser.Parse(spec.Cron)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid cron %q: %w", spec.Cron, err)
		}
		s.cron = c
	}
	return s, nil
}

// MustCompile is Compile for constant schedules.
func MustCompile(raw string, loc *time.Location) Schedule {
	s, err := Compile(raw, loc)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Schedule) Spec() ParsedSpec { return s.spec }

// Next returns the first activation strictly after now.
func (s Schedule) Next(now time.Time) time.Time {
	if s.cron != nil {
		return s.cron.Next(now.In(s.loc))
	}
	return now.Add(s.spec.Every)
}

func (s Schedule) String() string {
	if s.spec.Kind == SpecCron {
		return "cron:" + s.spec.Cron
	}
	return "every:" + s.spec.Every.String()
}
