package fleetfile

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/gammadia/warden/fleet"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

type ReadOptions struct {
	// Params are exposed to the fleetfile template as {{ .Params }}
	Params map[string]string
}

type UnmarshalError struct {
	error
	Source string
}

// Fleet is a parsed fleet definition. It serves as the controller's template
// source.
type Fleet struct {
	MaxInstances int
	Templates    []*fleet.Template
}

var _ fleet.TemplateSource = (*Fleet)(nil)

func (f *Fleet) TemplateForLabel(label string) *fleet.Template {
	template, _ := lo.Find(f.Templates, func(t *fleet.Template) bool {
		return t.Label == label
	})
	return template
}

func (f *Fleet) Labels() []string {
	return lo.Map(f.Templates, func(t *fleet.Template, _ int) string { return t.Label })
}

// Read loads, templates, parses and validates a fleetfile.
func Read(file string, options ReadOptions) (*Fleet, error) {
	buf, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	source, err := evaluateTemplate(string(buf), options)
	if err != nil {
		return nil, fmt.Errorf("evaluate template: %w", err)
	}

	var fleetfile Fleetfile
	if err = yaml.Unmarshal([]byte(source), &fleetfile); err != nil {
		return nil, UnmarshalError{fmt.Errorf("unmarshal: %w", err), source}
	}
	if err = fleetfile.Validate(); err != nil {
		return nil, UnmarshalError{fmt.Errorf("validate: %w", err), source}
	}

	return &Fleet{
		MaxInstances: fleetfile.MaxInstances,
		Templates: lo.Map(fleetfile.Templates, func(t FleetfileTemplate, _ int) *fleet.Template {
			return &fleet.Template{
				Name:            t.Name,
				Label:           t.Label,
				Image:           t.Image,
				Flavor:          t.Flavor,
				Executors:       t.Executors,
				InstanceCap:     t.InstanceCap,
				PrimedInstances: t.PrimedInstances,
				PrimedWindows: lo.Map(t.PrimedWindows, func(w FleetfileWindow, _ int) fleet.PrimedWindow {
					return fleet.PrimedWindow{
						Start: w.Start,
						End:   w.End,
						Days: lo.Map(w.Days, func(day string, _ int) time.Weekday {
							return weekdays[day]
						}),
					}
				}),
				IdleTermination: parseIdleTermination(t.IdleTermination),
			}
		}),
	}, nil
}

// parseIdleTermination assumes Validate has accepted the value; the empty
// string stands for "never terminate".
func parseIdleTermination(value string) time.Duration {
	if value == "" {
		return 0
	}
	return lo.Must(time.ParseDuration(value))
}

type TemplateData struct {
	Env    map[string]string
	Params map[string]string
}

func evaluateTemplate(source string, options ReadOptions) (string, error) {
	tmpl, err := template.New("fleetfile").Funcs(template.FuncMap{
		"base64": func(s string) string {
			return base64.StdEncoding.EncodeToString([]byte(s))
		},
		"env": func(key string) string {
			return os.Getenv(key)
		},
		"json": func(v any) (string, error) {
			buf, err := json.Marshal(v)
			return string(buf), err
		},
		"lines": func(s string) []string {
			return strings.Split(s, "\n")
		},
		"split": func(sep string, s string) []string {
			return strings.Split(s, sep)
		},
	}).Parse(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	data := TemplateData{
		Env:    lo.SliceToMap(os.Environ(), func(env string) (key, val string) { key, val, _ = strings.Cut(env, "="); return }),
		Params: options.Params,
	}

	var output strings.Builder
	if err := tmpl.Execute(&output, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return output.String(), nil
}
