package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// SchemaValidator checks raw configuration documents against the CUE
// definition of the file format. It catches unknown keys and wrongly typed
// values before the document is decoded.
type SchemaValidator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewSchemaValidator compiles the built-in configuration schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(configSchema, cue.Filename("pondsync.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}

	def := val.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("config schema has no #Config: %w", err)
	}

	return &SchemaValidator{ctx: ctx, schema: def}, nil
}

// Validate unifies data with the schema. data is a document decoded into
// generic maps.
func (sv *SchemaValidator) Validate(data map[string]any) error {
	// cue.Context is not safe for concurrent use.
	sv.mu.Lock()
	defer sv.mu.Unlock()

	doc := sv.ctx.Encode(data)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	unified := sv.schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Issues: issues(err)}
	}

	return nil
}

func issues(err error) []string {
	errs := cueerrors.Errors(err)
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}

const configSchema = `
#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#Config: {
	farmbot?: {
		url?:      string & =~"^https?://"
		email?:    string
		password?: string
		timeout?:  #Duration
	}

	server?: {
		listen?:           string & !=""
		shutdown_timeout?: #Duration
	}

	ponds?: {
		template_name?:  string & !=""
		pattern?:        string & !=""
		measure_action?: string & !=""
		aggregate_id?:   int & >=0
		aggregate_name?: string
		point_radius?:   number & >0
		point_color?:    string & !=""
	}

	sweep?: {
		enabled?:      bool
		interval?:     #Duration
		fail_fast?:    bool
		run_on_start?: bool
	}

	journal?: {
		enabled?: bool
		path?:    string
	}

	policy?: {
		enabled?:             bool
		template_protection?: bool
		bed_bounds?: {
			enabled?: bool
			min_x?:   number
			max_x?:   number
			min_y?:   number
			max_y?:   number
		}
		paths?: [...string]
	}

	telemetry?: {
		service_name?:    string
		service_version?: string
		environment?:     string
		logging?: {
			level?:         "trace" | "debug" | "info" | "warn" | "error" | "fatal"
			format?:        "console" | "json"
			output?:        string
			enable_caller?: bool
			time_format?:   string
		}
		tracing?: {
			enabled?:        bool
			exporter?:       "otlp" | "stdout" | "none"
			endpoint?:       string
			sampling_rate?:  number & >=0 & <=1
			export_timeout?: #Duration
			headers?: {[string]: string}
			insecure?: bool
		}
		metrics?: {
			enabled?:   bool
			path?:      string & =~"^/"
			namespace?: string
			buckets?: [...number]
		}
	}
}
`
