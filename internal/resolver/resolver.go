// Package resolver implements the `${...}` reference substitution engine
// that rewrites every string field of a step configuration immediately
// before dispatch to its runner.
package resolver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// UnresolvedError lists every placeholder name the resolver could not
// satisfy. A step fails resolution as soon as one is produced.
type UnresolvedError struct {
	Names []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved references: %s", strings.Join(e.Names, ", "))
}

var refPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Resolver substitutes placeholders against one execution's merged
// variable set and Job Context. It never re-expands a substituted value —
// single-pass, non-recursive, by design, so a value containing `${...}`
// cannot inject a further reference into a trusted field.
type Resolver struct {
	ctx       *domain.JobContext
	variables map[string]string
}

// New builds a Resolver over the execution's Context and its pre-merged
// variable map (job-scoped entries must already have overridden globals of
// the same name — see internal/repository.VariableRepository.Resolve).
func New(jc *domain.JobContext, variables map[string]string) *Resolver {
	return &Resolver{ctx: jc, variables: variables}
}

// ResolveString rewrites every `${...}` placeholder in s. Unresolved names
// are collected rather than failing fast, so a single error can report
// every missing reference in one field.
func (r *Resolver) ResolveString(s string) (string, error) {
	var missing []string

	out := refPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		value, ok := r.lookup(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})

	if len(missing) > 0 {
		return "", &UnresolvedError{Names: missing}
	}
	return out, nil
}

// ResolveAll rewrites every string in fields, in order, accumulating all
// unresolved names across every field into a single error.
func (r *Resolver) ResolveAll(fields []*string) error {
	var missing []string
	for _, f := range fields {
		if f == nil {
			continue
		}
		resolved, err := r.ResolveString(*f)
		if err != nil {
			var ue *UnresolvedError
			if asUnresolvedError(err, &ue) {
				missing = append(missing, ue.Names...)
				continue
			}
			return err
		}
		*f = resolved
	}
	if len(missing) > 0 {
		return &UnresolvedError{Names: missing}
	}
	return nil
}

func asUnresolvedError(err error, target **UnresolvedError) bool {
	ue, ok := err.(*UnresolvedError)
	if !ok {
		return false
	}
	*target = ue
	return true
}

func (r *Resolver) lookup(name string) (string, bool) {
	switch {
	case strings.HasPrefix(name, "steps."):
		return r.lookupStepOutput(strings.TrimPrefix(name, "steps."))
	case strings.HasPrefix(name, "webhook.payload."):
		return r.lookupWebhookPayload(strings.TrimPrefix(name, "webhook.payload."))
	case strings.HasPrefix(name, "webhook.query."):
		return r.lookupWebhookMap(r.webhookQuery(), strings.TrimPrefix(name, "webhook.query."))
	case strings.HasPrefix(name, "webhook.headers."):
		return r.lookupWebhookMap(r.webhookHeaders(), strings.TrimPrefix(name, "webhook.headers."))
	case strings.HasPrefix(name, "files["):
		return r.lookupFileMetadata(name)
	default:
		v, ok := r.variables[name]
		return v, ok
	}
}

// lookupStepOutput navigates `<step_id>.<field_path>` into the stored
// StepOutput's opaque Output structure.
func (r *Resolver) lookupStepOutput(rest string) (string, bool) {
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	stepID, fieldPath := parts[0], parts[1]

	out, ok := r.ctx.Steps[stepID]
	if !ok {
		return "", false
	}
	return navigate(out.Output, strings.Split(fieldPath, "."))
}

func (r *Resolver) lookupWebhookPayload(field string) (string, bool) {
	if r.ctx.Webhook == nil || r.ctx.Webhook.Payload == nil {
		return "", false
	}
	return navigate(r.ctx.Webhook.Payload, strings.Split(field, "."))
}

func (r *Resolver) webhookQuery() map[string]string {
	if r.ctx.Webhook == nil {
		return nil
	}
	return r.ctx.Webhook.Query
}

func (r *Resolver) webhookHeaders() map[string]string {
	if r.ctx.Webhook == nil {
		return nil
	}
	return r.ctx.Webhook.Headers
}

func (r *Resolver) lookupWebhookMap(m map[string]string, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	return v, ok
}

// lookupFileMetadata resolves `files[<index>].<field>`.
func (r *Resolver) lookupFileMetadata(name string) (string, bool) {
	open := strings.Index(name, "[")
	close := strings.Index(name, "]")
	if open < 0 || close < 0 || close < open {
		return "", false
	}
	idx, err := strconv.Atoi(name[open+1 : close])
	if err != nil || idx < 0 || idx >= len(r.ctx.Files) {
		return "", false
	}
	field := strings.TrimPrefix(name[close+1:], ".")

	fm := r.ctx.Files[idx]
	switch field {
	case "blobPath":
		return fm.BlobPath, true
	case "filename":
		return fm.Filename, true
	case "size":
		return strconv.FormatInt(fm.Size, 10), true
	case "mimeType":
		return fm.MimeType, true
	case "rowCount":
		if fm.RowCount == nil {
			return "", false
		}
		return strconv.FormatInt(*fm.RowCount, 10), true
	default:
		return "", false
	}
}

// navigate walks a decoded JSON value (map[string]any / []any / scalars)
// along a dotted path and renders the leaf as a string.
func navigate(v any, path []string) (string, bool) {
	cur := v
	for _, segment := range path {
		if idx, err := strconv.Atoi(segment); err == nil {
			arr, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return "", false
			}
			cur = arr[idx]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = m[segment]
		if !ok {
			return "", false
		}
	}
	return stringify(cur), cur != nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
