package resolver

import (
	"strconv"
	"strings"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// ResolveStep rewrites every template field of step in place: URL, headers
// (keys and values), body, connection string, query text, stored-procedure
// name and parameters, host, remote/local paths, and every authentication
// field — per the resolution-order rule, applied uniformly regardless of
// variant. All unresolved names across every field are collected into one
// UnresolvedError.
func (r *Resolver) ResolveStep(s *domain.Step) error {
	var missing []string
	collect := func(err error) {
		if err == nil {
			return
		}
		var ue *UnresolvedError
		if asUnresolvedError(err, &ue) {
			missing = append(missing, ue.Names...)
		}
	}

	if s.Condition != "" {
		collect(r.ResolveAll([]*string{&s.Condition}))
	}

	switch s.Kind {
	case domain.StepHTTP:
		collect(r.resolveHTTP(s.Http))
	case domain.StepDatabase:
		collect(r.resolveDatabase(s.Database))
	case domain.StepFile:
		collect(r.resolveFile(s.File))
	case domain.StepSftp:
		collect(r.resolveSftp(s.Sftp))
	}

	if len(missing) > 0 {
		return &UnresolvedError{Names: missing}
	}
	return nil
}

func (r *Resolver) resolveHTTP(h *domain.HTTPStep) error {
	fields := []*string{&h.URL, &h.Body}
	if err := r.ResolveAll(fields); err != nil {
		return err
	}
	if err := r.resolveMapKeysAndValues(h.Headers); err != nil {
		return err
	}
	if h.Auth == nil {
		return nil
	}
	return r.ResolveAll([]*string{
		&h.Auth.Username, &h.Auth.Password, &h.Auth.Token,
		&h.Auth.TokenURL, &h.Auth.ClientID, &h.Auth.ClientSecret, &h.Auth.Scope,
	})
}

func (r *Resolver) resolveDatabase(d *domain.DatabaseStep) error {
	var missing []string

	if err := r.ResolveAll([]*string{&d.ConnectionString, &d.ProcedureName}); err != nil {
		collectNames(err, &missing)
	}

	// Query is handled separately from the uniform string-substitution
	// path above: a raw SQL query must never have a resolved reference
	// interpolated directly into its text (the step runner is required to
	// execute against parameters, not an injected string), so its
	// references are rewritten into the target engine's placeholder
	// syntax and carried as QueryArgs instead.
	if d.QueryKind == domain.QueryRawSQL && d.Query != "" {
		query, args, err := r.resolveParameterizedQuery(d.Query, d.Engine)
		if err != nil {
			collectNames(err, &missing)
		} else {
			d.Query = query
			d.QueryArgs = args
		}
	}

	if err := r.resolveMapKeysAndValues(d.ProcedureParams); err != nil {
		collectNames(err, &missing)
	}

	if len(missing) > 0 {
		return &UnresolvedError{Names: missing}
	}
	return nil
}

// resolveParameterizedQuery rewrites every `${...}` reference in a raw SQL
// query into the target engine's native placeholder (`$1, $2, ...` for
// Postgres, `?` for MySQL), returning the ordered bound values alongside
// the rewritten text. Everything outside a `${...}` span is left untouched,
// so hand-written SQL the job author didn't template is never rewritten.
func (r *Resolver) resolveParameterizedQuery(query string, engine domain.DBEngine) (string, []string, error) {
	var missing []string
	var args []string

	out := refPattern.ReplaceAllStringFunc(query, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		value, ok := r.lookup(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		args = append(args, value)
		if engine == domain.DBMySQL {
			return "?"
		}
		return "$" + strconv.Itoa(len(args))
	})

	if len(missing) > 0 {
		return "", nil, &UnresolvedError{Names: missing}
	}
	return out, args, nil
}

func (r *Resolver) resolveFile(f *domain.FileStep) error {
	return r.ResolveAll([]*string{&f.SourcePath, &f.DestPath, &f.Delimiter, &f.SheetName})
}

func (r *Resolver) resolveSftp(s *domain.SftpStep) error {
	if err := r.ResolveAll([]*string{
		&s.Host, &s.RemotePath, &s.LocalPath,
		&s.Auth.Username, &s.Auth.Password, &s.Auth.KeyPath, &s.Auth.KeyPass,
		&s.Options.Wildcard,
	}); err != nil {
		return err
	}
	return nil
}

// resolveMapKeysAndValues rewrites both keys and values of m in place. Go
// maps can't be mutated by key in place, so a resolved copy replaces the
// original contents.
func (r *Resolver) resolveMapKeysAndValues(m map[string]string) error {
	if m == nil {
		return nil
	}
	var missing []string
	resolved := make(map[string]string, len(m))
	for k, v := range m {
		rk, err := r.ResolveString(k)
		if err != nil {
			collectNames(err, &missing)
			rk = k
		}
		rv, err := r.ResolveString(v)
		if err != nil {
			collectNames(err, &missing)
			rv = v
		}
		resolved[rk] = rv
	}
	for k := range m {
		delete(m, k)
	}
	for k, v := range resolved {
		m[k] = v
	}
	if len(missing) > 0 {
		return &UnresolvedError{Names: missing}
	}
	return nil
}

func collectNames(err error, into *[]string) {
	var ue *UnresolvedError
	if asUnresolvedError(err, &ue) {
		*into = append(*into, ue.Names...)
	}
}
