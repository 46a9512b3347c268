package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// UpsertTool inserts or replaces a tool registration.
func (s *MetaStore) UpsertTool(t *Tool) error {
	schema, err := marshalJSON(t.InputSchema)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(t.ExtendedMetadata)
	if err != nil {
		return err
	}
	var icon interface{}
	if t.IconName != "" {
		icon = t.IconName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		fmt.Sprintf(`INSERT OR REPLACE INTO %s
			(tool_name, target_persona, description, input_schema, active_hash_ref,
			 is_auto_created, grp, icon_name, extended_metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.t(s.tables.ToolRegistry)),
		t.ToolName, t.TargetPersona, t.Description, schema, t.ActiveHashRef,
		t.IsAutoCreated, t.Group, icon, meta,
	)
	if err != nil {
		return fmt.Errorf("upsert tool %s: %w", t.ToolName, err)
	}
	return nil
}

func (s *MetaStore) scanTool(row interface{ Scan(...interface{}) error }) (*Tool, error) {
	var (
		t            Tool
		schema, meta sql.NullString
		icon         sql.NullString
	)
	err := row.Scan(&t.ToolName, &t.TargetPersona, &t.Description, &schema,
		&t.ActiveHashRef, &t.IsAutoCreated, &t.Group, &icon, &meta)
	if err != nil {
		return nil, err
	}
	if t.InputSchema, err = unmarshalJSON(schema); err != nil {
		return nil, err
	}
	if t.ExtendedMetadata, err = unmarshalJSON(meta); err != nil {
		return nil, err
	}
	t.IconName = icon.String
	return &t, nil
}

const toolColumns = `tool_name, target_persona, description, input_schema,
	active_hash_ref, is_auto_created, grp, icon_name, extended_metadata`

// GetTool fetches the registration for an exact (name, persona) pair.
func (s *MetaStore) GetTool(name, persona string) (*Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM %s WHERE tool_name = ? AND target_persona = ?`,
			toolColumns, s.t(s.tables.ToolRegistry)),
		name, persona,
	)
	t, err := s.scanTool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tool %s for persona %s: %w", name, persona, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tool %s: %w", name, err)
	}
	return t, nil
}

// ListTools returns every tool registered for a persona, name-ordered.
func (s *MetaStore) ListTools(persona string) ([]*Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM %s WHERE target_persona = ? ORDER BY tool_name`,
			toolColumns, s.t(s.tables.ToolRegistry)),
		persona,
	)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	var tools []*Tool
	for rows.Next() {
		t, err := s.scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

// DeleteTool removes a registration. The vault row stays; orphans are
// tolerated.
func (s *MetaStore) DeleteTool(name, persona string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		fmt.Sprintf(`DELETE FROM %s WHERE tool_name = ? AND target_persona = ?`, s.t(s.tables.ToolRegistry)),
		name, persona,
	)
	if err != nil {
		return fmt.Errorf("delete tool %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tool %s for persona %s: %w", name, persona, ErrNotFound)
	}
	return nil
}

// UpdateToolMetadata replaces a tool's extended metadata (the operator
// manual) without touching the rest of the registration.
func (s *MetaStore) UpdateToolMetadata(name, persona string, meta map[string]interface{}) error {
	encoded, err := marshalJSON(meta)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		fmt.Sprintf(`UPDATE %s SET extended_metadata = ? WHERE tool_name = ? AND target_persona = ?`,
			s.t(s.tables.ToolRegistry)),
		encoded, name, persona,
	)
	if err != nil {
		return fmt.Errorf("update tool metadata %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tool %s for persona %s: %w", name, persona, ErrNotFound)
	}
	return nil
}

// UpsertResource inserts or replaces a resource registration. A resource is
// either static or dynamic, so exactly one of StaticContent and
// ActiveHashRef must be set.
func (s *MetaStore) UpsertResource(r *Resource) error {
	if (r.StaticContent == "") == (r.ActiveHashRef == "") {
		return fmt.Errorf("resource %s: exactly one of static_content and active_hash_ref must be set", r.URISchema)
	}
	var static, hashRef interface{}
	if r.StaticContent != "" {
		static = r.StaticContent
	}
	if r.ActiveHashRef != "" {
		hashRef = r.ActiveHashRef
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		fmt.Sprintf(`INSERT OR REPLACE INTO %s
			(uri_schema, name, description, mime_type, is_dynamic, static_content,
			 active_hash_ref, target_persona, grp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.t(s.tables.ResourceRegistry)),
		r.URISchema, r.Name, r.Description, r.MimeType, r.IsDynamic, static,
		hashRef, r.TargetPersona, r.Group,
	)
	if err != nil {
		return fmt.Errorf("upsert resource %s: %w", r.URISchema, err)
	}
	return nil
}

func scanResource(row interface{ Scan(...interface{}) error }) (*Resource, error) {
	var (
		r               Resource
		static, hashRef sql.NullString
	)
	err := row.Scan(&r.URISchema, &r.Name, &r.Description, &r.MimeType,
		&r.IsDynamic, &static, &hashRef, &r.TargetPersona, &r.Group)
	if err != nil {
		return nil, err
	}
	r.StaticContent = static.String
	r.ActiveHashRef = hashRef.String
	return &r, nil
}

const resourceColumns = `uri_schema, name, description, mime_type, is_dynamic,
	static_content, active_hash_ref, target_persona, grp`

// GetResource fetches a resource by its URI, scoped to one persona the same
// way tool resolution is.
func (s *MetaStore) GetResource(uri, persona string) (*Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM %s WHERE uri_schema = ? AND target_persona = ?`,
			resourceColumns, s.t(s.tables.ResourceRegistry)),
		uri, persona,
	)
	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource %s: %w", uri, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get resource %s: %w", uri, err)
	}
	return r, nil
}

// ListResources returns every resource registered for a persona.
func (s *MetaStore) ListResources(persona string) ([]*Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM %s WHERE target_persona = ? ORDER BY uri_schema`,
			resourceColumns, s.t(s.tables.ResourceRegistry)),
		persona,
	)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var out []*Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertPrompt inserts or replaces a prompt registration.
func (s *MetaStore) UpsertPrompt(p *Prompt) error {
	schema, err := marshalJSON(p.ArgumentsSchema)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		fmt.Sprintf(`INSERT OR REPLACE INTO %s
			(name, description, template, arguments_schema, target_persona, grp)
			VALUES (?, ?, ?, ?, ?, ?)`, s.t(s.tables.PromptRegistry)),
		p.Name, p.Description, p.Template, schema, p.TargetPersona, p.Group,
	)
	if err != nil {
		return fmt.Errorf("upsert prompt %s: %w", p.Name, err)
	}
	return nil
}

func scanPrompt(row interface{ Scan(...interface{}) error }) (*Prompt, error) {
	var (
		p      Prompt
		schema sql.NullString
	)
	err := row.Scan(&p.Name, &p.Description, &p.Template, &schema, &p.TargetPersona, &p.Group)
	if err != nil {
		return nil, err
	}
	if p.ArgumentsSchema, err = unmarshalJSON(schema); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPrompt fetches a prompt by name.
func (s *MetaStore) GetPrompt(name string) (*Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(
		fmt.Sprintf(`SELECT name, description, template, arguments_schema, target_persona, grp
			FROM %s WHERE name = ?`, s.t(s.tables.PromptRegistry)),
		name,
	)
	p, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prompt %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt %s: %w", name, err)
	}
	return p, nil
}

// ListPrompts returns every prompt registered for a persona.
func (s *MetaStore) ListPrompts(persona string) ([]*Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT name, description, template, arguments_schema, target_persona, grp
			FROM %s WHERE target_persona = ? ORDER BY name`, s.t(s.tables.PromptRegistry)),
		persona,
	)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	var out []*Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertMacro inserts or replaces a macro and advances the macro generation.
func (s *MetaStore) UpsertMacro(m *Macro) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		fmt.Sprintf(`INSERT OR REPLACE INTO %s (name, description, template, is_active)
			VALUES (?, ?, ?, ?)`, s.t(s.tables.MacroRegistry)),
		m.Name, m.Description, m.Template, m.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upsert macro %s: %w", m.Name, err)
	}
	s.bumpMacroGen()
	return nil
}

// SetMacroActive toggles a macro and advances the macro generation.
func (s *MetaStore) SetMacroActive(name string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		fmt.Sprintf(`UPDATE %s SET is_active = ? WHERE name = ?`, s.t(s.tables.MacroRegistry)),
		active, name,
	)
	if err != nil {
		return fmt.Errorf("set macro active %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("macro %s: %w", name, ErrNotFound)
	}
	s.bumpMacroGen()
	return nil
}

// ActiveMacroTemplates returns the template bodies of all active macros,
// name-ordered for a stable preamble.
func (s *MetaStore) ActiveMacroTemplates() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT template FROM %s WHERE is_active = 1 ORDER BY name`, s.t(s.tables.MacroRegistry)),
	)
	if err != nil {
		return nil, fmt.Errorf("list macros: %w", err)
	}
	defer rows.Close()

	var templates []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan macro: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// UpsertPolicy adds a security policy rule.
func (s *MetaStore) UpsertPolicy(p *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var desc interface{}
	if p.Description != "" {
		desc = p.Description
	}
	_, err := s.db.Exec(
		fmt.Sprintf(`INSERT INTO %s (rule_type, category, pattern, description, is_active)
			VALUES (?, ?, ?, ?, ?)`, s.t(s.tables.SecurityPolicy)),
		p.RuleType, p.Category, p.Pattern, desc, p.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upsert policy %s: %w", p.Pattern, err)
	}
	return nil
}

// ActivePolicies returns all active policy rows.
func (s *MetaStore) ActivePolicies() ([]*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT id, rule_type, category, pattern, description, is_active
			FROM %s WHERE is_active = 1 ORDER BY id`, s.t(s.tables.SecurityPolicy)),
	)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []*Policy
	for rows.Next() {
		var (
			p    Policy
			desc sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.RuleType, &p.Category, &p.Pattern, &desc, &p.IsActive); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		p.Description = desc.String
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ResetCatalog deletes every tool, resource, prompt, macro, and icon
// registration. The vault, execution log, and notebook are kept: hashes stay
// resolvable and history stays auditable.
func (s *MetaStore) ResetCatalog() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, table := range []string{
		s.tables.ToolRegistry, s.tables.ResourceRegistry, s.tables.PromptRegistry,
		s.tables.MacroRegistry, s.tables.IconRegistry,
	} {
		if _, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s`, s.t(table))); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	s.bumpMacroGen()
	return nil
}

// UpsertIcon inserts or replaces an icon.
func (s *MetaStore) UpsertIcon(i *Icon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		fmt.Sprintf(`INSERT OR REPLACE INTO %s (icon_name, mime_type, content) VALUES (?, ?, ?)`,
			s.t(s.tables.IconRegistry)),
		i.IconName, i.MimeType, i.Content,
	)
	if err != nil {
		return fmt.Errorf("upsert icon %s: %w", i.IconName, err)
	}
	return nil
}

// GetIcon fetches an icon by name.
func (s *MetaStore) GetIcon(name string) (*Icon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var i Icon
	err := s.db.QueryRow(
		fmt.Sprintf(`SELECT icon_name, mime_type, content FROM %s WHERE icon_name = ?`, s.t(s.tables.IconRegistry)),
		name,
	).Scan(&i.IconName, &i.MimeType, &i.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("icon %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get icon %s: %w", name, err)
	}
	return &i, nil
}
